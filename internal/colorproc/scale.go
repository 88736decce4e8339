// Package colorproc implements the scale, colorspace, and color-correct
// pipeline stages: BGRA/BGR <-> YCbCr-4:2:0-JPEG-planar conversion,
// integer bilinear resize, and gamma/brightness/contrast lookup tables.
package colorproc

import (
	"sync"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/pipeline"
)

// axisTap is one output pixel's entry in an axisTable, the precomputed
// 1-D resampling table: the source offset and weight of each of its
// contributing input pixels.
type axisTap struct {
	off    [2]int
	weight [2]uint32 // Q10 fixed point, weight[0]+weight[1] == 1<<10
}

type axisTable []axisTap

// buildAxisTable builds a 1-D integer bilinear resampling table mapping
// `out` output samples to `in` input samples: output sample i is centred
// at (i+0.5)*in/out in the source, and a tap that would fall past the
// last input sample is clamped to in-1.
func buildAxisTable(in, out int) axisTable {
	if out <= 0 {
		return nil
	}
	if in <= 1 || out == in {
		t := make(axisTable, out)
		for i := range t {
			o := i
			if o > in-1 {
				o = in - 1
			}
			t[i] = axisTap{off: [2]int{o, o}, weight: [2]uint32{1 << 10, 0}}
		}
		return t
	}

	t := make(axisTable, out)
	scale := float64(in) / float64(out)
	for i := range t {
		srcPos := (float64(i) + 0.5) * scale
		lo := int(srcPos - 0.5)
		if lo < 0 {
			lo = 0
		}
		hi := lo + 1
		if hi > in-1 {
			hi = in - 1
			lo = hi
		}
		frac := srcPos - 0.5 - float64(lo)
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		w1 := uint32(frac * (1 << 10))
		w0 := uint32(1<<10) - w1
		t[i] = axisTap{off: [2]int{lo, hi}, weight: [2]uint32{w0, w1}}
	}
	return t
}

// planeTables holds the precomputed horizontal+vertical resampling tables
// for one plane (luma, or a shared table reused for chroma).
type planeTables struct {
	width, height   int // output size this table was built for
	srcW, srcH      int // input size this table was built for
	hx, vy          axisTable
}

func (p *planeTables) matches(srcW, srcH, dstW, dstH int) bool {
	return p != nil && p.srcW == srcW && p.srcH == srcH && p.width == dstW && p.height == dstH
}

func buildPlaneTables(srcW, srcH, dstW, dstH int) *planeTables {
	return &planeTables{
		width: dstW, height: dstH,
		srcW: srcW, srcH: srcH,
		hx: buildAxisTable(srcW, dstW),
		vy: buildAxisTable(srcH, dstH),
	}
}

// streamScaleState is the per-video-id scale plan, rebuilt when the
// stream's dimensions change.
type streamScaleState struct {
	info   envelope.VideoInfo
	factor float64 // Stage.Factor when this plan was built; unused when targetW/targetH are set
	targetW, targetH int

	outW, outH int // final canvas size written to the output envelope
	luma       *planeTables
	chroma     *planeTables // only used for YCbCr

	// letterboxed is true when outW/outH (the fixed target canvas) does
	// not match the content's aspect-preserving scaled size; contentW/H
	// and offX/Y describe where the scaled picture lands inside the
	// canvas, with the border cleared by the caller.
	letterboxed    bool
	contentW, contentH int
	offX, offY     int
}

// Stage implements pipeline.Stage for the scale component: one integer
// bilinear resize via axisTable for every factor and letterbox target.
// An exact half-size resize averages each 2x2 source block, since every
// tap then falls halfway between two source samples. The pixel format is
// kept as it comes in: a BGRA frame stays BGRA (there is no BGRA->BGR
// pack).
type Stage struct {
	pipeline.NopStage

	mu      sync.RWMutex
	streams map[uint32]*streamScaleState

	// Factor is the scale factor applied when no absolute target size is
	// configured. 1.0 means pass-through.
	Factor float64
	// TargetW/TargetH, if non-zero, override Factor: the picture is
	// scaled preserving aspect and centered on a letterbox of this size.
	TargetW, TargetH int
}

// NewStage creates a scale Stage. factor is ignored if targetW/targetH
// are both non-zero.
func NewStage(factor float64, targetW, targetH int) *Stage {
	return &Stage{
		streams: make(map[uint32]*streamScaleState),
		Factor:  factor,
		TargetW: targetW,
		TargetH: targetH,
	}
}

func (s *Stage) Name() string { return "scale" }

func (s *Stage) stateFor(id uint32) *streamScaleState {
	s.mu.RLock()
	st := s.streams[id]
	s.mu.RUnlock()
	return st
}

// planFor (re)computes the scale plan for a video-format change, deciding
// the output size either from Factor or from the TargetW/TargetH
// letterbox, and rebuilding the luma/chroma resampling tables.
func (s *Stage) planFor(info envelope.VideoInfo) *streamScaleState {
	st := &streamScaleState{info: info, factor: s.Factor, targetW: s.TargetW, targetH: s.TargetH}

	srcW, srcH := int(info.Width), int(info.Height)
	contentW, contentH := srcW, srcH

	if s.TargetW > 0 && s.TargetH > 0 {
		st.outW, st.outH = s.TargetW, s.TargetH

		scale := float64(s.TargetW) / float64(srcW)
		if h := float64(s.TargetH) / float64(srcH); h < scale {
			scale = h
		}
		contentW = maxInt(1, int(float64(srcW)*scale+0.5))
		contentH = maxInt(1, int(float64(srcH)*scale+0.5))
		if contentW != s.TargetW || contentH != s.TargetH {
			st.letterboxed = true
		}
		// Even-align so the chroma planes of a YCbCr frame center cleanly.
		contentW &^= 1
		contentH &^= 1
		st.offX = (s.TargetW - contentW) / 2
		st.offY = (s.TargetH - contentH) / 2
	} else {
		factor := s.Factor
		if factor <= 0 {
			factor = 1
		}
		contentW = maxInt(1, int(float64(srcW)*factor+0.5))
		contentH = maxInt(1, int(float64(srcH)*factor+0.5))
		st.outW, st.outH = contentW, contentH
	}
	st.contentW, st.contentH = contentW, contentH

	st.luma = buildPlaneTables(srcW, srcH, contentW, contentH)
	if info.Format == envelope.PixelYCbCr {
		st.chroma = buildPlaneTables(srcW/2, srcH/2, contentW/2, contentH/2)
	}

	s.mu.Lock()
	s.streams[info.ID] = st
	s.mu.Unlock()
	return st
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
