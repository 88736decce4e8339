package colorproc

import (
	"sync"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/pipeline"
)

// Q16 fixed-point ITU-R BT.601 full-range (JPEG) RGB->YCbCr coefficients.
const (
	coeffShift = 16
	yR, yG, yB = 19595, 38470, 7471       // 0.299, 0.587, 0.114
	cbR, cbG, cbB = -11059, -21709, 32768 // -0.168736, -0.331264, 0.5
	crR, crG, crB = 32768, -27439, -5329  // 0.5, -0.418688, -0.081312
)

func clampByte(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func rgbToY(r, g, b int32) byte {
	return clampByte((yR*r + yG*g + yB*b) >> coeffShift)
}

func rgbToCb(r, g, b int32) byte {
	return clampByte(((cbR*r+cbG*g+cbB*b)>>coeffShift)+128)
}

func rgbToCr(r, g, b int32) byte {
	return clampByte(((crR*r+crG*g+crB*b)>>coeffShift)+128)
}

// ColorspaceStage converts packed BGR/BGRA frames to YCbCr-4:2:0
// JPEG-planar, rewriting each TagVideoInfo's Format field and
// reconverting every TagVideo payload that follows it. It does not
// resize; a Stage from this package run earlier in the pipeline handles
// that.
type ColorspaceStage struct {
	pipeline.NopStage

	mu      sync.RWMutex
	streams map[uint32]envelope.VideoInfo
}

func NewColorspaceStage() *ColorspaceStage {
	return &ColorspaceStage{streams: make(map[uint32]envelope.VideoInfo)}
}

func (c *ColorspaceStage) Name() string { return "colorspace" }

func (c *ColorspaceStage) OnHeader(st *pipeline.State) {
	switch st.Tag {
	case envelope.TagVideoInfo:
		st.WriteSize = envelope.VideoInfoSize
	case envelope.TagVideo:
		st.Flags |= pipeline.FlagUnknownFinalSize
		// Worst case: YCbCr-4:2:0 planar never exceeds the BGRA size of
		// the same picture, so reserving the input size is always safe.
		st.WriteSize = st.ReadSize
	default:
		st.Flags |= pipeline.FlagCopy
	}
}

func (c *ColorspaceStage) OnRead(st *pipeline.State) {
	switch st.Tag {
	case envelope.TagVideoInfo:
		info, err := envelope.UnmarshalVideoInfo(st.ReadData)
		if err != nil || info.Format == envelope.PixelYCbCr {
			st.Flags |= pipeline.FlagCopy
			return
		}
		c.mu.Lock()
		c.streams[info.ID] = info
		c.mu.Unlock()

		out := info
		out.Format = envelope.PixelYCbCr
		st.WorkerData = out

	case envelope.TagVideo:
		hdr, err := envelope.UnmarshalVideoData(st.ReadData)
		if err != nil {
			st.Flags |= pipeline.FlagCopy
			return
		}
		c.mu.RLock()
		info, ok := c.streams[hdr.ID]
		c.mu.RUnlock()
		if !ok {
			st.Flags |= pipeline.FlagCopy
			return
		}
		st.WorkerData = colorspaceJob{hdr: hdr, info: info, src: st.ReadData[envelope.VideoDataSize:]}
	}
}

type colorspaceJob struct {
	hdr  envelope.VideoData
	info envelope.VideoInfo
	src  []byte
}

func (c *ColorspaceStage) OnWrite(st *pipeline.State) {
	if info, ok := st.WorkerData.(envelope.VideoInfo); ok {
		info.Marshal(st.WriteData)
		return
	}
	job, ok := st.WorkerData.(colorspaceJob)
	if !ok {
		return
	}

	w, h := int(job.info.Width), int(job.info.Height)
	bpp := 3
	if job.info.Format == envelope.PixelBGRA {
		bpp = 4
	}

	job.hdr.Marshal(st.WriteData[:envelope.VideoDataSize])
	dst := st.WriteData[envelope.VideoDataSize:]

	cw, ch := w/2, h/2
	ySize := w * h
	cSize := cw * ch
	yPlane := dst[:ySize]
	cbPlane := dst[ySize : ySize+cSize]
	crPlane := dst[ySize+cSize : ySize+2*cSize]

	convertBGRToYCbCr420(job.src, w, h, bpp, yPlane, cbPlane, crPlane, cw)

	st.WriteData = st.WriteData[:envelope.VideoDataSize+ySize+2*cSize]
}

// convertBGRToYCbCr420 walks the source picture in 2x2 blocks, writing
// one luma sample per source pixel and one chroma pair per block,
// derived from the average of the block's four source pixels rather
// than from the already-rounded luma samples.
func convertBGRToYCbCr420(src []byte, w, h, bpp int, yPlane, cbPlane, crPlane []byte, cw int) {
	stride := w * bpp
	for by := 0; by < h; by += 2 {
		for bx := 0; bx < w; bx += 2 {
			var sumR, sumG, sumB int32
			n := int32(0)
			for dy := 0; dy < 2 && by+dy < h; dy++ {
				for dx := 0; dx < 2 && bx+dx < w; dx++ {
					off := (by+dy)*stride + (bx+dx)*bpp
					b, g, r := int32(src[off]), int32(src[off+1]), int32(src[off+2])
					yPlane[(by+dy)*w+bx+dx] = rgbToY(r, g, b)
					sumR += r
					sumG += g
					sumB += b
					n++
				}
			}
			if n == 0 {
				continue
			}
			avgR, avgG, avgB := sumR/n, sumG/n, sumB/n
			ci := (by/2)*cw + bx/2
			if ci < len(cbPlane) {
				cbPlane[ci] = rgbToCb(avgR, avgG, avgB)
				crPlane[ci] = rgbToCr(avgR, avgG, avgB)
			}
		}
	}
}
