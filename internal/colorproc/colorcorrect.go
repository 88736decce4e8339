package colorproc

import (
	"math"
	"sync"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/pipeline"
)

// yLookupBits is the input bit depth each channelLUT is built for; 8-bit
// BGR(A)/luma samples index it directly with no scaling.
const yLookupBits = 8

// channelLUT is a 2^yLookupBits-entry brightness/contrast/gamma lookup
// table for one color channel.
type channelLUT [1 << yLookupBits]byte

func buildChannelLUT(brightness, contrast, gamma float32) channelLUT {
	var lut channelLUT
	invGamma := 1.0
	if gamma > 0 {
		invGamma = 1.0 / float64(gamma)
	}
	for i := range lut {
		v := float64(i) / float64(len(lut)-1)
		v = (v - 0.5) * (1 + float64(contrast)) + 0.5 + float64(brightness)
		if v < 0 {
			v = 0
		}
		v = math.Pow(v, invGamma)
		lut[i] = clampByte(int32(v*float64(len(lut)-1) + 0.5))
	}
	return lut
}

// colorTables holds the per-stream correction state: the three BGR(A)
// channel LUTs, and one 1-D luma LUT applied to the Y plane of a YCbCr
// frame (no 3-D YCbCr lookup cube is built; chroma is left untouched since the spec's brightness,
// contrast, and per-channel RGB gamma parameters have no lossless YCbCr
// equivalent for Cb/Cr).
type colorTables struct {
	identity bool
	blue, green, red channelLUT
	luma             channelLUT
}

func buildColorTables(c envelope.Color) *colorTables {
	if c.Identity() {
		return &colorTables{identity: true}
	}
	return &colorTables{
		blue:  buildChannelLUT(c.Brightness, c.Contrast, c.BlueGamma),
		green: buildChannelLUT(c.Brightness, c.Contrast, c.GreenGamma),
		red:   buildChannelLUT(c.Brightness, c.Contrast, c.RedGamma),
		luma:  buildChannelLUT(c.Brightness, c.Contrast, (c.RedGamma+c.GreenGamma+c.BlueGamma)/3),
	}
}

// ColorCorrectStage applies per-stream brightness/contrast/gamma
// correction in place, driven by TagColor control envelopes. The hot
// path (OnRead on a TagVideo frame) only takes a read lock; rebuilding
// the LUTs on a new TagColor message takes the write lock.
type ColorCorrectStage struct {
	pipeline.NopStage

	mu     sync.RWMutex
	tables map[uint32]*colorTables
	info   map[uint32]envelope.VideoInfo
}

func NewColorCorrectStage() *ColorCorrectStage {
	return &ColorCorrectStage{
		tables: make(map[uint32]*colorTables),
		info:   make(map[uint32]envelope.VideoInfo),
	}
}

func (c *ColorCorrectStage) Name() string { return "colorcorrect" }

func (c *ColorCorrectStage) OnHeader(st *pipeline.State) {
	st.Flags |= pipeline.FlagCopy
}

func (c *ColorCorrectStage) OnRead(st *pipeline.State) {
	switch st.Tag {
	case envelope.TagVideoInfo:
		info, err := envelope.UnmarshalVideoInfo(st.ReadData)
		if err == nil {
			c.mu.Lock()
			c.info[info.ID] = info
			c.mu.Unlock()
		}

	case envelope.TagColor:
		color, err := envelope.UnmarshalColor(st.ReadData)
		if err != nil {
			return
		}
		tables := buildColorTables(color)
		c.mu.Lock()
		c.tables[color.ID] = tables
		c.mu.Unlock()

	case envelope.TagVideo:
		hdr, err := envelope.UnmarshalVideoData(st.ReadData)
		if err != nil {
			return
		}
		c.mu.RLock()
		tables := c.tables[hdr.ID]
		info := c.info[hdr.ID]
		c.mu.RUnlock()
		if tables == nil || tables.identity {
			return
		}
		applyColorCorrect(st.ReadData[envelope.VideoDataSize:], info, tables)
	}
}

func applyColorCorrect(pix []byte, info envelope.VideoInfo, t *colorTables) {
	switch info.Format {
	case envelope.PixelBGR:
		for i := 0; i+2 < len(pix); i += 3 {
			pix[i] = t.blue[pix[i]]
			pix[i+1] = t.green[pix[i+1]]
			pix[i+2] = t.red[pix[i+2]]
		}
	case envelope.PixelBGRA:
		for i := 0; i+3 < len(pix); i += 4 {
			pix[i] = t.blue[pix[i]]
			pix[i+1] = t.green[pix[i+1]]
			pix[i+2] = t.red[pix[i+2]]
		}
	case envelope.PixelYCbCr:
		// Only the luma plane is corrected; chroma is left untouched
		// since brightness/contrast/RGB-gamma have no lossless Cb/Cr
		// equivalent.
		ySize := int(info.Width) * int(info.Height)
		if ySize > len(pix) {
			ySize = len(pix)
		}
		yPlane := pix[:ySize]
		for i := range yPlane {
			yPlane[i] = t.luma[yPlane[i]]
		}
	}
}
