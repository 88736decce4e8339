package gl

import (
	"fmt"

	glcore "github.com/go-gl/gl/v2.1/gl"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

// GLDriver is the real Driver, backed by an active go-gl/gl context
// bound by the caller's glfw window (internal/replay/glplay uses the
// same gl package for the player side; the capture side only needs
// ReadPixels and PBO calls, never window creation).
type GLDriver struct {
	pboSupported bool
	pbo          uint32
	pboSize      int
}

// NewGLDriver initialises go-gl on the GL context current on the calling
// thread and allocates its pixel buffer object. It treats PBO support as
// present (core since GL 2.1) and does not inspect the extension list.
func NewGLDriver() (*GLDriver, error) {
	if err := glcore.Init(); err != nil {
		return nil, fmt.Errorf("gl: init: %w", err)
	}
	d := &GLDriver{}
	var numExt int32
	glcore.GetIntegerv(glcore.NUM_EXTENSIONS, &numExt)
	d.pboSupported = true // core since GL 2.1 via ARB_pixel_buffer_object
	glcore.GenBuffers(1, &d.pbo)
	return d, nil
}

func (d *GLDriver) ViewportSize() (int, int, error) {
	var vp [4]int32
	glcore.GetIntegerv(glcore.VIEWPORT, &vp[0])
	return int(vp[2]), int(vp[3]), nil
}

func (d *GLDriver) SupportsPBO() bool { return d.pboSupported }

type pboHandle struct {
	w, h   int
	format envelope.PixelFormat
}

func glFormat(f envelope.PixelFormat) (format, kind uint32, bpp int) {
	switch f {
	case envelope.PixelBGR:
		return glcore.BGR, glcore.UNSIGNED_BYTE, 3
	default:
		return glcore.BGRA, glcore.UNSIGNED_BYTE, 4
	}
}

func (d *GLDriver) BeginReadback(w, h int, format envelope.PixelFormat) (any, error) {
	glFmt, kind, bpp := glFormat(format)
	size := w * h * bpp
	if d.pboSupported {
		glcore.BindBuffer(glcore.PIXEL_PACK_BUFFER, d.pbo)
		if size != d.pboSize {
			glcore.BufferData(glcore.PIXEL_PACK_BUFFER, size, nil, glcore.STREAM_READ)
			d.pboSize = size
		}
		glcore.ReadPixels(0, 0, int32(w), int32(h), glFmt, kind, nil)
		glcore.BindBuffer(glcore.PIXEL_PACK_BUFFER, 0)
	}
	return pboHandle{w: w, h: h, format: format}, nil
}

func (d *GLDriver) EndReadback(handle any) ([]byte, error) {
	h, ok := handle.(pboHandle)
	if !ok {
		return nil, fmt.Errorf("gl: invalid readback handle")
	}
	_, _, bpp := glFormat(h.format)
	size := h.w * h.h * bpp
	out := make([]byte, size)

	if d.pboSupported {
		glcore.BindBuffer(glcore.PIXEL_PACK_BUFFER, d.pbo)
		ptr := glcore.MapBuffer(glcore.PIXEL_PACK_BUFFER, glcore.READ_ONLY)
		if ptr != nil {
			src := unsafeSlice(ptr, size)
			copy(out, src)
		}
		glcore.UnmapBuffer(glcore.PIXEL_PACK_BUFFER)
		glcore.BindBuffer(glcore.PIXEL_PACK_BUFFER, 0)
		return out, nil
	}

	glFmt, kind, _ := glFormat(h.format)
	glcore.ReadPixels(0, 0, int32(h.w), int32(h.h), glFmt, kind, glcore.Ptr(out))
	return out, nil
}

func (d *GLDriver) DrawIndicator() {
	glcore.Enable(glcore.SCISSOR_TEST)
	glcore.Scissor(4, 4, 8, 8)
	glcore.ClearColor(1, 0, 0, 1)
	glcore.Clear(glcore.COLOR_BUFFER_BIT)
	glcore.Disable(glcore.SCISSOR_TEST)
}
