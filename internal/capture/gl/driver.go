// Package gl implements the GL frame-capture component: a per-frame
// sampler that reads back the framebuffer at a fixed rate and pushes
// VideoInfo/VideoData envelopes onto a packet bus, the real
// implementation built on go-gl/gl + go-gl/glfw's PBO path, and a fake
// driver used by tests that never touch an actual GL context.
package gl

import (
	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

// Driver abstracts the GL calls a Sampler needs: framebuffer dimensions,
// extension probing, and a two-phase async pixel readback (Begin
// schedules a PBO transfer at the current frame, End blocks until it
// lands and returns the pixel bytes). Implementations must be safe to
// call from the thread that owns the GL context only — Sampler never
// calls a Driver method from a goroutine other than the one driving the
// render loop.
type Driver interface {
	// ViewportSize returns the current default-framebuffer dimensions.
	ViewportSize() (w, h int, err error)
	// SupportsPBO reports whether GL_ARB_pixel_buffer_object (or core GL
	// 2.1+) is available; Sampler falls back to synchronous ReadPixels
	// when it is not.
	SupportsPBO() bool
	// BeginReadback schedules an asynchronous pixel transfer of the
	// current framebuffer contents and returns an opaque handle to poll.
	BeginReadback(w, h int, format envelope.PixelFormat) (handle any, err error)
	// EndReadback blocks until handle's transfer completes and returns
	// the pixel bytes in row-major order, bottom row first (the order
	// glReadPixels produces).
	EndReadback(handle any) ([]byte, error)
	// DrawIndicator overlays a small recording indicator in the corner
	// of the framebuffer, called once per captured frame when enabled.
	DrawIndicator()
}
