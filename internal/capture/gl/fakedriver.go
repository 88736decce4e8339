package gl

import "github.com/wyatt8740/glc-sub000/internal/envelope"

// FakeDriver is a Driver backed by an in-memory pixel buffer, used by
// Sampler's tests so they never require a real GL context.
type FakeDriver struct {
	W, H      int
	PBO       bool
	Pixels    func(w, h int) []byte // generates the frame contents; defaults to all-zero
	Indicated int
}

func (f *FakeDriver) ViewportSize() (int, int, error) { return f.W, f.H, nil }

func (f *FakeDriver) SupportsPBO() bool { return f.PBO }

type fakeHandle struct {
	w, h   int
	format envelope.PixelFormat
}

func (f *FakeDriver) BeginReadback(w, h int, format envelope.PixelFormat) (any, error) {
	return fakeHandle{w: w, h: h, format: format}, nil
}

func bppFor(format envelope.PixelFormat) int {
	if format == envelope.PixelBGR {
		return 3
	}
	return 4
}

func (f *FakeDriver) EndReadback(handle any) ([]byte, error) {
	h := handle.(fakeHandle)
	if f.Pixels != nil {
		return f.Pixels(h.w, h.h), nil
	}
	return make([]byte, h.w*h.h*bppFor(h.format)), nil
}

func (f *FakeDriver) DrawIndicator() { f.Indicated++ }
