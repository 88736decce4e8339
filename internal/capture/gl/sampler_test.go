package gl

import (
	"testing"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/clock"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

func readAll(t *testing.T, b *bus.Bus) (envelope.Tag, []byte) {
	t.Helper()
	pk, err := b.Open(bus.ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	full := make([]byte, pk.Getsize())
	if err := pk.Read(full, len(full)); err != nil {
		t.Fatal(err)
	}
	pk.Close()
	return envelope.Tag(full[0]), full[1:]
}

func TestSamplerEmitsVideoInfoOnFirstFrameAndResize(t *testing.T) {
	out := bus.New(1 << 20)
	driver := &FakeDriver{W: 64, H: 48}
	clk := clock.New()
	s := NewSampler(driver, out, clk, 1, envelope.PixelBGRA, nil)

	if !s.OnPresent() {
		t.Fatal("expected first frame to be captured")
	}
	tag, payload := readAll(t, out)
	if tag != envelope.TagVideoInfo {
		t.Fatalf("tag = %v, want video-info", tag)
	}
	info, err := envelope.UnmarshalVideoInfo(payload)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 64 || info.Height != 48 {
		t.Fatalf("info = %+v", info)
	}

	tag, _ = readAll(t, out)
	if tag != envelope.TagVideo {
		t.Fatalf("tag = %v, want video", tag)
	}

	driver.W, driver.H = 32, 24
	s.OnPresent()
	tag, payload = readAll(t, out)
	if tag != envelope.TagVideoInfo {
		t.Fatalf("expected a second video-info on resize, got %v", tag)
	}
	info, _ = envelope.UnmarshalVideoInfo(payload)
	if info.Width != 32 || info.Height != 24 {
		t.Fatalf("resized info = %+v", info)
	}
}

func TestSamplerDropsWithoutLockFPSWhenBusFull(t *testing.T) {
	out := bus.New(1) // tiny: the first VideoInfo write already exceeds it
	driver := &FakeDriver{W: 16, H: 16}
	clk := clock.New()
	s := NewSampler(driver, out, clk, 1, envelope.PixelBGRA, nil)
	s.LockFPS = false

	s.OnPresent()
	if s.Dropped() == 0 {
		t.Fatal("expected at least one dropped frame on a saturated bus")
	}
}

func TestSamplerSchedulesPBOReadbackOnOnePresentAndCollectsOnNext(t *testing.T) {
	out := bus.New(1 << 20)
	driver := &FakeDriver{W: 8, H: 8, PBO: true}
	clk := clock.New()
	s := NewSampler(driver, out, clk, 1, envelope.PixelBGRA, nil)
	s.TryPBO = true

	// First present: resize emits VideoInfo, then the readback is merely
	// scheduled — no TagVideo yet.
	if !s.OnPresent() {
		t.Fatal("expected the first present to be captured")
	}
	tag, _ := readAll(t, out)
	if tag != envelope.TagVideoInfo {
		t.Fatalf("tag = %v, want video-info", tag)
	}
	if s.pending == nil {
		t.Fatal("expected a pending readback after scheduling")
	}

	// Second present: collects the frame scheduled above and schedules a
	// new one for the frame after.
	if !s.OnPresent() {
		t.Fatal("expected the second present to be captured")
	}
	tag, _ = readAll(t, out)
	if tag != envelope.TagVideo {
		t.Fatalf("tag = %v, want video (the collected readback)", tag)
	}
	if s.pending == nil {
		t.Fatal("expected a new pending readback scheduled after collecting the old one")
	}
}

func TestSamplerSyncFallbackDeliversSameFrame(t *testing.T) {
	out := bus.New(1 << 20)
	driver := &FakeDriver{W: 8, H: 8, PBO: false}
	clk := clock.New()
	s := NewSampler(driver, out, clk, 1, envelope.PixelBGRA, nil)
	s.TryPBO = true // no-op: the driver doesn't support PBO

	if !s.OnPresent() {
		t.Fatal("expected first present to be captured")
	}
	readAll(t, out) // VideoInfo
	tag, _ := readAll(t, out)
	if tag != envelope.TagVideo {
		t.Fatalf("tag = %v, want video delivered synchronously on the same present", tag)
	}
	if s.pending != nil {
		t.Fatal("sync fallback should never leave a pending readback")
	}
}

func TestSamplerLockFPSAdvancesByExactlyOneInterval(t *testing.T) {
	out := bus.New(1 << 20)
	driver := &FakeDriver{W: 4, H: 4}
	clk := clock.New()
	s := NewSampler(driver, out, clk, 1, envelope.PixelBGRA, nil)
	s.LockFPS = true
	s.Interval = 1000 // 1ms, short enough not to slow the test down much
	s.lastCapture = clk.Now() - s.Interval // make the rate gate pass immediately

	before := s.lastCapture
	s.OnPresent()
	if got := s.lastCapture - before; got != s.Interval {
		t.Fatalf("lastCapture advanced by %d, want exactly Interval=%d", got, s.Interval)
	}
}

func TestSamplerLockFPSCatchUpSnapsToHalfInterval(t *testing.T) {
	out := bus.New(1 << 20)
	driver := &FakeDriver{W: 4, H: 4}
	clk := clock.New()
	s := NewSampler(driver, out, clk, 1, envelope.PixelBGRA, nil)
	s.LockFPS = true
	s.Interval = 100

	// Simulate having fallen far behind wall time.
	s.lastCapture = clk.Now() - 10*s.Interval
	s.OnPresent()

	behind := clk.Now() - s.lastCapture
	if behind > s.Interval {
		t.Fatalf("lastCapture still %d behind after catch-up, want <= Interval=%d", behind, s.Interval)
	}
}

func TestSamplerRespectsInterval(t *testing.T) {
	out := bus.New(1 << 20)
	driver := &FakeDriver{W: 16, H: 16}
	clk := clock.New()
	s := NewSampler(driver, out, clk, 1, envelope.PixelBGRA, nil)
	s.Interval = 1 << 40 // effectively infinite

	if !s.OnPresent() {
		t.Fatal("expected the first present to always capture")
	}
	if captured := s.OnPresent(); captured {
		t.Fatal("expected frame rate limiting to skip the second present")
	}
}
