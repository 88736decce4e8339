package gl

import (
	"log/slog"
	"time"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/clock"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/glcerrors"
)

// pendingReadback is an async PBO transfer scheduled on one OnPresent
// call and collected on a later one. Its timestamp is the schedule time,
// not the collection time, so reader-side time advances monotonically
// with render time rather than jumping by however long the transfer
// took to land.
type pendingReadback struct {
	handle    any
	timestamp int64
}

// Sampler drives one video stream's worth of frame capture: fixed-rate
// frame dropping, VideoInfo emission on resize, and scheduling an async
// GPU readback whose completion lands on Out.
type Sampler struct {
	Driver Driver
	Out    *bus.Bus
	Clock  *clock.Clock
	ID     uint32

	// Interval is the minimum gap in microseconds between two captured
	// frames; zero means capture every presented frame.
	Interval int64
	// LockFPS makes Open(ModeWrite) block when the bus is full instead
	// of dropping the frame, and makes OnPresent sleep on this thread to
	// align with Interval rather than just skipping early frames.
	LockFPS bool
	// TryPBO schedules an async pixel-buffer-object readback one present
	// ahead of when it is collected, instead of reading back
	// synchronously, when the Driver supports it.
	TryPBO bool
	// Indicator enables the on-screen recording indicator overlay.
	Indicator bool
	Format    envelope.PixelFormat

	log *slog.Logger

	lastCapture int64
	lastW, lastH int
	dropped      int

	pending   *pendingReadback
	pboFailed bool // sticky one-time downgrade to the synchronous path
}

// NewSampler constructs a Sampler. log may be nil.
func NewSampler(driver Driver, out *bus.Bus, clk *clock.Clock, id uint32, format envelope.PixelFormat, log *slog.Logger) *Sampler {
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{Driver: driver, Out: out, Clock: clk, ID: id, Format: format, log: log.With("component", "gl-capture", "stream", id)}
}

// OnPresent must be called from the thread that owns the GL context,
// once per frame-present call the capture hook intercepts. It returns
// true if a frame was captured (whether or not it was ultimately
// delivered to Out — a dropped frame due to back-pressure still counts
// as captured for framerate-limiting purposes).
func (s *Sampler) OnPresent() bool {
	now := s.Clock.Now()
	// The first present always captures. With LockFPS, advance paces
	// captures by sleeping instead, so early frames are not skipped.
	if s.Interval > 0 && !s.LockFPS && s.lastW != 0 && now-s.lastCapture < s.Interval {
		return false
	}

	w, h, err := s.Driver.ViewportSize()
	if err != nil || w <= 0 || h <= 0 {
		return false
	}

	if w != s.lastW || h != s.lastH {
		s.lastW, s.lastH = w, h
		s.emitVideoInfo(w, h)
		// A resize invalidates any in-flight readback: its dimensions no
		// longer match the stream the reader expects.
		s.pending = nil
	}

	usingPBO := s.TryPBO && !s.pboFailed && s.Driver.SupportsPBO()

	if usingPBO && s.pending == nil {
		handle, err := s.Driver.BeginReadback(w, h, s.Format)
		if err != nil {
			s.log.Error("begin readback failed", "err", err)
			s.pboFailed = true
		} else {
			if s.Indicator {
				s.Driver.DrawIndicator()
			}
			s.pending = &pendingReadback{handle: handle, timestamp: now}
			s.advance(now)
			return true
		}
	}

	if s.Indicator {
		s.Driver.DrawIndicator()
	}

	var timestamp int64
	var pixels []byte

	if usingPBO && s.pending != nil {
		p := s.pending
		s.pending = nil
		pixels, err = s.Driver.EndReadback(p.handle)
		if err != nil {
			s.log.Error("end readback failed", "err", err)
			s.advance(now)
			return true
		}
		timestamp = p.timestamp

		if nextHandle, err := s.Driver.BeginReadback(w, h, s.Format); err == nil {
			s.pending = &pendingReadback{handle: nextHandle, timestamp: now}
		} else {
			s.log.Error("begin readback failed", "err", err)
			s.pboFailed = true
		}
	} else {
		handle, err := s.Driver.BeginReadback(w, h, s.Format)
		if err != nil {
			s.log.Error("begin readback failed", "err", err)
			s.advance(now)
			return true
		}
		timestamp = now
		pixels, err = s.Driver.EndReadback(handle)
		if err != nil {
			s.log.Error("end readback failed", "err", err)
			s.advance(now)
			return true
		}
	}

	s.deliver(timestamp, pixels)
	s.advance(now)
	return true
}

// advance updates lastCapture for the next OnPresent's rate gate. With
// LockFPS it sleeps on this thread to align with Interval, then moves
// last-emit forward by exactly one interval rather than to the wall-clock
// time the sleep happened to wake up at, so the target rate doesn't drift;
// if the caller has fallen more than one interval behind (e.g. a slow
// present), it snaps last-emit to half an interval behind instead of
// trying to catch up frame-for-frame.
func (s *Sampler) advance(now int64) {
	if !s.LockFPS || s.Interval <= 0 {
		s.lastCapture = now
		return
	}

	target := s.lastCapture + s.Interval
	if d := target - s.Clock.Now(); d > 0 {
		time.Sleep(time.Duration(d) * time.Microsecond)
	}
	s.lastCapture += s.Interval

	if behind := s.Clock.Now() - s.lastCapture; behind > s.Interval {
		s.lastCapture = s.Clock.Now() - s.Interval/2
	}
}

func (s *Sampler) emitVideoInfo(w, h int) {
	pk, err := s.Out.Open(bus.ModeWrite)
	if err != nil {
		return
	}
	info := envelope.VideoInfo{ID: s.ID, Width: uint32(w), Height: uint32(h), Format: s.Format}
	if err := pk.Write([]byte{byte(envelope.TagVideoInfo)}, 1); err != nil {
		pk.Cancel()
		return
	}
	buf := make([]byte, envelope.VideoInfoSize)
	info.Marshal(buf)
	if err := pk.Write(buf, len(buf)); err != nil {
		pk.Cancel()
		return
	}
	pk.Close()
}

func (s *Sampler) deliver(timestamp int64, pixels []byte) {
	mode := bus.ModeWrite
	if !s.LockFPS {
		mode = bus.ModeWriteTry
	}

	pk, err := s.Out.Open(mode)
	if err != nil {
		if glcerrors.IsBusy(err) {
			s.dropped++
			return
		}
		return
	}

	if err := pk.Write([]byte{byte(envelope.TagVideo)}, 1); err != nil {
		pk.Cancel()
		return
	}
	hdr := envelope.VideoData{ID: s.ID, Timestamp: timestamp}
	hdrBuf := make([]byte, envelope.VideoDataSize)
	hdr.Marshal(hdrBuf)
	if err := pk.Write(hdrBuf, len(hdrBuf)); err != nil {
		pk.Cancel()
		return
	}
	if err := pk.Write(pixels, len(pixels)); err != nil {
		pk.Cancel()
		return
	}
	pk.Close()
}

// Dropped returns the number of frames skipped because the output bus
// had no room and LockFPS is false.
func (s *Sampler) Dropped() int { return s.dropped }
