package audio

import (
	"log/slog"
	"sync/atomic"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/clock"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

// Hook is the capture-side state for one PCM stream. Writei/Writen/
// MmapCommit are the only methods meant to be called from the
// application's own (possibly real-time or signal-handler) audio
// thread; they never block on a mutex and never log, only copying into
// a single preallocated hand-off slot and flipping an atomic flag. A
// dedicated drain goroutine (the one running Run) is the sole reader of that
// slot and the sole writer to Out. A single full/empty slot (rather
// than a double buffer) preserves delivery order by construction: the
// audio thread cannot get more than one period ahead of the drain
// goroutine, so timestamps can never be delivered out of the order they
// were captured in.
type Hook struct {
	Out   *bus.Bus
	Clock *clock.Clock
	ID    uint32
	// Skip drops a frame instead of blocking the audio thread when the
	// hand-off slot is still full (the drain goroutine has fallen
	// behind); when false, Writei/Writen spin briefly waiting for the
	// slot, trading audio-thread latency for completeness.
	Skip bool

	log *slog.Logger

	info    atomic.Pointer[envelope.AudioInfo]
	emitted atomic.Pointer[envelope.AudioInfo] // last format written to Out

	slot slot

	notify chan struct{}
	done   chan struct{}
}

type slot struct {
	full      atomic.Bool
	buf       []byte
	n         int
	timestamp int64
}

// NewHook constructs a Hook whose hand-off slot can hold up to
// maxFrameBytes bytes, sized for the largest single Writei/Writen call
// the caller expects.
func NewHook(out *bus.Bus, clk *clock.Clock, id uint32, maxFrameBytes int, log *slog.Logger) *Hook {
	if log == nil {
		log = slog.Default()
	}
	h := &Hook{
		Out:    out,
		Clock:  clk,
		ID:     id,
		log:    log.With("component", "audio-hook", "stream", id),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	h.slot.buf = make([]byte, maxFrameBytes)
	return h
}

// SetFormat records the stream's negotiated format, to be emitted as an
// AudioInfo envelope by the drain goroutine before the next sample data.
func (h *Hook) SetFormat(info envelope.AudioInfo) {
	info.ID = h.ID
	h.info.Store(&info)
}

// claimSlot reserves the hand-off slot for a new period's worth of
// samples, returning its backing buffer to fill. It never allocates and
// never blocks on anything but a bounded spin.
func (h *Hook) claimSlot() ([]byte, bool) {
	if h.slot.full.Load() {
		if h.Skip {
			return nil, false
		}
		for spins := 0; h.slot.full.Load() && spins < 1<<16; spins++ {
		}
		if h.slot.full.Load() {
			return nil, false
		}
	}
	return h.slot.buf, true
}

// commitSlot marks the slot full with n valid bytes at the current
// clock time and wakes the drain goroutine.
func (h *Hook) commitSlot(n int) {
	h.slot.n = n
	h.slot.timestamp = h.Clock.Now()
	h.slot.full.Store(true)

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Writei is the interleaved-PCM hand-off entry point, called from the
// application's audio thread with one period's worth of sample bytes.
func (h *Hook) Writei(data []byte) {
	dst, ok := h.claimSlot()
	if !ok {
		return
	}
	h.commitSlot(copy(dst, data))
}

// Writen is the non-interleaved (planar) hand-off entry point: one
// []byte per channel, each holding that channel's samples back to back.
// It interleaves the planes into the hand-off slot using the stream's
// negotiated sample width, so downstream stages only ever see
// interleaved PCM. Frames with no SetFormat call yet are dropped, since
// the sample width needed to interleave correctly is not yet known.
func (h *Hook) Writen(planes [][]byte) {
	info := h.info.Load()
	if info == nil {
		return
	}
	bps := info.Format.BytesPerSample()
	if bps <= 0 || len(planes) == 0 {
		return
	}
	h.writePlanar(planes, bps, 1<<30)
}

// writePlanar gathers up to limitFrames frames (bounded also by the
// shortest plane) from planes, interleaving them channel-by-channel
// into the hand-off slot.
func (h *Hook) writePlanar(planes [][]byte, bps, limitFrames int) {
	frames := limitFrames
	for _, p := range planes {
		if pf := len(p) / bps; pf < frames {
			frames = pf
		}
	}
	if frames <= 0 {
		return
	}

	dst, ok := h.claimSlot()
	if !ok {
		return
	}

	bytesPerFrame := bps * len(planes)
	idx := 0
	for f := 0; f < frames && idx+bytesPerFrame <= len(dst); f++ {
		off := f * bps
		for _, p := range planes {
			idx += copy(dst[idx:idx+bps], p[off:off+bps])
		}
	}
	h.commitSlot(idx)
}

// MmapBegin marks the start of a complex-mmap transfer. The actual PCM
// area negotiation happens in the real ALSA mmap call the preload shim
// intercepts; this method exists only for API parity with §4.4's
// Open/HwParams/Writei/Writen/MmapBegin/MmapCommit/Close call sequence,
// since the hook has nothing to reserve until MmapCommit delivers the
// frames the application actually wrote into the mapped areas.
func (h *Hook) MmapBegin() {}

// MmapCommit is called once the application has written directly into
// the areas returned by its (intercepted) mmap-begin call, reporting
// how many frames of each area are now valid. areas holds one []byte
// per channel for a non-interleaved (complex mmap) transfer, or a
// single []byte for an interleaved one; frames bounds how much of each
// area to gather, since a mapped area is typically larger than what was
// actually committed this period.
func (h *Hook) MmapCommit(areas [][]byte, frames int) {
	info := h.info.Load()
	if info == nil || frames <= 0 || len(areas) == 0 {
		return
	}
	bps := info.Format.BytesPerSample()
	if bps <= 0 {
		return
	}

	if info.Interleaved() {
		if len(areas) != 1 {
			return
		}
		n := frames * int(info.Channels) * bps
		if n > len(areas[0]) {
			n = len(areas[0])
		}
		h.Writei(areas[0][:n])
		return
	}

	h.writePlanar(areas, bps, frames)
}

// Run is the drain loop: the caller runs it on its own goroutine, and it
// returns once Stop is called. It is the only goroutine that ever touches
// Out.
func (h *Hook) Run() {
	for {
		select {
		case <-h.notify:
			h.drainReady()
		case <-h.done:
			return
		}
	}
}

// Stop terminates Run.
func (h *Hook) Stop() { close(h.done) }

func (h *Hook) drainReady() {
	if !h.slot.full.Load() {
		return
	}
	h.deliver(h.slot.buf[:h.slot.n], h.slot.timestamp)
	h.slot.full.Store(false)
}

func (h *Hook) deliver(data []byte, timestamp int64) {
	if info := h.info.Load(); info != nil {
		h.emitInfoIfNew(info)
	}

	pk, err := h.Out.Open(bus.ModeWrite)
	if err != nil {
		return
	}
	if err := pk.Write([]byte{byte(envelope.TagAudio)}, 1); err != nil {
		pk.Cancel()
		return
	}
	hdr := envelope.AudioData{ID: h.ID, Timestamp: timestamp, Size: uint64(len(data))}
	hdrBuf := make([]byte, envelope.AudioDataSize)
	hdr.Marshal(hdrBuf)
	if err := pk.Write(hdrBuf, len(hdrBuf)); err != nil {
		pk.Cancel()
		return
	}
	if err := pk.Write(data, len(data)); err != nil {
		pk.Cancel()
		return
	}
	pk.Close()
}

func (h *Hook) emitInfoIfNew(info *envelope.AudioInfo) {
	if h.emitted.Load() == info {
		return
	}
	pk, err := h.Out.Open(bus.ModeWrite)
	if err != nil {
		return
	}
	if err := pk.Write([]byte{byte(envelope.TagAudioInfo)}, 1); err != nil {
		pk.Cancel()
		return
	}
	buf := make([]byte, envelope.AudioInfoSize)
	info.Marshal(buf)
	if err := pk.Write(buf, len(buf)); err != nil {
		pk.Cancel()
		return
	}
	pk.Close()
	h.emitted.Store(info)
}
