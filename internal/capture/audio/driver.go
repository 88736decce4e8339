// Package audio implements the audio capture hook: a model of the
// intercepted ALSA/PCM calls (Open, HwParams, Writei/Writen,
// MmapBegin/MmapCommit, Close) plus a single-slot lock-free hand-off
// from the (possibly signal-handler-reentrant) audio thread to a
// dedicated drain goroutine that owns the packet bus.
package audio

import "github.com/wyatt8740/glc-sub000/internal/envelope"

// Driver abstracts the intercepted PCM device calls. A real
// implementation wraps the application's own ALSA handle; Hook never
// calls into the bus or slog from these methods' callers directly — it
// only copies bytes into the lock-free hand-off, preserving signal-
// handler reentrancy safety.
type Driver interface {
	// HwParams reports the negotiated stream format.
	HwParams() (envelope.AudioInfo, error)
}
