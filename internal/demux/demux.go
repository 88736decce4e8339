// Package demux implements per-id sub-bus fan-out: a single upstream
// bus carrying envelopes for many interleaved video/audio stream ids is
// split into one downstream bus per id, so each stream can be processed
// (scaled, compressed, replayed) independently.
package demux

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/glcerrors"
)

// idOf extracts the stream id from an envelope payload whose first four
// bytes are always the id field, per VideoData/VideoInfo/AudioData/
// AudioInfo/Color's shared layout.
func idOf(payload []byte) (uint32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24, true
}

// Demux reads one upstream bus and fans envelopes out to per-id
// downstream buses created on demand via New.
type Demux struct {
	In  *bus.Bus
	New func(id uint32) *bus.Bus

	log *slog.Logger

	mu      sync.Mutex
	streams map[uint32]*bus.Bus
}

// NewDemux creates a Demux reading from in. newBus is called the first
// time an id is seen, to create its downstream bus; log may be nil.
func NewDemux(in *bus.Bus, newBus func(id uint32) *bus.Bus, log *slog.Logger) *Demux {
	if log == nil {
		log = slog.Default()
	}
	return &Demux{In: in, New: newBus, log: log.With("component", "demux"), streams: make(map[uint32]*bus.Bus)}
}

// Streams returns the downstream bus for id, or nil if it has not been
// seen yet.
func (d *Demux) Streams(id uint32) *bus.Bus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[id]
}

func (d *Demux) streamFor(id uint32) *bus.Bus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.streams[id]; ok {
		return b
	}
	b := d.New(id)
	d.streams[id] = b
	return b
}

// Run reads In until ctx is cancelled, a close envelope arrives, or In
// is cancelled, forwarding every envelope to its id's downstream bus and
// a TagClose to every downstream bus that has been created so far.
func (d *Demux) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pk, err := d.In.Open(bus.ModeRead)
		if err != nil {
			if glcerrors.IsInterrupted(err) {
				return nil
			}
			return err
		}

		full := make([]byte, pk.Getsize())
		if rerr := pk.Read(full, len(full)); rerr != nil {
			pk.Cancel()
			return rerr
		}
		tag := envelope.Tag(full[0])
		payload := full[1:]
		pk.Close()

		if tag == envelope.TagClose {
			d.broadcastClose()
			return nil
		}

		id, ok := idOf(payload)
		if !ok {
			d.log.Warn("envelope too short to carry a stream id", "tag", tag)
			continue
		}

		out := d.streamFor(id)
		if err := forward(out, tag, payload); err != nil {
			d.log.Error("forward failed", "stream", id, "err", err)
		}
	}
}

func forward(out *bus.Bus, tag envelope.Tag, payload []byte) error {
	pk, err := out.Open(bus.ModeWrite)
	if err != nil {
		return err
	}
	if err := pk.Write([]byte{byte(tag)}, 1); err != nil {
		pk.Cancel()
		return err
	}
	if len(payload) > 0 {
		if err := pk.Write(payload, len(payload)); err != nil {
			pk.Cancel()
			return err
		}
	}
	return pk.Close()
}

func (d *Demux) broadcastClose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, out := range d.streams {
		forward(out, envelope.TagClose, nil)
	}
}
