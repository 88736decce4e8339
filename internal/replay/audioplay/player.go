// Package audioplay implements the audio replay sink: a portaudio
// output stream fed from decoded AudioData packets, paced against the
// shared playback clock, with xrun recovery.
package audioplay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/wyatt8740/glc-sub000/internal/clock"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

// Player is a portaudio output stream that accepts interleaved int16
// samples; other captured sample formats are converted on the way in,
// mirroring the resampling-free pass-through GLC's own audio replay
// performs (no sample-rate conversion, only format widening/narrowing).
type Player struct {
	Clock *clock.Clock
	log   *slog.Logger

	stream   *portaudio.Stream
	out      []int16
	channels int
}

// NewPlayer opens the default output device for the given format.
func NewPlayer(clk *clock.Clock, info envelope.AudioInfo, log *slog.Logger) (*Player, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audioplay: init: %w", err)
	}

	p := &Player{Clock: clk, log: log.With("component", "audioplay"), channels: int(info.Channels)}
	p.out = make([]int16, 0, 4096)

	stream, err := portaudio.OpenDefaultStream(0, int(info.Channels), float64(info.Rate), len(p.out), &p.out)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("audioplay: open stream: %w", err)
	}
	p.stream = stream
	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("audioplay: start: %w", err)
	}
	return p, nil
}

// WaitForTimestamp blocks until the clock reaches ts, the same pacing
// primitive glplay.Player.WaitForTimestamp provides for video.
func (p *Player) WaitForTimestamp(ts int64) {
	for {
		now := p.Clock.Now()
		if now >= ts {
			return
		}
		remaining := time.Duration(ts-now) * time.Microsecond
		if remaining > 20*time.Millisecond {
			remaining = 20 * time.Millisecond
		}
		time.Sleep(remaining)
	}
}

// Play converts and writes one decoded packet of samples. An xrun
// (buffer underrun/overrun, surfaced by portaudio as an error from
// Write) is logged and swallowed rather than propagated.
func (p *Player) Play(format envelope.SampleFormat, data []byte) error {
	samples := toInt16(format, data)

	const chunk = 4096
	for off := 0; off < len(samples); off += chunk {
		end := off + chunk
		if end > len(samples) {
			end = len(samples)
		}
		p.out = append(p.out[:0], samples[off:end]...)
		if err := p.stream.Write(); err != nil {
			p.log.Warn("xrun recovered", "err", err)
		}
	}
	return nil
}

func toInt16(format envelope.SampleFormat, data []byte) []int16 {
	bps := format.BytesPerSample()
	if bps == 0 {
		return nil
	}
	n := len(data) / bps
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		b := data[i*bps : i*bps+bps]
		switch format {
		case envelope.SampleS16LE:
			out[i] = int16(uint16(b[0]) | uint16(b[1])<<8)
		case envelope.SampleS24LE:
			v := int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8
			out[i] = int16(v >> 16)
		case envelope.SampleS32LE:
			v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
			out[i] = int16(v >> 16)
		}
	}
	return out
}

// Close stops the stream and releases portaudio.
func (p *Player) Close() error {
	if err := p.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
