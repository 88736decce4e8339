package export

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

// WAVWriter wraps go-audio/wav's streaming encoder so the player can
// feed it one decoded audio packet at a time instead of buffering an
// entire capture in memory.
type WAVWriter struct {
	enc      *wav.Encoder
	channels int
}

// NewWAVWriter opens a WAV encoder for the given format. w must also be
// an io.Seeker since the WAV container's RIFF/data chunk sizes are
// patched in on Close.
func NewWAVWriter(w io.WriteSeeker, info envelope.AudioInfo) (*WAVWriter, error) {
	bitDepth := info.Format.BytesPerSample() * 8
	if bitDepth == 0 {
		return nil, fmt.Errorf("export: unsupported sample format %d", info.Format)
	}
	enc := wav.NewEncoder(w, int(info.Rate), bitDepth, int(info.Channels), 1)
	return &WAVWriter{enc: enc, channels: int(info.Channels)}, nil
}

// WriteSamples appends one packet of little-endian interleaved PCM
// samples, reinterpreting raw bytes as signed integers of the format's
// bit depth.
func (w *WAVWriter) WriteSamples(format envelope.SampleFormat, data []byte) error {
	bps := format.BytesPerSample()
	if bps == 0 || len(data)%bps != 0 {
		return fmt.Errorf("export: sample buffer not aligned to %d-byte samples", bps)
	}
	n := len(data) / bps
	ints := make([]int, n)
	for i := 0; i < n; i++ {
		ints[i] = decodeSample(data[i*bps:i*bps+bps], format)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: w.channels, SampleRate: 0},
		Data:           ints,
		SourceBitDepth: bps * 8,
	}
	return w.enc.Write(buf)
}

func decodeSample(b []byte, format envelope.SampleFormat) int {
	switch format {
	case envelope.SampleS16LE:
		return int(int16(uint16(b[0]) | uint16(b[1])<<8))
	case envelope.SampleS24LE:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
		if v&0x800000 != 0 {
			v |= -1 << 24 // sign-extend a 24-bit two's-complement value
		}
		return int(v)
	case envelope.SampleS32LE:
		return int(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
	default:
		return 0
	}
}

// Close finalizes the WAV container, patching the RIFF/data chunk
// sizes.
func (w *WAVWriter) Close() error {
	return w.enc.Close()
}
