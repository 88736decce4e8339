package compress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/pipeline"
)

func writeVideoFrame(t *testing.T, b *bus.Bus, payload []byte) {
	t.Helper()
	p, err := b.Open(bus.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Write([]byte{byte(envelope.TagVideo)}, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(payload, len(payload)); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeClose(t *testing.T, b *bus.Bus) {
	t.Helper()
	p, err := b.Open(bus.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Write([]byte{byte(envelope.TagClose)}, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func readFull(t *testing.T, b *bus.Bus) (envelope.Tag, []byte) {
	t.Helper()
	p, err := b.Open(bus.ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	full := make([]byte, p.Getsize())
	if err := p.Read(full, len(full)); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	return envelope.Tag(full[0]), full[1:]
}

func runCompressDecompressRoundTrip(t *testing.T, codec Codec, payload []byte) {
	t.Helper()

	raw := bus.New(4 << 20)
	compressed := bus.New(4 << 20)
	decoded := bus.New(4 << 20)

	comp := NewCompressStage(codec)
	decomp := NewDecompressStage()

	compRunner := pipeline.NewRunner(comp, raw, compressed, 1, nil)
	decompRunner := pipeline.NewRunner(decomp, compressed, decoded, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- compRunner.Run(ctx) }()
	go func() { done <- decompRunner.Run(ctx) }()

	writeVideoFrame(t, raw, payload)
	writeClose(t, raw)

	wantTag := envelope.TagLZO
	if codec == CodecZstd {
		wantTag = envelope.TagQuickLZ
	}
	midTag, midPayload := readFull(t, compressed)
	if midTag != wantTag {
		t.Fatalf("intermediate tag = %v, want %v", midTag, wantTag)
	}
	hdr, err := envelope.UnmarshalCompressedHeader(midPayload)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.OriginalTag != envelope.TagVideo {
		t.Fatalf("compressed header original tag = %v, want TagVideo", hdr.OriginalTag)
	}
	if int(hdr.UncompressedSize) != len(payload) {
		t.Fatalf("compressed header size = %d, want %d", hdr.UncompressedSize, len(payload))
	}
	readFull(t, compressed) // drain the close envelope the compress stage copies through

	finalTag, finalPayload := readFull(t, decoded)
	if finalTag != envelope.TagVideo {
		t.Fatalf("final tag = %v, want TagVideo", finalTag)
	}
	if !bytes.Equal(finalPayload, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(finalPayload), len(payload))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func TestCompressDecompressRoundTripS2(t *testing.T) {
	t.Parallel()
	payload := []byte(strings.Repeat("frame-data-pattern-", 200))
	runCompressDecompressRoundTrip(t, CodecS2, payload)
}

func TestCompressDecompressRoundTripZstd(t *testing.T) {
	t.Parallel()
	payload := []byte(strings.Repeat("frame-data-pattern-", 200))
	runCompressDecompressRoundTrip(t, CodecZstd, payload)
}

func TestSmallPayloadPassesThroughUncompressed(t *testing.T) {
	t.Parallel()
	raw := bus.New(1 << 20)
	compressed := bus.New(1 << 20)

	comp := NewCompressStage(CodecS2)
	r := pipeline.NewRunner(comp, raw, compressed, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	payload := []byte("short")
	writeVideoFrame(t, raw, payload)

	tag, got := readFull(t, compressed)
	if tag != envelope.TagVideo {
		t.Fatalf("tag = %v, want TagVideo (uncompressed passthrough)", tag)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}
