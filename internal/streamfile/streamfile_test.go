package streamfile

import (
	"bytes"
	"testing"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer

	w := NewWriter(&buf)
	hdr := Header{FPS: 59.94, Flags: 1, CaptorPID: 1234, Name: "game.bin", CaptureDate: "2026-07-30"}
	if err := w.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEnvelope(envelope.TagVideoInfo, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEnvelope(envelope.TagVideo, []byte("pixel-bytes")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	gotHdr, err := r.ReadHeader()
	if err != nil {
		t.Fatal(err)
	}
	if gotHdr.FPS != hdr.FPS || gotHdr.Name != hdr.Name || gotHdr.CaptureDate != hdr.CaptureDate || gotHdr.CaptorPID != hdr.CaptorPID {
		t.Fatalf("header round trip mismatch: got %+v, want %+v", gotHdr, hdr)
	}

	tag, payload, err := r.ReadEnvelope()
	if err != nil {
		t.Fatal(err)
	}
	if tag != envelope.TagVideoInfo || !bytes.Equal(payload, []byte{1, 2, 3, 4}) {
		t.Fatalf("first envelope mismatch: tag=%v payload=%v", tag, payload)
	}

	tag, payload, err = r.ReadEnvelope()
	if err != nil {
		t.Fatal(err)
	}
	if tag != envelope.TagVideo || string(payload) != "pixel-bytes" {
		t.Fatalf("second envelope mismatch: tag=%v payload=%q", tag, payload)
	}

	tag, _, err = r.ReadEnvelope()
	if err != nil {
		t.Fatal(err)
	}
	if tag != envelope.TagClose {
		t.Fatalf("final envelope tag = %v, want TagClose", tag)
	}
}

func TestWriteEnvelopeBeforeHeaderFails(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteEnvelope(envelope.TagVideo, nil); err == nil {
		t.Fatal("expected an error writing an envelope before the header")
	}
}

func TestReadHeaderRejectsBadSignature(t *testing.T) {
	t.Parallel()
	buf := bytes.NewBuffer(make([]byte, 24))
	r := NewReader(buf)
	if _, err := r.ReadHeader(); err == nil {
		t.Fatal("expected an error for a bad signature")
	}
}
