package audio

import (
	"testing"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/clock"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

func TestHookDeliversInfoThenData(t *testing.T) {
	out := bus.New(1 << 20)
	h := NewHook(out, clock.New(), 7, 4096, nil)
	h.SetFormat(envelope.AudioInfo{Rate: 48000, Channels: 2, Format: envelope.SampleS16LE})

	go h.Run()
	defer h.Stop()

	h.Writei([]byte{1, 2, 3, 4})

	pk, err := out.Open(bus.ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	full := make([]byte, pk.Getsize())
	pk.Read(full, len(full))
	pk.Close()
	if envelope.Tag(full[0]) != envelope.TagAudioInfo {
		t.Fatalf("first envelope tag = %v, want audio-info", envelope.Tag(full[0]))
	}

	pk2, err := out.Open(bus.ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	full2 := make([]byte, pk2.Getsize())
	pk2.Read(full2, len(full2))
	pk2.Close()
	if envelope.Tag(full2[0]) != envelope.TagAudio {
		t.Fatalf("second envelope tag = %v, want audio", envelope.Tag(full2[0]))
	}
	hdr, err := envelope.UnmarshalAudioData(full2[1:])
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Size != 4 {
		t.Fatalf("size = %d, want 4", hdr.Size)
	}
}

func TestHookSkipsWhenSlotFull(t *testing.T) {
	out := bus.New(1 << 20)
	h := NewHook(out, clock.New(), 1, 4096, nil)
	h.Skip = true

	// Fill the single hand-off slot without a running drain goroutine so
	// Writei must observe it full and skip rather than block.
	h.Writei([]byte{1})
	h.Writei([]byte{2}) // slot still full; must return immediately, not block
}

func TestHookDeliversSamplesInOrder(t *testing.T) {
	out := bus.New(1 << 20)
	h := NewHook(out, clock.New(), 3, 4096, nil)
	h.SetFormat(envelope.AudioInfo{Rate: 48000, Channels: 1, Format: envelope.SampleS16LE})

	go h.Run()
	defer h.Stop()

	readAudioPayload := func() []byte {
		t.Helper()
		for {
			pk, err := out.Open(bus.ModeRead)
			if err != nil {
				t.Fatal(err)
			}
			full := make([]byte, pk.Getsize())
			pk.Read(full, len(full))
			pk.Close()
			if envelope.Tag(full[0]) == envelope.TagAudio {
				return full[1+envelope.AudioDataSize:]
			}
		}
	}

	// Deliver periods one at a time so the single-slot hand-off cannot
	// reorder them: a second Writei before the drain goroutine empties
	// the slot would either spin (Skip=false, the default) or drop the
	// period, never deliver it out of order.
	for i := byte(0); i < 5; i++ {
		h.Writei([]byte{i, i, i, i})
		got := readAudioPayload()
		if got[0] != i {
			t.Fatalf("period %d: got payload starting %d, want %d", i, got[0], i)
		}
	}
}

func TestHookWritenInterleavesPlanes(t *testing.T) {
	out := bus.New(1 << 20)
	h := NewHook(out, clock.New(), 5, 4096, nil)
	h.SetFormat(envelope.AudioInfo{Rate: 48000, Channels: 2, Format: envelope.SampleS16LE})

	go h.Run()
	defer h.Stop()

	left := []byte{1, 0, 2, 0}  // two S16LE samples: 1, 2
	right := []byte{10, 0, 20, 0} // two S16LE samples: 10, 20
	h.Writen([][]byte{left, right})

	for {
		pk, err := out.Open(bus.ModeRead)
		if err != nil {
			t.Fatal(err)
		}
		full := make([]byte, pk.Getsize())
		pk.Read(full, len(full))
		pk.Close()
		if envelope.Tag(full[0]) != envelope.TagAudio {
			continue
		}
		payload := full[1+envelope.AudioDataSize:]
		want := []byte{1, 0, 10, 0, 2, 0, 20, 0}
		if len(payload) != len(want) {
			t.Fatalf("payload len = %d, want %d", len(payload), len(want))
		}
		for i := range want {
			if payload[i] != want[i] {
				t.Fatalf("payload[%d] = %d, want %d (interleave order broken)", i, payload[i], want[i])
			}
		}
		return
	}
}

func TestHookMmapCommitInterleaved(t *testing.T) {
	out := bus.New(1 << 20)
	h := NewHook(out, clock.New(), 6, 4096, nil)
	h.SetFormat(envelope.AudioInfo{Rate: 48000, Channels: 1, Format: envelope.SampleS16LE, Flags: envelope.AudioInfoFlagInterleaved})

	go h.Run()
	defer h.Stop()

	area := []byte{1, 2, 3, 4, 5, 6, 7, 8} // a mapped area larger than what was committed
	h.MmapCommit([][]byte{area}, 2)        // only 2 frames (4 bytes) actually committed

	for {
		pk, err := out.Open(bus.ModeRead)
		if err != nil {
			t.Fatal(err)
		}
		full := make([]byte, pk.Getsize())
		pk.Read(full, len(full))
		pk.Close()
		if envelope.Tag(full[0]) != envelope.TagAudio {
			continue
		}
		payload := full[1+envelope.AudioDataSize:]
		if len(payload) != 4 {
			t.Fatalf("payload len = %d, want 4 (bounded by committed frame count)", len(payload))
		}
		return
	}
}
