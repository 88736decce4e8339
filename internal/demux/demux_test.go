package demux

import (
	"context"
	"testing"
	"time"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

func writeEnv(t *testing.T, b *bus.Bus, tag envelope.Tag, payload []byte) {
	t.Helper()
	pk, err := b.Open(bus.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := pk.Write([]byte{byte(tag)}, 1); err != nil {
		t.Fatal(err)
	}
	if len(payload) > 0 {
		if err := pk.Write(payload, len(payload)); err != nil {
			t.Fatal(err)
		}
	}
	if err := pk.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDemuxFansOutByID(t *testing.T) {
	in := bus.New(1 << 20)
	downstream := map[uint32]*bus.Bus{}
	d := NewDemux(in, func(id uint32) *bus.Bus {
		b := bus.New(1 << 20)
		downstream[id] = b
		return b
	}, nil)

	info1 := envelope.VideoInfo{ID: 1, Width: 4, Height: 4}
	buf1 := make([]byte, envelope.VideoInfoSize)
	info1.Marshal(buf1)
	info2 := envelope.VideoInfo{ID: 2, Width: 8, Height: 8}
	buf2 := make([]byte, envelope.VideoInfoSize)
	info2.Marshal(buf2)

	writeEnv(t, in, envelope.TagVideoInfo, buf1)
	writeEnv(t, in, envelope.TagVideoInfo, buf2)
	writeEnv(t, in, envelope.TagClose, nil)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("demux did not finish")
	}

	b1 := downstream[1]
	if b1 == nil {
		t.Fatal("no downstream bus created for id 1")
	}
	pk, err := b1.Open(bus.ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	full := make([]byte, pk.Getsize())
	pk.Read(full, len(full))
	pk.Close()
	if envelope.Tag(full[0]) != envelope.TagVideoInfo {
		t.Fatalf("tag = %v", envelope.Tag(full[0]))
	}

	// Every created downstream bus must also see the terminating close.
	pk2, err := b1.Open(bus.ModeRead)
	if err != nil {
		t.Fatal(err)
	}
	full2 := make([]byte, pk2.Getsize())
	pk2.Read(full2, len(full2))
	pk2.Close()
	if envelope.Tag(full2[0]) != envelope.TagClose {
		t.Fatalf("expected close forwarded to downstream, got %v", envelope.Tag(full2[0]))
	}
}
