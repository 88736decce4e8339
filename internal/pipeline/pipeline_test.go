package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

// upperStage uppercases every payload, preserving input order on output.
type upperStage struct {
	NopStage
	finishedErr error
	mu          sync.Mutex
}

func (s *upperStage) Name() string { return "upper" }

func (s *upperStage) OnRead(st *State) {
	if st.Tag == envelope.TagClose {
		return
	}
	st.WriteData = []byte(strings.ToUpper(string(st.ReadData)))
	st.WriteSize = len(st.WriteData)
}

func (s *upperStage) OnWrite(st *State) {
	copy(st.WriteData, []byte(strings.ToUpper(string(st.ReadData))))
}

func (s *upperStage) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedErr = err
}

func writeMessage(t *testing.T, b *bus.Bus, tag envelope.Tag, payload string) {
	t.Helper()
	p, err := b.Open(bus.ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Write([]byte{byte(tag)}, 1); err != nil {
		t.Fatal(err)
	}
	if len(payload) > 0 {
		if err := p.Write([]byte(payload), len(payload)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func readMessage(t *testing.T, b *bus.Bus) (envelope.Tag, string) {
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
	return envelope.Tag(full[0]), string(full[1:])
}

func TestRunnerPreservesOrderAcrossWorkers(t *testing.T) {
	t.Parallel()
	in := bus.New(1 << 20)
	out := bus.New(1 << 20)

	const n = 20
	for i := 0; i < n; i++ {
		writeMessage(t, in, envelope.TagVideo, strings.Repeat("a", i%3+1))
	}
	writeMessage(t, in, envelope.TagClose, "")

	stage := &upperStage{}
	r := NewRunner(stage, in, out, 4, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	for i := 0; i < n; i++ {
		tag, payload := readMessage(t, out)
		if tag != envelope.TagVideo {
			t.Fatalf("packet %d: tag = %v, want video", i, tag)
		}
		want := strings.ToUpper(strings.Repeat("a", i%3+1))
		if payload != want {
			t.Fatalf("packet %d: got %q, want %q", i, payload, want)
		}
	}
	tag, _ := readMessage(t, out)
	if tag != envelope.TagClose {
		t.Fatalf("expected terminating close envelope, got %v", tag)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after close envelope")
	}
}

func TestRunnerStopsOnBusCancel(t *testing.T) {
	t.Parallel()
	in := bus.New(1024)
	out := bus.New(1024)

	stage := &upperStage{}
	r := NewRunner(stage, in, out, 2, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	in.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after bus cancellation")
	}
}
