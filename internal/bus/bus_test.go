package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/wyatt8740/glc-sub000/internal/glcerrors"
)

func writePacket(t *testing.T, b *Bus, payload []byte) {
	t.Helper()
	p, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatalf("open write: %v", err)
	}
	if err := p.Write(payload, len(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func readPacket(t *testing.T, b *Bus) []byte {
	t.Helper()
	p, err := b.Open(ModeRead)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	out := make([]byte, p.Getsize())
	if err := p.Read(out, len(out)); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return out
}

func TestOrderByOpenNotClose(t *testing.T) {
	t.Parallel()
	b := New(1 << 20)

	p1, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}

	// p2 (opened second) closes first: it must still surface to the
	// reader after p1.
	if err := p2.Write([]byte("second"), 6); err != nil {
		t.Fatal(err)
	}
	if err := p2.Close(); err != nil {
		t.Fatal(err)
	}
	if err := p1.Write([]byte("first!"), 6); err != nil {
		t.Fatal(err)
	}
	if err := p1.Close(); err != nil {
		t.Fatal(err)
	}

	if got := string(readPacket(t, b)); got != "first!" {
		t.Fatalf("first packet read: got %q, want %q", got, "first!")
	}
	if got := string(readPacket(t, b)); got != "second" {
		t.Fatalf("second packet read: got %q, want %q", got, "second")
	}
}

func TestReadSeesFullPayloadOnlyAfterClose(t *testing.T) {
	t.Parallel()
	b := New(1024)

	p, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := b.Open(ModeRead)
		if err != nil {
			t.Error(err)
		}
	}()

	select {
	case <-done:
		t.Fatal("reader unblocked before any packet was closed")
	case <-time.After(50 * time.Millisecond):
	}

	if err := p.Write([]byte("x"), 1); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not unblock after close")
	}
}

func TestWriteTryBusyWhenFull(t *testing.T) {
	t.Parallel()
	b := New(4)

	p, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Write([]byte{1, 2, 3, 4}, 4); err != nil {
		t.Fatal(err)
	}

	_, err = b.Open(ModeWriteTry)
	if !glcerrors.IsBusy(err) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCancelIsStickyAndFast(t *testing.T) {
	t.Parallel()
	b := New(16)
	b.Cancel()
	b.Cancel() // idempotent

	if _, err := b.Open(ModeRead); !glcerrors.IsInterrupted(err) {
		t.Fatalf("open read after cancel: got %v", err)
	}
	if _, err := b.Open(ModeWrite); !glcerrors.IsInterrupted(err) {
		t.Fatalf("open write after cancel: got %v", err)
	}
	if _, err := b.Open(ModeWriteTry); !glcerrors.IsInterrupted(err) {
		t.Fatalf("open write-try after cancel: got %v", err)
	}
}

func TestCancelUnblocksWaitingOpen(t *testing.T) {
	t.Parallel()
	b := New(16)

	var wg sync.WaitGroup
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := b.Open(ModeRead)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Cancel()
	wg.Wait()

	if err := <-errs; !glcerrors.IsInterrupted(err) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestCancelledWritePacketNeverReachesReader(t *testing.T) {
	t.Parallel()
	b := New(1024)

	p1, _ := b.Open(ModeWrite)
	p2, _ := b.Open(ModeWrite)

	p1.Write([]byte("keep"), 4)
	p1.Close()

	p2.Write([]byte("drop"), 4)
	if err := p2.Cancel(); err != nil {
		t.Fatal(err)
	}

	p3, _ := b.Open(ModeWrite)
	p3.Write([]byte("next"), 4)
	p3.Close()

	if got := string(readPacket(t, b)); got != "keep" {
		t.Fatalf("got %q, want keep", got)
	}
	if got := string(readPacket(t, b)); got != "next" {
		t.Fatalf("got %q, want next (cancelled packet must not surface)", got)
	}
}

func TestSetsizeTruncatesWorstCaseAllocation(t *testing.T) {
	t.Parallel()
	b := New(1024)

	p, err := b.Open(ModeWrite)
	if err != nil {
		t.Fatal(err)
	}
	region, err := p.Dma(100, AcceptFakeDMA)
	if err != nil {
		t.Fatal(err)
	}
	copy(region, []byte("hello"))
	if err := p.Setsize(5); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	if got := string(readPacket(t, b)); got != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

func TestConcurrentWritersPreserveOpenOrder(t *testing.T) {
	t.Parallel()
	b := New(1 << 20)
	const n = 50

	handles := make([]*Packet, n)
	for i := 0; i < n; i++ {
		p, err := b.Open(ModeWrite)
		if err != nil {
			t.Fatal(err)
		}
		handles[i] = p
	}

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := []byte{byte(i)}
			handles[i].Write(buf, 1)
			handles[i].Close()
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		got := readPacket(t, b)
		if len(got) != 1 || got[0] != byte(i) {
			t.Fatalf("packet %d: got %v, want [%d]", i, got, i)
		}
	}
}
