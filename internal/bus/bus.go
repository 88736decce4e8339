// Package bus implements the packet bus: a bounded, ordered message-passing
// channel between one logical writer and one logical reader, either side
// possibly split across a pool of goroutines by a pipeline worker (see
// internal/pipeline). It provides zero-copy "DMA" access to packet memory,
// strict per-packet ordering fixed at Open time, back-pressure when the
// bus is full, and sticky cancellation.
package bus

import (
	"sync"

	"github.com/wyatt8740/glc-sub000/internal/bufpool"
	"github.com/wyatt8740/glc-sub000/internal/glcerrors"
)

// Mode selects which side of the bus Open acquires a packet for.
type Mode int

const (
	// ModeRead blocks until a committed packet is available.
	ModeRead Mode = iota
	// ModeWrite blocks until the bus has room for at least one more byte.
	ModeWrite
	// ModeWriteTry fails immediately with glcerrors.ErrBusy instead of
	// blocking when the bus is full.
	ModeWriteTry
)

// packet is the bus-internal representation of one in-flight message.
// Packet (exported) wraps a pointer to this plus the caller's read/write
// cursor, so Seek/Getsize/Setsize never race with bus bookkeeping.
type packet struct {
	buf       []byte
	closed    bool
	cancelled bool
	sizeSet   bool // Setsize was called explicitly before Close
}

// Packet is a writer's or reader's handle into one envelope of a Bus.
type Packet struct {
	bus    *Bus
	p      *packet
	mode   Mode
	cursor int
	dmaBuf []byte // staging buffer obtained from bufpool, returned on Close
}

// Bus is a bounded, ordered, cancellable packet channel.
type Bus struct {
	capacity int

	mu   sync.Mutex
	cond *sync.Cond

	used int

	// pending holds write-side packets in strict Open order that have not
	// yet been promoted to the reader-visible queue. A packet is promoted
	// once it (and every packet opened before it) has been Closed.
	pending []*packet
	// ready holds packets visible to the reader, in Open order.
	ready []*packet

	cancelled bool
	cancelCh  chan struct{}
}

// New creates a Bus with the given capacity in bytes.
func New(capacity int) *Bus {
	b := &Bus{
		capacity: capacity,
		cancelCh: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Capacity returns the bus's fixed capacity in bytes.
func (b *Bus) Capacity() int { return b.capacity }

// Cancelled reports whether the bus has been cancelled.
func (b *Bus) Cancelled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled
}

// Done returns a channel closed when the bus is cancelled, for callers
// that want to select on cancellation alongside other events.
func (b *Bus) Done() <-chan struct{} {
	return b.cancelCh
}

// Cancel poisons the bus: every blocked and future Open/Read/Write/Dma
// call fails with glcerrors.ErrInterrupted. Idempotent.
func (b *Bus) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return
	}
	b.cancelled = true
	close(b.cancelCh)
	b.cond.Broadcast()
}

// Open acquires a packet handle for reading or writing, per mode.
func (b *Bus) Open(mode Mode) (*Packet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch mode {
	case ModeRead:
		for {
			// A packet already promoted to the reader-visible queue must
			// be delivered even if the bus was cancelled afterward —
			// cancellation poisons future availability, it does not
			// retract a message that already committed.
			if len(b.ready) > 0 {
				p := b.ready[0]
				b.ready = b.ready[1:]
				return &Packet{bus: b, p: p, mode: ModeRead}, nil
			}
			if b.cancelled {
				return nil, &glcerrors.BusError{Op: "open-read", Err: glcerrors.ErrInterrupted}
			}
			b.cond.Wait()
		}

	case ModeWriteTry:
		if b.cancelled {
			return nil, &glcerrors.BusError{Op: "open-write-try", Err: glcerrors.ErrInterrupted}
		}
		if b.used >= b.capacity {
			return nil, &glcerrors.BusError{Op: "open-write-try", Err: glcerrors.ErrBusy}
		}
		return b.openWriteLocked(), nil

	case ModeWrite:
		for {
			if b.cancelled {
				return nil, &glcerrors.BusError{Op: "open-write", Err: glcerrors.ErrInterrupted}
			}
			if b.used < b.capacity {
				return b.openWriteLocked(), nil
			}
			b.cond.Wait()
		}

	default:
		return nil, &glcerrors.BusError{Op: "open", Err: glcerrors.ErrUnsupported}
	}
}

// openWriteLocked must be called with b.mu held. It registers a new
// write-side packet at the tail of the Open-order queue.
func (b *Bus) openWriteLocked() *Packet {
	p := &packet{}
	b.pending = append(b.pending, p)
	return &Packet{bus: b, p: p, mode: ModeWrite}
}

// reserveLocked charges n bytes against the bus's capacity, blocking
// until room is available or the bus is cancelled. own is the number of
// bytes the calling packet already holds.
func (b *Bus) reserveLocked(n, own int) error {
	for {
		if b.cancelled {
			return &glcerrors.BusError{Op: "write", Err: glcerrors.ErrInterrupted}
		}
		if b.used+n <= b.capacity || b.used == own {
			// Allow a single over-capacity write through when nothing else
			// is outstanding, so a payload larger than the bus capacity
			// cannot deadlock the writer forever.
			b.used += n
			return nil
		}
		b.cond.Wait()
	}
}

// releaseLocked returns n bytes of capacity to the bus and wakes any
// blocked Open(ModeWrite)/Write callers.
func (b *Bus) releaseLocked(n int) {
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
	b.cond.Broadcast()
}

// promoteLocked moves every leading, already-closed packet from pending
// to ready, preserving Open order. Cancelled packets are dropped from
// pending without ever reaching the reader.
func (b *Bus) promoteLocked() {
	for len(b.pending) > 0 {
		head := b.pending[0]
		if head.cancelled {
			b.pending = b.pending[1:]
			continue
		}
		if !head.closed {
			break
		}
		b.pending = b.pending[1:]
		b.ready = append(b.ready, head)
	}
	b.cond.Broadcast()
}

// Read copies exactly n bytes from the packet's current cursor into dst,
// advancing the cursor.
func (pk *Packet) Read(dst []byte, n int) error {
	if pk.mode != ModeRead {
		return &glcerrors.BusError{Op: "read", Err: glcerrors.ErrUnsupported}
	}
	if pk.cursor+n > len(pk.p.buf) {
		return &glcerrors.BusError{Op: "read", Err: glcerrors.ErrUnsupported}
	}
	copy(dst, pk.p.buf[pk.cursor:pk.cursor+n])
	pk.cursor += n
	return nil
}

// Write appends n bytes from src at the end of the packet, growing it and
// moving the cursor to the new end; a cursor moved by Seek does not
// change where the bytes land. It blocks if the bus is full.
func (pk *Packet) Write(src []byte, n int) error {
	if pk.mode != ModeWrite {
		return &glcerrors.BusError{Op: "write", Err: glcerrors.ErrUnsupported}
	}
	pk.bus.mu.Lock()
	if err := pk.bus.reserveLocked(n, len(pk.p.buf)); err != nil {
		pk.bus.mu.Unlock()
		return err
	}
	pk.bus.mu.Unlock()

	pk.p.buf = append(pk.p.buf, src[:n]...)
	pk.cursor = len(pk.p.buf)
	return nil
}

// DmaFlags controls Dma's staging behavior.
type DmaFlags int

// AcceptFakeDMA is a DmaFlags bit that this implementation ignores: Dma
// always returns a slice of the packet's own buffer, so the bus never has
// a staging buffer to copy in at Close.
const AcceptFakeDMA DmaFlags = 1 << 0

// Dma hands the caller an in-place byte slice of n bytes of the packet,
// to fill (write mode) or read (read mode) without a copy. In read mode
// the slice starts at the current cursor; in write mode it is appended
// at the end of the packet, whatever the cursor.
func (pk *Packet) Dma(n int, flags DmaFlags) ([]byte, error) {
	switch pk.mode {
	case ModeWrite:
		pk.bus.mu.Lock()
		if err := pk.bus.reserveLocked(n, len(pk.p.buf)); err != nil {
			pk.bus.mu.Unlock()
			return nil, err
		}
		pk.bus.mu.Unlock()

		staging := bufpool.Get(n)
		start := len(pk.p.buf)
		pk.p.buf = append(pk.p.buf, staging...)
		pk.cursor = start + n
		pk.dmaBuf = staging
		return pk.p.buf[start : start+n], nil

	case ModeRead:
		if pk.cursor+n > len(pk.p.buf) {
			return nil, &glcerrors.BusError{Op: "dma", Err: glcerrors.ErrUnsupported}
		}
		region := pk.p.buf[pk.cursor : pk.cursor+n]
		pk.cursor += n
		return region, nil

	default:
		return nil, &glcerrors.BusError{Op: "dma", Err: glcerrors.ErrUnsupported}
	}
}

// Seek repositions the packet's cursor to an absolute offset. Read and
// read-mode Dma start at the cursor; Write and write-mode Dma always
// append at the end of the packet.
func (pk *Packet) Seek(off int) error {
	if off < 0 || off > len(pk.p.buf) {
		return &glcerrors.BusError{Op: "seek", Err: glcerrors.ErrUnsupported}
	}
	pk.cursor = off
	return nil
}

// Getsize returns the packet's current size: the furthest offset written
// (or the explicit Setsize value, once called).
func (pk *Packet) Getsize() int {
	return len(pk.p.buf)
}

// Setsize overrides the packet's final committed size. Used by stages that
// reserve a worst-case allocation and commit a smaller final size; must be
// called before Close.
func (pk *Packet) Setsize(sz int) error {
	if sz < 0 || sz > cap(pk.p.buf) {
		return &glcerrors.BusError{Op: "setsize", Err: glcerrors.ErrUnsupported}
	}
	old := len(pk.p.buf)
	pk.p.buf = pk.p.buf[:sz]
	pk.p.sizeSet = true
	if pk.mode == ModeWrite && sz != old {
		// Keep the capacity charged for this packet equal to its size, so
		// the unused part of a worst-case reservation is returned now.
		pk.bus.mu.Lock()
		pk.bus.releaseLocked(old - sz)
		pk.bus.mu.Unlock()
	}
	return nil
}

// Close commits a write packet (making it eligible to become visible to
// the reader once every earlier-opened packet is also closed) or releases
// a read packet's reserved capacity back to the bus.
func (pk *Packet) Close() error {
	switch pk.mode {
	case ModeWrite:
		pk.bus.mu.Lock()
		pk.p.closed = true
		pk.bus.promoteLocked()
		pk.bus.mu.Unlock()
		pk.releaseDmaStaging()
		return nil

	case ModeRead:
		pk.bus.mu.Lock()
		pk.bus.releaseLocked(len(pk.p.buf))
		pk.bus.mu.Unlock()
		return nil

	default:
		return &glcerrors.BusError{Op: "close", Err: glcerrors.ErrUnsupported}
	}
}

// releaseDmaStaging returns a Dma call's staging buffer to bufpool. The
// packet's own buf was already grown by appending a copy of the staging
// bytes, so the staging buffer itself is free to reuse the moment the
// packet is done being written to.
func (pk *Packet) releaseDmaStaging() {
	if pk.dmaBuf != nil {
		bufpool.Put(pk.dmaBuf)
		pk.dmaBuf = nil
	}
}

// Cancel discards a packet: a write packet is dropped from the Open-order
// queue without ever reaching the reader and its reserved capacity is
// released; a read packet is released the same way Close would release it.
func (pk *Packet) Cancel() error {
	switch pk.mode {
	case ModeWrite:
		pk.bus.mu.Lock()
		pk.p.cancelled = true
		pk.bus.releaseLocked(len(pk.p.buf))
		pk.bus.promoteLocked()
		pk.bus.mu.Unlock()
		pk.releaseDmaStaging()
		return nil

	case ModeRead:
		pk.bus.mu.Lock()
		pk.bus.releaseLocked(len(pk.p.buf))
		pk.bus.mu.Unlock()
		return nil

	default:
		return &glcerrors.BusError{Op: "cancel", Err: glcerrors.ErrUnsupported}
	}
}
