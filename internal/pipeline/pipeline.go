// Package pipeline implements the generic read-transform-write worker
// pattern: N parallel goroutines fed by one source bus, draining to at
// most one sink bus, that preserve the input packet order on the output
// regardless of how long any individual worker takes to process its
// packet. The scale, colorspace, color-correct and compress stages are
// instances of Stage driven by a Runner; the demuxer (internal/demux)
// reads its bus directly and is not a Stage.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/glcerrors"
)

// Flags carries the per-iteration control bits a Stage callback can set
// on State to influence what the worker does next.
type Flags int

const (
	// FlagCopy skips OnWrite; the worker copies the input payload to the
	// output verbatim.
	FlagCopy Flags = 1 << iota
	// FlagSkipRead means this iteration does not read a packet.
	FlagSkipRead
	// FlagSkipWrite means this iteration does not write a packet.
	FlagSkipWrite
	// FlagUnknownFinalSize means the worker reserved a worst-case output
	// allocation and will commit the final size via Setsize at close.
	FlagUnknownFinalSize
	// FlagStop tells the worker to exit gracefully after this iteration.
	FlagStop
)

// Has reports whether f contains flag.
func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// State is passed to every Stage callback for one iteration. It carries
// the envelope header, pointers to input/output payload, and the control
// flags the callback may set.
type State struct {
	Tag        envelope.Tag
	ReadSize   int
	WriteSize  int
	ReadData   []byte
	WriteData  []byte
	Flags      Flags
	WorkerData any // per-goroutine scratch returned by NewWorkerState
}

// Stage is the trait every pipeline step implements; any method may be a
// no-op default by embedding NopStage. Exactly one Stage instance backs
// an entire worker pool: per-goroutine state lives in the value returned
// by NewWorkerState, not in the Stage itself, so a Stage implementation
// must be safe for concurrent use by all workers.
type Stage interface {
	// Name identifies the stage in logs and StageError values.
	Name() string
	// NewWorkerState allocates per-goroutine scratch at worker startup.
	NewWorkerState() (any, error)
	// CloseWorkerState releases per-goroutine scratch on worker exit.
	CloseWorkerState(state any)
	// OnOpen runs before the input packet is opened; it may set
	// FlagSkipRead on st.Flags.
	OnOpen(st *State)
	// OnHeader runs once the 1-byte tag and full read size are known; it
	// sets st.WriteSize and may set FlagCopy.
	OnHeader(st *State)
	// OnRead runs once the entire input payload is in st.ReadData; it may
	// set FlagSkipWrite, FlagCopy, or FlagStop.
	OnRead(st *State)
	// OnWrite runs once the output DMA region is acquired; it fills
	// st.WriteData.
	OnWrite(st *State)
	// OnClose runs after both packets are closed.
	OnClose(st *State)
	// Finish runs exactly once, after the last worker exits.
	Finish(err error)
}

// NopStage implements every Stage method as a no-op; embed it and
// override only the callbacks a concrete stage needs.
type NopStage struct{}

func (NopStage) NewWorkerState() (any, error)  { return nil, nil }
func (NopStage) CloseWorkerState(any)          {}
func (NopStage) OnOpen(*State)                 {}
func (NopStage) OnHeader(*State)               {}
func (NopStage) OnRead(*State)                 {}
func (NopStage) OnWrite(*State)                {}
func (NopStage) OnClose(*State)                {}
func (NopStage) Finish(error)                  {}

// Runner drives a Stage with a pool of worker goroutines reading from In
// and, if Out is non-nil, writing to Out, preserving In's packet order on
// Out.
type Runner struct {
	Stage   Stage
	In      *bus.Bus
	Out     *bus.Bus // nil for a sink stage with no output
	Workers int      // NewRunner turns a value <= 0 into runtime.GOMAXPROCS(0)

	log *slog.Logger

	openMu sync.Mutex // serializes Open-on-input + Open-on-output across workers

	errOnce sync.Once
	firstErr error
	finishOnce sync.Once
}

// NewRunner creates a Runner for stage, reading from in and writing to
// out (nil for a terminal stage). If log is nil, slog.Default() is used.
func NewRunner(stage Stage, in, out *bus.Bus, workers int, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{
		Stage:   stage,
		In:      in,
		Out:     out,
		Workers: workers,
		log:     log.With("stage", stage.Name()),
	}
}

// Run starts Workers goroutines and blocks until every worker exits: on
// seeing a Close envelope, on ctx cancellation, on bus cancellation, or on
// any worker's fatal error (which poisons both buses so siblings exit
// promptly). It returns the first non-nil error reported by any worker.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()

	r.finishOnce.Do(func() {
		r.Stage.Finish(r.firstErr)
	})
	return r.firstErr
}

func (r *Runner) fail(err error) {
	r.errOnce.Do(func() {
		r.firstErr = err
		r.In.Cancel()
		if r.Out != nil {
			r.Out.Cancel()
		}
	})
}

func (r *Runner) runWorker(ctx context.Context, id int) {
	state, err := r.Stage.NewWorkerState()
	if err != nil {
		r.fail(&glcerrors.StageError{Stage: r.Stage.Name(), Op: "new-worker-state", Err: err})
		return
	}
	defer r.Stage.CloseWorkerState(state)

	for {
		if ctx.Err() != nil {
			return
		}
		stop, err := r.iterate(state)
		if err != nil {
			if glcerrors.IsInterrupted(err) {
				return
			}
			r.fail(err)
			return
		}
		if stop {
			// This worker forwarded the terminating Close envelope. Only
			// In is cancelled, to wake siblings idle in Open(ModeRead)
			// waiting for input that will never arrive; Out is left alone
			// since a sibling may still be mid-write on an earlier,
			// still-open output packet.
			r.In.Cancel()
			return
		}
	}
}

// iterate runs one read-transform-write cycle. The open lock serializes
// Open-on-input followed by Open-on-output across all workers so that
// the order packets become visible on Out exactly matches the order they
// were opened on In, per the bus's own Open-ordering guarantee; the lock
// is released before any read/compute/write work happens, so a slow
// worker never blocks faster siblings from making progress.
func (r *Runner) iterate(state any) (stop bool, err error) {
	st := &State{WorkerData: state}

	r.Stage.OnOpen(st)

	r.openMu.Lock()
	var inPk *bus.Packet
	if !st.Flags.Has(FlagSkipRead) {
		inPk, err = r.In.Open(bus.ModeRead)
		if err != nil {
			r.openMu.Unlock()
			return false, err
		}
	}

	var outPk *bus.Packet
	needOutput := r.Out != nil
	if needOutput {
		outPk, err = r.Out.Open(bus.ModeWrite)
		if err != nil {
			r.openMu.Unlock()
			if inPk != nil {
				inPk.Cancel()
			}
			return false, err
		}
	}
	r.openMu.Unlock()

	if inPk != nil {
		tag, readSize, rerr := readHeader(inPk)
		if rerr != nil {
			inPk.Cancel()
			if outPk != nil {
				outPk.Cancel()
			}
			return false, &glcerrors.StageError{Stage: r.Stage.Name(), Op: "read-header", Err: rerr}
		}
		st.Tag = tag
		st.ReadSize = readSize
		st.WriteSize = readSize
		if tag == envelope.TagClose {
			// Close must propagate downstream unmodified so every stage
			// after this one also sees a terminating envelope.
			st.Flags |= FlagCopy
		}

		r.Stage.OnHeader(st)

		if readSize > 0 {
			payload := make([]byte, readSize)
			if rerr := inPk.Read(payload, readSize); rerr != nil {
				inPk.Cancel()
				if outPk != nil {
					outPk.Cancel()
				}
				return false, &glcerrors.StageError{Stage: r.Stage.Name(), Op: "read-payload", Err: rerr}
			}
			st.ReadData = payload
		}

		if tag == envelope.TagClose {
			st.Flags |= FlagStop
		}

		r.Stage.OnRead(st)
	}

	if outPk != nil && !st.Flags.Has(FlagSkipWrite) {
		if werr := r.writeEnvelope(outPk, st); werr != nil {
			if inPk != nil {
				inPk.Cancel()
			}
			outPk.Cancel()
			return false, &glcerrors.StageError{Stage: r.Stage.Name(), Op: "write", Err: werr}
		}
	} else if outPk != nil {
		outPk.Cancel()
		outPk = nil
	}

	if inPk != nil {
		if cerr := inPk.Close(); cerr != nil {
			return false, &glcerrors.StageError{Stage: r.Stage.Name(), Op: "close-in", Err: cerr}
		}
	}
	if outPk != nil {
		if cerr := outPk.Close(); cerr != nil {
			return false, &glcerrors.StageError{Stage: r.Stage.Name(), Op: "close-out", Err: cerr}
		}
	}

	r.Stage.OnClose(st)

	return st.Flags.Has(FlagStop), nil
}

func readHeader(pk *bus.Packet) (envelope.Tag, int, error) {
	tagBuf := make([]byte, 1)
	if err := pk.Read(tagBuf, 1); err != nil {
		return 0, 0, err
	}
	remaining := pk.Getsize() - 1
	return envelope.Tag(tagBuf[0]), remaining, nil
}

// writeEnvelope writes the tag byte and then either copies the input
// payload verbatim (FlagCopy) or acquires a DMA region of st.WriteSize
// bytes, invokes the stage's OnWrite to fill it, and — if the stage set
// FlagUnknownFinalSize — commits the true final size via Setsize.
func (r *Runner) writeEnvelope(pk *bus.Packet, st *State) error {
	if err := pk.Write([]byte{byte(st.Tag)}, 1); err != nil {
		return err
	}

	if st.Flags.Has(FlagCopy) {
		if len(st.ReadData) == 0 {
			return nil
		}
		return pk.Write(st.ReadData, len(st.ReadData))
	}

	if st.WriteSize <= 0 {
		return nil
	}

	region, err := pk.Dma(st.WriteSize, bus.AcceptFakeDMA)
	if err != nil {
		return err
	}
	st.WriteData = region

	r.Stage.OnWrite(st)

	if st.Flags.Has(FlagUnknownFinalSize) {
		// WriteData may have been reassigned to a shorter slice by OnWrite;
		// the final size is 1 (tag) + len(st.WriteData).
		return pk.Setsize(1 + len(st.WriteData))
	}
	return nil
}

// ErrStopped is a sentinel for a clean stop caused by an upstream Close
// envelope. Run does not return it: a clean stop makes Run return nil.
var ErrStopped = errors.New("pipeline: stopped")
