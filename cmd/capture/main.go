// Command capture wires the in-process capture pipeline together: the
// raw bus the gl.Sampler and audio.Hook publish onto, a demuxer that
// splits it by stream id, a per-stream scale/colorspace/color-correct/
// compress stage chain, and a streamfile writer. The actual
// interception of an application's GL present calls and ALSA writes
// happens at the call sites that construct a gl.Sampler/audio.Hook
// (outside this binary, in whatever hooking mechanism loads this module
// into the target process); this command is the wiring a hooked
// process runs once it has one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/colorproc"
	"github.com/wyatt8740/glc-sub000/internal/compress"
	"github.com/wyatt8740/glc-sub000/internal/config"
	"github.com/wyatt8740/glc-sub000/internal/demux"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/pipeline"
	"github.com/wyatt8740/glc-sub000/internal/streamfile"
)

func main() {
	if err := run(); err != nil {
		slog.Error("capture: fatal", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(logOutput(cfg), &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	if cfg.File == "" {
		return fmt.Errorf("GLC_FILE is required")
	}
	f, err := os.Create(cfg.File)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	writer := streamfile.NewWriter(f)
	if err := writer.WriteHeader(streamfile.Header{FPS: cfg.FPS, Name: os.Args[0]}); err != nil {
		return fmt.Errorf("write stream header: %w", err)
	}
	defer writer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rawBus := bus.New(cfg.UnscaledBufSize)
	sink := &fileSink{w: writer}

	g, gctx := errgroup.WithContext(ctx)

	d := demux.NewDemux(rawBus, func(id uint32) *bus.Bus {
		return newStreamPipeline(gctx, g, sink, cfg, log)
	}, log)
	g.Go(func() error { return d.Run(gctx) })

	return g.Wait()
}

// newStreamPipeline builds the scale -> colorspace -> color-correct ->
// compress chain for one newly-seen stream id, starts every stage's
// Runner and the sink's drain goroutine in the background, and returns
// the bus demux should forward that stream's envelopes to.
func newStreamPipeline(ctx context.Context, g *errgroup.Group, sink *fileSink, cfg config.Config, log *slog.Logger) *bus.Bus {
	in := bus.New(cfg.UncompressedBufSize)
	scaled := bus.New(cfg.UncompressedBufSize)
	colored := bus.New(cfg.UncompressedBufSize)
	corrected := bus.New(cfg.UncompressedBufSize)
	compressed := bus.New(cfg.CompressedBufSize)

	scale := colorproc.NewStage(cfg.ScaleFactor, cfg.TargetW, cfg.TargetH)
	colorspace := colorproc.NewColorspaceStage()
	correct := colorproc.NewColorCorrectStage()

	var codec compress.Codec
	if cfg.Compress == "quicklz" {
		codec = compress.CodecZstd
	}
	comp := compress.NewCompressStage(codec)

	runners := []*pipeline.Runner{
		pipeline.NewRunner(scale, in, scaled, 0, log),
		pipeline.NewRunner(colorspace, scaled, colored, 0, log),
		pipeline.NewRunner(correct, colored, corrected, 1, log),
	}
	final := corrected
	if cfg.Compress != "" && cfg.Compress != "none" {
		runners = append(runners, pipeline.NewRunner(comp, corrected, compressed, 0, log))
		final = compressed
	}

	for _, r := range runners {
		r := r
		g.Go(func() error { return r.Run(ctx) })
	}
	sink.watch(ctx, g, final)

	return in
}

// fileSink serializes writes from every per-stream final bus into one
// streamfile.Writer, since the writer itself is not safe for concurrent
// use.
type fileSink struct {
	mu sync.Mutex
	w  *streamfile.Writer
}

func (s *fileSink) watch(ctx context.Context, g *errgroup.Group, b *bus.Bus) {
	g.Go(func() error {
		for {
			pk, err := b.Open(bus.ModeRead)
			if err != nil {
				return nil
			}
			full := make([]byte, pk.Getsize())
			if rerr := pk.Read(full, len(full)); rerr != nil {
				pk.Cancel()
				return rerr
			}
			pk.Close()

			tag := envelope.Tag(full[0])
			s.mu.Lock()
			werr := s.w.WriteEnvelope(tag, full[1:])
			s.mu.Unlock()
			if werr != nil {
				return werr
			}
			if tag == envelope.TagClose {
				return nil
			}
		}
	})
}

func logOutput(cfg config.Config) *os.File {
	if cfg.LogFile == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr
	}
	return f
}
