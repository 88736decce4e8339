// Command play reads a glc-sub000 stream file and either reports its
// metadata, exports a single frame or an entire stream to a standard
// format, or replays it in real time. Subcommands: info, bmp, png, wav,
// yuv4mpeg, show. Invoking it with no subcommand is equivalent to show.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/wyatt8740/glc-sub000/internal/bus"
	"github.com/wyatt8740/glc-sub000/internal/clock"
	"github.com/wyatt8740/glc-sub000/internal/compress"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/export"
	"github.com/wyatt8740/glc-sub000/internal/pipeline"
	"github.com/wyatt8740/glc-sub000/internal/replay/audioplay"
	"github.com/wyatt8740/glc-sub000/internal/replay/glplay"
	"github.com/wyatt8740/glc-sub000/internal/streamfile"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("play: fatal", "err", err)
		os.Exit(1)
	}
}

func usage() error {
	return fmt.Errorf("usage: play <info|bmp|png|wav|yuv4mpeg|show> <input.glc> [output]")
}

func run(args []string) error {
	cmd := "show"
	rest := args
	if len(args) > 0 {
		switch args[0] {
		case "info", "bmp", "png", "wav", "yuv4mpeg", "show":
			cmd, rest = args[0], args[1:]
		}
	}
	if len(rest) < 1 {
		return usage()
	}
	inPath := rest[0]
	var outPath string
	if len(rest) > 1 {
		outPath = rest[1]
	}

	f, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", inPath, err)
	}
	defer f.Close()

	reader := streamfile.NewReader(f)
	hdr, err := reader.ReadHeader()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	if cmd == "info" {
		return printInfo(reader, hdr)
	}

	log := slog.Default()
	decoded := bus.New(32 << 20)
	raw := bus.New(32 << 20)

	g, ctx := errgroup.WithContext(context.Background())
	dec := compress.NewDecompressStage()
	runner := pipeline.NewRunner(dec, raw, decoded, 1, log)
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return feedFromFile(reader, raw) })

	switch cmd {
	case "bmp":
		g.Go(func() error { return exportSingleFrame(decoded, outPath, export.WriteBMP) })
	case "png":
		g.Go(func() error { return exportSingleFrame(decoded, outPath, export.WritePNG) })
	case "wav":
		g.Go(func() error { return exportWAV(decoded, outPath) })
	case "yuv4mpeg":
		g.Go(func() error { return exportY4M(decoded, outPath, hdr) })
	default: // show
		g.Go(func() error { return show(decoded, hdr) })
	}

	return g.Wait()
}

func printInfo(r *streamfile.Reader, hdr streamfile.Header) error {
	fmt.Printf("name: %s\n", hdr.Name)
	fmt.Printf("captured: %s\n", hdr.CaptureDate)
	fmt.Printf("fps: %.3f\n", hdr.FPS)

	videos := map[uint32]envelope.VideoInfo{}
	audios := map[uint32]envelope.AudioInfo{}
	for {
		tag, payload, err := r.ReadEnvelope()
		if err != nil {
			return err
		}
		switch tag {
		case envelope.TagClose:
			for id, v := range videos {
				fmt.Printf("video stream %d: %dx%d format=%d\n", id, v.Width, v.Height, v.Format)
			}
			for id, a := range audios {
				fmt.Printf("audio stream %d: %dHz %dch format=%d\n", id, a.Rate, a.Channels, a.Format)
			}
			return nil
		case envelope.TagVideoInfo:
			if v, err := envelope.UnmarshalVideoInfo(payload); err == nil {
				videos[v.ID] = v
			}
		case envelope.TagAudioInfo:
			if a, err := envelope.UnmarshalAudioInfo(payload); err == nil {
				audios[a.ID] = a
			}
		}
	}
}

// feedFromFile drives the decompress Runner by replaying every envelope
// in the stream file onto raw, in file order.
func feedFromFile(r *streamfile.Reader, raw *bus.Bus) error {
	for {
		tag, payload, err := r.ReadEnvelope()
		if err != nil {
			return err
		}
		pk, err := raw.Open(bus.ModeWrite)
		if err != nil {
			return err
		}
		if err := pk.Write([]byte{byte(tag)}, 1); err != nil {
			pk.Cancel()
			return err
		}
		if len(payload) > 0 {
			if err := pk.Write(payload, len(payload)); err != nil {
				pk.Cancel()
				return err
			}
		}
		if err := pk.Close(); err != nil {
			return err
		}
		if tag == envelope.TagClose {
			return nil
		}
	}
}

// decodedFrame pairs a decoded video packet with the VideoInfo in effect
// when it arrived.
type decodedFrame struct {
	info envelope.VideoInfo
	pix  []byte
}

func nextVideoFrame(decoded *bus.Bus, info *envelope.VideoInfo, haveInfo *bool) (decodedFrame, bool, error) {
	for {
		pk, err := decoded.Open(bus.ModeRead)
		if err != nil {
			return decodedFrame{}, false, err
		}
		full := make([]byte, pk.Getsize())
		if err := pk.Read(full, len(full)); err != nil {
			pk.Cancel()
			return decodedFrame{}, false, err
		}
		pk.Close()

		tag := envelope.Tag(full[0])
		payload := full[1:]
		switch tag {
		case envelope.TagClose:
			return decodedFrame{}, false, nil
		case envelope.TagVideoInfo:
			v, err := envelope.UnmarshalVideoInfo(payload)
			if err != nil {
				continue
			}
			*info = v
			*haveInfo = true
		case envelope.TagVideo:
			if !*haveInfo {
				continue
			}
			vd, err := envelope.UnmarshalVideoData(payload)
			if err != nil {
				continue
			}
			if vd.ID != info.ID {
				continue
			}
			return decodedFrame{info: *info, pix: payload[envelope.VideoDataSize:]}, true, nil
		}
	}
}

// exportSingleFrame waits for the first decoded video frame and writes
// it through write (export.WriteBMP or export.WritePNG).
func exportSingleFrame(decoded *bus.Bus, outPath string, write func(w io.Writer, f export.Frame) error) error {
	var info envelope.VideoInfo
	var haveInfo bool
	frame, ok, err := nextVideoFrame(decoded, &info, &haveInfo)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("play: stream has no video frames")
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()
	return write(out, export.Frame{Width: int(frame.info.Width), Height: int(frame.info.Height), Format: frame.info.Format, Pix: frame.pix})
}

// exportWAV decodes every audio packet of the stream's first audio
// stream id and writes it to a WAV file.
func exportWAV(decoded *bus.Bus, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var w *export.WAVWriter
	var streamID uint32
	var haveStream bool
	var format envelope.SampleFormat

	for {
		pk, err := decoded.Open(bus.ModeRead)
		if err != nil {
			return err
		}
		full := make([]byte, pk.Getsize())
		if err := pk.Read(full, len(full)); err != nil {
			pk.Cancel()
			return err
		}
		pk.Close()

		tag := envelope.Tag(full[0])
		payload := full[1:]
		switch tag {
		case envelope.TagClose:
			if w != nil {
				return w.Close()
			}
			return fmt.Errorf("play: stream has no audio")
		case envelope.TagAudioInfo:
			if haveStream {
				continue
			}
			a, err := envelope.UnmarshalAudioInfo(payload)
			if err != nil {
				continue
			}
			w, err = export.NewWAVWriter(out, a)
			if err != nil {
				return err
			}
			streamID = a.ID
			format = a.Format
			haveStream = true
		case envelope.TagAudio:
			if !haveStream {
				continue
			}
			ad, err := envelope.UnmarshalAudioData(payload)
			if err != nil || ad.ID != streamID {
				continue
			}
			samples := payload[envelope.AudioDataSize:]
			if err := w.WriteSamples(format, samples); err != nil {
				return err
			}
		}
	}
}

// exportY4M decodes every video packet of the stream's first video
// stream id and writes it as a YUV4MPEG2 stream.
func exportY4M(decoded *bus.Bus, outPath string, hdr streamfile.Header) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	fps := hdr.FPS
	if fps <= 0 {
		fps = 30
	}

	var info envelope.VideoInfo
	var haveInfo bool
	var writer *export.Y4MWriter

	for {
		pk, err := decoded.Open(bus.ModeRead)
		if err != nil {
			return err
		}
		full := make([]byte, pk.Getsize())
		if err := pk.Read(full, len(full)); err != nil {
			pk.Cancel()
			return err
		}
		pk.Close()

		tag := envelope.Tag(full[0])
		payload := full[1:]
		switch tag {
		case envelope.TagClose:
			return nil
		case envelope.TagVideoInfo:
			if haveInfo {
				continue
			}
			v, err := envelope.UnmarshalVideoInfo(payload)
			if err != nil {
				continue
			}
			info = v
			haveInfo = true
			writer, err = export.NewY4MWriter(out, int(v.Width), int(v.Height), int(fps*1000), 1000)
			if err != nil {
				return err
			}
		case envelope.TagVideo:
			if !haveInfo {
				continue
			}
			vd, err := envelope.UnmarshalVideoData(payload)
			if err != nil || vd.ID != info.ID {
				continue
			}
			if err := writer.WriteFrame(payload[envelope.VideoDataSize:]); err != nil {
				return err
			}
		}
	}
}

// show replays the stream in real time: a glfw window for video, a
// portaudio stream for audio, both paced against a shared clock.Clock
// seeded from the first video frame's timestamp.
func show(decoded *bus.Bus, hdr streamfile.Header) error {
	clk := clock.New()
	log := slog.Default()

	var vplayer *glplay.Player
	var aplayer *audioplay.Player
	var videoID, audioID uint32
	var haveVideoID, haveAudioID bool
	var videoInfo envelope.VideoInfo
	var audioFormat envelope.SampleFormat
	var started bool
	var baseTS int64

	defer func() {
		if vplayer != nil {
			vplayer.Close()
		}
		if aplayer != nil {
			aplayer.Close()
		}
	}()

	for {
		pk, err := decoded.Open(bus.ModeRead)
		if err != nil {
			return err
		}
		full := make([]byte, pk.Getsize())
		if err := pk.Read(full, len(full)); err != nil {
			pk.Cancel()
			return err
		}
		pk.Close()

		tag := envelope.Tag(full[0])
		payload := full[1:]

		switch tag {
		case envelope.TagClose:
			return nil
		case envelope.TagVideoInfo:
			v, err := envelope.UnmarshalVideoInfo(payload)
			if err != nil {
				continue
			}
			videoInfo = v
			if !haveVideoID {
				videoID, haveVideoID = v.ID, true
				vplayer, err = glplay.NewPlayer(clk, int(v.Width), int(v.Height), hdr.Name, log)
				if err != nil {
					return err
				}
			}
		case envelope.TagAudioInfo:
			a, err := envelope.UnmarshalAudioInfo(payload)
			if err != nil {
				continue
			}
			if !haveAudioID {
				audioID, haveAudioID = a.ID, true
				audioFormat = a.Format
				aplayer, err = audioplay.NewPlayer(clk, a, log)
				if err != nil {
					log.Warn("audio playback unavailable", "err", err)
					aplayer = nil
				}
			}
		case envelope.TagVideo:
			vd, err := envelope.UnmarshalVideoData(payload)
			if err != nil || !haveVideoID || vd.ID != videoID || vplayer == nil {
				continue
			}
			if !started {
				baseTS = vd.Timestamp
				clk.SetDiff(baseTS)
				started = true
			}
			vplayer.PollEvents()
			vplayer.WaitForTimestamp(vd.Timestamp)
			if vplayer.ShouldClose() {
				return nil
			}
			pix := payload[envelope.VideoDataSize:]
			vplayer.ShowFrame(int(videoInfo.Width), int(videoInfo.Height), videoInfo.Format, pix)
		case envelope.TagAudio:
			ad, err := envelope.UnmarshalAudioData(payload)
			if err != nil || !haveAudioID || ad.ID != audioID || aplayer == nil {
				continue
			}
			aplayer.WaitForTimestamp(ad.Timestamp)
			samples := payload[envelope.AudioDataSize:]
			if err := aplayer.Play(audioFormat, samples); err != nil {
				log.Warn("audio playback error", "err", err)
			}
		}
	}
}
