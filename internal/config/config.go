// Package config parses the GLC_* environment variables that configure
// the capture library, validating each one at load time rather than
// failing deep inside the pipeline later.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/glcerrors"
)

// Config is the fully parsed, validated capture configuration.
type Config struct {
	Start       bool
	File        string
	FPS         float64
	Colorspace  envelope.PixelFormat
	Hotkey      string
	ScaleFactor float64
	TargetW, TargetH int
	CropW, CropH, CropX, CropY int

	Capture            bool
	Compress           string // "", "lzo", "quicklz"
	CompressedBufSize   int
	UncompressedBufSize int
	UnscaledBufSize     int

	Audio            bool
	AudioSkip        bool
	Indicator        bool
	LockFPS          bool
	TryPBO           bool
	CaptureDWordAligned bool

	LogLevel slog.Level
	LogFile  string
	SigHandler bool
}

// Default returns the configuration used when no GLC_* variables are
// set: capture disabled until the hotkey, BGRA, no scaling, no
// compression, audio enabled, an 8 MiB compressed buffer and 16 MiB
// uncompressed and unscaled buffers.
func Default() Config {
	return Config{
		FPS:                 30,
		Colorspace:          envelope.PixelBGRA,
		Hotkey:              "F8",
		ScaleFactor:         1,
		Capture:             true,
		CompressedBufSize:   8 << 20,
		UncompressedBufSize: 16 << 20,
		UnscaledBufSize:     16 << 20,
		Audio:               true,
		Indicator:           true,
		LogLevel:            slog.LevelInfo,
		SigHandler:          true,
	}
}

// LoadFromEnv starts from Default and overrides every field whose
// GLC_* variable is set, returning a FormatError wrapping the first
// parse failure rather than panicking.
func LoadFromEnv() (Config, error) {
	c := Default()

	if v, ok := lookup("START"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("START", err)
		}
		c.Start = b
	}
	if v, ok := lookup("FILE"); ok {
		c.File = v
	}
	if v, ok := lookup("FPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return c, invalid("FPS", fmt.Errorf("must be a positive number"))
		}
		c.FPS = f
	}
	if v, ok := lookup("COLORSPACE"); ok {
		fmtv, err := parseColorspace(v)
		if err != nil {
			return c, invalid("COLORSPACE", err)
		}
		c.Colorspace = fmtv
	}
	if v, ok := lookup("HOTKEY"); ok {
		c.Hotkey = v
	}
	if v, ok := lookup("SCALE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return c, invalid("SCALE", fmt.Errorf("must be a positive number"))
		}
		c.ScaleFactor = f
	}
	if v, ok := lookup("CROP"); ok {
		w, h, x, y, err := parseCrop(v)
		if err != nil {
			return c, invalid("CROP", err)
		}
		c.CropW, c.CropH, c.CropX, c.CropY = w, h, x, y
	}
	if v, ok := lookup("CAPTURE"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("CAPTURE", err)
		}
		c.Capture = b
	}
	if v, ok := lookup("COMPRESS"); ok {
		switch strings.ToLower(v) {
		case "", "none", "lzo", "quicklz":
			c.Compress = strings.ToLower(v)
		default:
			return c, invalid("COMPRESS", fmt.Errorf("must be one of: none, lzo, quicklz"))
		}
	}
	if v, ok := lookup("COMPRESSED_BUFFER_SIZE"); ok {
		n, err := parseSize(v)
		if err != nil {
			return c, invalid("COMPRESSED_BUFFER_SIZE", err)
		}
		c.CompressedBufSize = n
	}
	if v, ok := lookup("UNCOMPRESSED_BUFFER_SIZE"); ok {
		n, err := parseSize(v)
		if err != nil {
			return c, invalid("UNCOMPRESSED_BUFFER_SIZE", err)
		}
		c.UncompressedBufSize = n
	}
	if v, ok := lookup("UNSCALED_BUFFER_SIZE"); ok {
		n, err := parseSize(v)
		if err != nil {
			return c, invalid("UNSCALED_BUFFER_SIZE", err)
		}
		c.UnscaledBufSize = n
	}
	if v, ok := lookup("AUDIO"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("AUDIO", err)
		}
		c.Audio = b
	}
	if v, ok := lookup("AUDIO_SKIP"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("AUDIO_SKIP", err)
		}
		c.AudioSkip = b
	}
	if v, ok := lookup("INDICATOR"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("INDICATOR", err)
		}
		c.Indicator = b
	}
	if v, ok := lookup("LOCK_FPS"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("LOCK_FPS", err)
		}
		c.LockFPS = b
	}
	if v, ok := lookup("TRY_PBO"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("TRY_PBO", err)
		}
		c.TryPBO = b
	}
	if v, ok := lookup("CAPTURE_DWORD_ALIGNED"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("CAPTURE_DWORD_ALIGNED", err)
		}
		c.CaptureDWordAligned = b
	}
	if v, ok := lookup("LOG"); ok {
		lvl, err := parseLogLevel(v)
		if err != nil {
			return c, invalid("LOG", err)
		}
		c.LogLevel = lvl
	}
	if v, ok := lookup("LOG_FILE"); ok {
		c.LogFile = v
	}
	if v, ok := lookup("SIGHANDLER"); ok {
		b, err := parseBool(v)
		if err != nil {
			return c, invalid("SIGHANDLER", err)
		}
		c.SigHandler = b
	}

	return c, nil
}

func lookup(name string) (string, bool) {
	return os.LookupEnv("GLC_" + name)
}

func invalid(name string, err error) error {
	return &glcerrors.FormatError{What: fmt.Sprintf("config: GLC_%s", name), Err: err}
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("not a boolean: %q", v)
	}
}

func parseColorspace(v string) (envelope.PixelFormat, error) {
	switch strings.ToLower(v) {
	case "bgr":
		return envelope.PixelBGR, nil
	case "bgra":
		return envelope.PixelBGRA, nil
	case "ycbcr", "ycbcr420":
		return envelope.PixelYCbCr, nil
	default:
		return 0, fmt.Errorf("must be one of: bgr, bgra, ycbcr")
	}
}

// parseSize parses a byte count with an optional k/m/g suffix.
func parseSize(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := 1
	last := strings.ToLower(v[len(v)-1:])
	switch last {
	case "k":
		mult, v = 1<<10, v[:len(v)-1]
	case "m":
		mult, v = 1<<20, v[:len(v)-1]
	case "g":
		mult, v = 1<<30, v[:len(v)-1]
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer, optionally suffixed k/m/g")
	}
	return n * mult, nil
}

// parseCrop parses "WxH+X+Y".
func parseCrop(v string) (w, h, x, y int, err error) {
	var rest string
	if _, err = fmt.Sscanf(v, "%dx%d+%s", &w, &h, &rest); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("must look like WxH+X+Y")
	}
	parts := strings.SplitN(rest, "+", 2)
	if len(parts) != 2 {
		return 0, 0, 0, 0, fmt.Errorf("must look like WxH+X+Y")
	}
	if x, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("bad X offset")
	}
	if y, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("bad Y offset")
	}
	if w <= 0 || h <= 0 {
		return 0, 0, 0, 0, fmt.Errorf("width/height must be positive")
	}
	return w, h, x, y, nil
}

func parseLogLevel(v string) (slog.Level, error) {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of: debug, info, warn, error")
	}
}
