package config

import (
	"os"
	"testing"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GLC_START", "GLC_FILE", "GLC_FPS", "GLC_COLORSPACE", "GLC_SCALE",
		"GLC_CROP", "GLC_COMPRESS", "GLC_COMPRESSED_BUFFER_SIZE", "GLC_AUDIO", "GLC_LOG",
	} {
		os.Unsetenv(name)
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	c, err := LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.Colorspace != envelope.PixelBGRA || c.FPS != 30 || !c.Audio {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoadFromEnvOverridesAndValidates(t *testing.T) {
	clearEnv(t)
	os.Setenv("GLC_FPS", "60")
	os.Setenv("GLC_COLORSPACE", "ycbcr")
	os.Setenv("GLC_COMPRESSED_BUFFER_SIZE", "4m")
	defer clearEnv(t)

	c, err := LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.FPS != 60 || c.Colorspace != envelope.PixelYCbCr || c.CompressedBufSize != 4<<20 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestLoadFromEnvRejectsBadSyntax(t *testing.T) {
	clearEnv(t)
	os.Setenv("GLC_FPS", "not-a-number")
	defer clearEnv(t)

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected an error for a malformed GLC_FPS value")
	}
}
