// Package glplay implements the video replay sink: a glfw window that
// displays decoded frames at their recorded timestamps, with Esc-to-quit
// and fast-forward keys that adjust the shared playback clock.
package glplay

import (
	"fmt"
	"log/slog"
	"time"

	glcore "github.com/go-gl/gl/v2.1/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/wyatt8740/glc-sub000/internal/clock"
	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

// Player displays a sequence of decoded frames in a resizable window,
// pacing presentation against Clock so playback speed tracks the
// clock's fast-forward accumulator rather than free-running.
type Player struct {
	Clock *clock.Clock

	log     *slog.Logger
	window  *glfw.Window
	texture uint32
	width, height int
}

// NewPlayer creates a glfw window of the given initial size. It must be
// called from the thread that will also call ShowFrame and PollEvents —
// glfw is not safe to call from other goroutines.
func NewPlayer(clk *clock.Clock, width, height int, title string, log *slog.Logger) (*Player, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("glplay: glfw init: %w", err)
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 2)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("glplay: create window: %w", err)
	}
	win.MakeContextCurrent()
	if err := glcore.Init(); err != nil {
		return nil, fmt.Errorf("glplay: gl init: %w", err)
	}

	p := &Player{Clock: clk, log: log.With("component", "glplay"), window: win, width: width, height: height}

	var tex uint32
	glcore.GenTextures(1, &tex)
	p.texture = tex

	win.SetKeyCallback(p.onKey)
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, w, h int) {
		p.width, p.height = w, h
		glcore.Viewport(0, 0, int32(w), int32(h))
	})

	return p, nil
}

func (p *Player) onKey(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if action != glfw.Press && action != glfw.Repeat {
		return
	}
	switch key {
	case glfw.KeyEscape:
		p.window.SetShouldClose(true)
	case glfw.KeyRight:
		p.Clock.AdjustDiff(1_000_000) // fast-forward one second
	case glfw.KeyLeft:
		p.Clock.AdjustDiff(-1_000_000)
	}
}

// ShouldClose reports whether the window has been asked to close (Esc
// pressed or the OS close button clicked).
func (p *Player) ShouldClose() bool { return p.window.ShouldClose() }

// PollEvents must be called once per iteration of the player's loop.
func (p *Player) PollEvents() { glfw.PollEvents() }

// WaitForTimestamp blocks (sleeping, not spinning) until the clock's
// current time reaches ts, or returns immediately if it has already
// passed — this is what lets the fast-forward keys speed up playback
// without the caller needing any other signal.
func (p *Player) WaitForTimestamp(ts int64) {
	for {
		now := p.Clock.Now()
		if now >= ts {
			return
		}
		remaining := time.Duration(ts-now) * time.Microsecond
		if remaining > 20*time.Millisecond {
			remaining = 20 * time.Millisecond
		}
		time.Sleep(remaining)
		if p.ShouldClose() {
			return
		}
	}
}

// ShowFrame uploads and displays one decoded packed-BGR(A) frame,
// scaled to fill the current window size.
func (p *Player) ShowFrame(width, height int, format envelope.PixelFormat, pix []byte) {
	internalFmt, glFmt := textureFormat(format)

	glcore.BindTexture(glcore.TEXTURE_2D, p.texture)
	glcore.TexImage2D(glcore.TEXTURE_2D, 0, internalFmt, int32(width), int32(height), 0, glFmt, glcore.UNSIGNED_BYTE, glcore.Ptr(pix))
	glcore.TexParameteri(glcore.TEXTURE_2D, glcore.TEXTURE_MIN_FILTER, glcore.LINEAR)
	glcore.TexParameteri(glcore.TEXTURE_2D, glcore.TEXTURE_MAG_FILTER, glcore.LINEAR)

	glcore.Enable(glcore.TEXTURE_2D)
	glcore.Clear(glcore.COLOR_BUFFER_BIT)
	glcore.Begin(glcore.QUADS)
	glcore.TexCoord2f(0, 1)
	glcore.Vertex2f(-1, -1)
	glcore.TexCoord2f(1, 1)
	glcore.Vertex2f(1, -1)
	glcore.TexCoord2f(1, 0)
	glcore.Vertex2f(1, 1)
	glcore.TexCoord2f(0, 0)
	glcore.Vertex2f(-1, 1)
	glcore.End()

	p.window.SwapBuffers()
}

func textureFormat(format envelope.PixelFormat) (internalFmt int32, glFmt uint32) {
	if format == envelope.PixelBGR {
		return glcore.RGB8, glcore.BGR
	}
	return glcore.RGBA8, glcore.BGRA
}

// Close tears down the window and terminates glfw.
func (p *Player) Close() {
	p.window.Destroy()
	glfw.Terminate()
}
