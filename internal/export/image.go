// Package export implements the player's non-realtime export sinks:
// BMP and PNG single-frame dumps, WAV audio export, and YUV4MPEG2 raw
// video export.
package export

import (
	"fmt"
	"image"
	"image/color"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
)

// Frame is one decoded, uncompressed video frame ready for export.
type Frame struct {
	Width, Height int
	Format        envelope.PixelFormat
	Pix           []byte
}

// ToRGBA converts f to a stdlib image.RGBA, the common currency both the
// BMP and PNG encoders accept.
func (f Frame) ToRGBA() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	switch f.Format {
	case envelope.PixelBGR:
		if err := packedToRGBA(f.Pix, f.Width, f.Height, 3, img); err != nil {
			return nil, err
		}
	case envelope.PixelBGRA:
		if err := packedToRGBA(f.Pix, f.Width, f.Height, 4, img); err != nil {
			return nil, err
		}
	case envelope.PixelYCbCr:
		if err := ycbcrToRGBA(f.Pix, f.Width, f.Height, img); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("export: unsupported pixel format %d", f.Format)
	}
	return img, nil
}

func packedToRGBA(pix []byte, w, h, bpp int, img *image.RGBA) error {
	stride := w * bpp
	if len(pix) < stride*h {
		return fmt.Errorf("export: short pixel buffer: have %d, want %d", len(pix), stride*h)
	}
	for y := 0; y < h; y++ {
		row := pix[y*stride : y*stride+stride]
		for x := 0; x < w; x++ {
			off := x * bpp
			b, g, r := row[off], row[off+1], row[off+2]
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return nil
}

func ycbcrToRGBA(pix []byte, w, h int, img *image.RGBA) error {
	cw, ch := w/2, h/2
	ySize, cSize := w*h, cw*ch
	if len(pix) < ySize+2*cSize {
		return fmt.Errorf("export: short YCbCr buffer")
	}
	yPlane := pix[:ySize]
	cbPlane := pix[ySize : ySize+cSize]
	crPlane := pix[ySize+cSize : ySize+2*cSize]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yv := yPlane[y*w+x]
			cv := cbPlane[(y/2)*cw+x/2]
			crv := crPlane[(y/2)*cw+x/2]
			r, g, b, a := color.YCbCr{Y: yv, Cb: cv, Cr: crv}.RGBA()
			img.SetRGBA(x, y, color.RGBA{R: byte(r >> 8), G: byte(g >> 8), B: byte(b >> 8), A: byte(a >> 8)})
		}
	}
	return nil
}
