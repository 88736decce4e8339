package export

import (
	"image/png"
	"io"
)

// WritePNG encodes f as a single PNG image to w using the standard
// library encoder — PNG has no third-party ecosystem replacement worth
// preferring over image/png.
func WritePNG(w io.Writer, f Frame) error {
	img, err := f.ToRGBA()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
