package export

import (
	"io"

	"golang.org/x/image/bmp"
)

// WriteBMP encodes f as a single BMP image to w.
func WriteBMP(w io.Writer, f Frame) error {
	img, err := f.ToRGBA()
	if err != nil {
		return err
	}
	return bmp.Encode(w, img)
}
