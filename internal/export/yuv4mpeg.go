package export

import (
	"fmt"
	"io"
)

// Y4MWriter writes a YUV4MPEG2 stream: a stream header followed by one
// "FRAME\n" + raw planar YCbCr-4:2:0 payload per frame. There is no
// maintained Go library for this container — it is a handful of text
// lines plus the planar bytes GLC already produces, so a hand-written
// writer is the idiomatic choice here rather than pulling in a
// general-purpose video-muxing dependency for one container.
type Y4MWriter struct {
	w             io.Writer
	width, height int
	wroteHeader   bool
}

// NewY4MWriter constructs a writer for width x height frames at
// fpsNum/fpsDen frames per second, 4:2:0 JPEG chroma siting, progressive
// scan, and square pixel aspect ratio.
func NewY4MWriter(w io.Writer, width, height, fpsNum, fpsDen int) (*Y4MWriter, error) {
	if fpsDen <= 0 {
		fpsDen = 1
	}
	header := fmt.Sprintf("YUV4MPEG2 W%d H%d F%d:%d Ip A1:1 C420jpeg\n", width, height, fpsNum, fpsDen)
	if _, err := io.WriteString(w, header); err != nil {
		return nil, err
	}
	return &Y4MWriter{w: w, width: width, height: height, wroteHeader: true}, nil
}

// WriteFrame appends one planar YCbCr-4:2:0 frame. pix must be exactly
// width*height + 2*(width/2)*(height/2) bytes.
func (y *Y4MWriter) WriteFrame(pix []byte) error {
	want := y.width*y.height + 2*(y.width/2)*(y.height/2)
	if len(pix) != want {
		return fmt.Errorf("export: yuv4mpeg frame size %d, want %d", len(pix), want)
	}
	if _, err := io.WriteString(y.w, "FRAME\n"); err != nil {
		return err
	}
	_, err := y.w.Write(pix)
	return err
}
