// Package streamfile implements the on-disk GLC container format: a
// fixed header (signature, version, capture fps, flags, captor pid, and
// variable-length name/date fields) followed by a sequence of envelope
// records (1-byte tag, 8-byte LE payload size, payload) terminated by a
// TagClose record with a zero-length payload.
package streamfile

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/glcerrors"
)

// Signature identifies a glc-sub000 stream file.
const Signature uint32 = 0x00434C47

// Version is the only container version this module reads and writes.
const Version uint32 = 3

// Header is the fixed-plus-variable container header, written once at
// the start of the file.
type Header struct {
	FPS        float64
	Flags      uint32
	CaptorPID  int32
	Name       string
	CaptureDate string
}

// Writer serializes a Header followed by a stream of envelopes to an
// io.Writer.
type Writer struct {
	w       *bufio.Writer
	wrote   bool
	closed  bool
}

// NewWriter wraps w. WriteHeader must be called exactly once before any
// WriteEnvelope call.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteHeader writes the fixed and variable header fields.
func (w *Writer) WriteHeader(h Header) error {
	if w.wrote {
		return &glcerrors.FormatError{What: "streamfile: header already written"}
	}
	var fixed [4 + 4 + 8 + 4 + 4]byte
	binary.LittleEndian.PutUint32(fixed[0:4], Signature)
	binary.LittleEndian.PutUint32(fixed[4:8], Version)
	binary.LittleEndian.PutUint64(fixed[8:16], math.Float64bits(h.FPS))
	binary.LittleEndian.PutUint32(fixed[16:20], h.Flags)
	binary.LittleEndian.PutUint32(fixed[20:24], uint32(h.CaptorPID))
	if _, err := w.w.Write(fixed[:]); err != nil {
		return err
	}
	if err := writeLenPrefixed(w.w, h.Name); err != nil {
		return err
	}
	if err := writeLenPrefixed(w.w, h.CaptureDate); err != nil {
		return err
	}
	w.wrote = true
	return nil
}

func writeLenPrefixed(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// WriteEnvelope writes one tag-prefixed record: a 1-byte tag, an 8-byte
// LE payload size (excluding the tag byte itself), then the payload.
func (w *Writer) WriteEnvelope(tag envelope.Tag, payload []byte) error {
	if !w.wrote {
		return &glcerrors.FormatError{What: "streamfile: header not written"}
	}
	if _, err := w.w.Write([]byte{byte(tag)}); err != nil {
		return err
	}
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(len(payload)))
	if _, err := w.w.Write(sizeBuf[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.w.Write(payload); err != nil {
			return err
		}
	}
	if tag == envelope.TagClose {
		w.closed = true
	}
	return nil
}

// Close writes a terminating TagClose envelope if one has not already
// been written, and flushes the underlying writer.
func (w *Writer) Close() error {
	if w.wrote && !w.closed {
		if err := w.WriteEnvelope(envelope.TagClose, nil); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

// Reader deserializes a Header followed by a stream of envelopes from an
// io.Reader.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadHeader reads and validates the fixed header, then the variable
// name/date fields. It returns glcerrors.ErrUnsupported wrapped in a
// FormatError if the signature doesn't match or the version isn't one
// this reader understands.
func (r *Reader) ReadHeader() (Header, error) {
	var fixed [24]byte
	if _, err := io.ReadFull(r.r, fixed[:]); err != nil {
		return Header{}, err
	}
	sig := binary.LittleEndian.Uint32(fixed[0:4])
	if sig != Signature {
		return Header{}, &glcerrors.FormatError{What: "streamfile: bad signature", Err: glcerrors.ErrUnsupported}
	}
	ver := binary.LittleEndian.Uint32(fixed[4:8])
	if ver != Version {
		return Header{}, &glcerrors.FormatError{What: "streamfile: unsupported version", Err: glcerrors.ErrUnsupported}
	}
	h := Header{
		FPS:       math.Float64frombits(binary.LittleEndian.Uint64(fixed[8:16])),
		Flags:     binary.LittleEndian.Uint32(fixed[16:20]),
		CaptorPID: int32(binary.LittleEndian.Uint32(fixed[20:24])),
	}
	name, err := readLenPrefixed(r.r)
	if err != nil {
		return Header{}, err
	}
	date, err := readLenPrefixed(r.r)
	if err != nil {
		return Header{}, err
	}
	h.Name = name
	h.CaptureDate = date
	return h, nil
}

func readLenPrefixed(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// ReadEnvelope reads one tag-prefixed record: a 1-byte tag, an 8-byte LE
// payload size, then the payload. It returns io.EOF only if the file
// ends without a TagClose record; a well-formed file's final call
// returns TagClose (payload size 0) with a nil error.
func (r *Reader) ReadEnvelope() (envelope.Tag, []byte, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r.r, tagBuf[:]); err != nil {
		return 0, nil, err
	}
	var sizeBuf [8]byte
	if _, err := io.ReadFull(r.r, sizeBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint64(sizeBuf[:])
	var payload []byte
	if n > 0 {
		payload = make([]byte, n)
		if _, err := io.ReadFull(r.r, payload); err != nil {
			return 0, nil, err
		}
	}
	return envelope.Tag(tagBuf[0]), payload, nil
}
