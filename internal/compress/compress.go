// Package compress implements the compress/decompress pipeline stages.
// LZO (envelope tag 0x04) is realized with klauspost/compress/s2, and
// QuickLZ (tag 0x07) with klauspost/compress/zstd at its fastest preset
// — neither LZO nor QuickLZ itself has a maintained Go port, so these
// are the closest-fit block compressors available in the ecosystem,
// kept under the original tag names for on-disk compatibility.
package compress

import (
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/wyatt8740/glc-sub000/internal/envelope"
	"github.com/wyatt8740/glc-sub000/internal/pipeline"
)

// MinSize is the smallest payload that gets compressed; anything
// smaller passes through verbatim since the container header overhead
// would outweigh any savings.
const MinSize = 1024

// Codec selects which compressor a CompressStage/DecompressStage
// applies.
type Codec int

const (
	CodecS2 Codec = iota
	CodecZstd
)

func (c Codec) tag() envelope.Tag {
	if c == CodecZstd {
		return envelope.TagQuickLZ
	}
	return envelope.TagLZO
}

// encoderPool and decoderPool hand out scratch zstd encoders/decoders so a hot OnWrite
// call never pays encoder-allocation cost; Get/Put happen once per
// payload rather than once per worker lifetime, which is simpler than
// threading the encoder through NewWorkerState and avoids clobbering
// State.WorkerData (already used to pass the parsed job from OnRead to
// OnWrite).
var encoderPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			panic(err) // encoder construction with no writer cannot fail in practice
		}
		return enc
	},
}

var decoderPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		return dec
	},
}

// CompressStage wraps qualifying payloads in a compressed container
// envelope; everything else (small payloads, control envelopes) passes
// through unchanged.
type CompressStage struct {
	pipeline.NopStage
	Codec Codec
}

func NewCompressStage(codec Codec) *CompressStage {
	return &CompressStage{Codec: codec}
}

func (s *CompressStage) Name() string { return "compress" }

func (s *CompressStage) OnHeader(st *pipeline.State) {
	if st.Tag != envelope.TagVideo && st.Tag != envelope.TagAudio {
		st.Flags |= pipeline.FlagCopy
		return
	}
	if st.ReadSize < MinSize {
		st.Flags |= pipeline.FlagCopy
		return
	}
	st.WriteSize = envelope.CompressedHdrSize + s.worstCaseEncodedLen(st.ReadSize)
	st.Flags |= pipeline.FlagUnknownFinalSize
}

// worstCaseEncodedLen bounds how large an incompressible payload of n
// bytes can grow under this stage's codec, so OnHeader reserves enough
// DMA to never force OnWrite's Encode/EncodeAll call to reallocate.
func (s *CompressStage) worstCaseEncodedLen(n int) int {
	if s.Codec == CodecS2 {
		return s2.MaxEncodedLen(n)
	}
	// zstd's block overhead on incompressible input is small and fixed;
	// unlike s2 it has no exported MaxEncodedLen, so this keeps the same
	// margin the teacher code used before it was found undersized for s2.
	return n + n/8 + 64
}

type compressJob struct {
	originalTag envelope.Tag
	src         []byte
}

func (s *CompressStage) OnRead(st *pipeline.State) {
	if st.Flags.Has(pipeline.FlagCopy) {
		return
	}
	st.WorkerData = compressJob{originalTag: st.Tag, src: st.ReadData}
	st.Tag = s.Codec.tag()
}

func (s *CompressStage) OnWrite(st *pipeline.State) {
	job, ok := st.WorkerData.(compressJob)
	if !ok {
		return
	}

	hdrBuf := st.WriteData[:envelope.CompressedHdrSize]
	body := st.WriteData[envelope.CompressedHdrSize:]

	var compressed []byte
	switch s.Codec {
	case CodecS2:
		compressed = s2.Encode(body[:0:cap(body)], job.src)
	case CodecZstd:
		enc := encoderPool.Get().(*zstd.Encoder)
		compressed = enc.EncodeAll(job.src, body[:0:cap(body)])
		encoderPool.Put(enc)
	}

	// Encode/EncodeAll reallocate instead of writing into body if the
	// reservation above undershot the worst case; copy back into the DMA
	// region rather than silently committing data that lives outside it.
	if len(compressed) > 0 && &compressed[0] != &body[0] {
		if len(compressed) > cap(body) {
			st.WriteData = st.WriteData[:0]
			return
		}
		n := copy(body[:cap(body)], compressed)
		compressed = body[:n]
	}

	hdr := envelope.CompressedHeader{UncompressedSize: uint64(len(job.src)), OriginalTag: job.originalTag}
	hdr.Marshal(hdrBuf)

	st.WriteData = st.WriteData[:envelope.CompressedHdrSize+len(compressed)]
}

// DecompressStage reverses CompressStage: it unwraps a TagLZO/TagQuickLZ
// container back into its original envelope tag and payload.
type DecompressStage struct {
	pipeline.NopStage
}

func NewDecompressStage() *DecompressStage { return &DecompressStage{} }

func (s *DecompressStage) Name() string { return "decompress" }

func (s *DecompressStage) OnHeader(st *pipeline.State) {
	if st.Tag != envelope.TagLZO && st.Tag != envelope.TagQuickLZ {
		st.Flags |= pipeline.FlagCopy
		return
	}
	st.Flags |= pipeline.FlagUnknownFinalSize
}

type decompressJob struct {
	tag  envelope.Tag
	hdr  envelope.CompressedHeader
	body []byte
}

func (s *DecompressStage) OnRead(st *pipeline.State) {
	if st.Flags.Has(pipeline.FlagCopy) {
		return
	}
	hdr, err := envelope.UnmarshalCompressedHeader(st.ReadData)
	if err != nil {
		st.Flags |= pipeline.FlagCopy
		return
	}
	body := st.ReadData[envelope.CompressedHdrSize:]
	st.WorkerData = decompressJob{tag: st.Tag, hdr: hdr, body: body}
	st.Tag = hdr.OriginalTag
	st.WriteSize = int(hdr.UncompressedSize)
}

func (s *DecompressStage) OnWrite(st *pipeline.State) {
	job, ok := st.WorkerData.(decompressJob)
	if !ok {
		return
	}

	var out []byte
	var err error
	switch job.tag {
	case envelope.TagLZO:
		out, err = s2.Decode(st.WriteData[:0:cap(st.WriteData)], job.body)
	case envelope.TagQuickLZ:
		dec := decoderPool.Get().(*zstd.Decoder)
		out, err = dec.DecodeAll(job.body, st.WriteData[:0:cap(st.WriteData)])
		decoderPool.Put(dec)
	}
	if err != nil {
		// Leave st.WriteData empty; the runner commits whatever length
		// was written, so a decode failure yields a zero-length frame
		// rather than propagating a panic into the hot path.
		st.WriteData = st.WriteData[:0]
		return
	}
	st.WriteData = out
}
