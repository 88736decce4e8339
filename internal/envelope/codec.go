package envelope

import (
	"encoding/binary"
	"math"

	"github.com/wyatt8740/glc-sub000/internal/glcerrors"
)

// Sizes of the fixed-width envelope headers, in bytes.
const (
	VideoInfoSize = 4 + 4 + 4 + 4 + 1
	VideoDataSize = 4 + 8
	AudioInfoSize = 4 + 4 + 4 + 4 + 1
	AudioDataSize = 4 + 8 + 8
	ColorSize     = 4 + 4*5
	CompressedHdrSize = 8 + 1
	ContainerHdrSize  = 8 + 1
)

// Marshal encodes v into dst, which must be at least VideoInfoSize bytes.
func (v VideoInfo) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], v.ID)
	binary.LittleEndian.PutUint32(dst[4:8], v.Flags)
	binary.LittleEndian.PutUint32(dst[8:12], v.Width)
	binary.LittleEndian.PutUint32(dst[12:16], v.Height)
	dst[16] = byte(v.Format)
}

// UnmarshalVideoInfo decodes a VideoInfo from src, which must be at least
// VideoInfoSize bytes.
func UnmarshalVideoInfo(src []byte) (VideoInfo, error) {
	if len(src) < VideoInfoSize {
		return VideoInfo{}, &glcerrors.FormatError{What: "video-info: short buffer"}
	}
	return VideoInfo{
		ID:     binary.LittleEndian.Uint32(src[0:4]),
		Flags:  binary.LittleEndian.Uint32(src[4:8]),
		Width:  binary.LittleEndian.Uint32(src[8:12]),
		Height: binary.LittleEndian.Uint32(src[12:16]),
		Format: PixelFormat(src[16]),
	}, nil
}

// Marshal encodes v into dst, which must be at least VideoDataSize bytes.
func (v VideoData) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], v.ID)
	binary.LittleEndian.PutUint64(dst[4:12], uint64(v.Timestamp))
}

// UnmarshalVideoData decodes a VideoData header from src.
func UnmarshalVideoData(src []byte) (VideoData, error) {
	if len(src) < VideoDataSize {
		return VideoData{}, &glcerrors.FormatError{What: "video-data: short buffer"}
	}
	return VideoData{
		ID:        binary.LittleEndian.Uint32(src[0:4]),
		Timestamp: int64(binary.LittleEndian.Uint64(src[4:12])),
	}, nil
}

// Marshal encodes a into dst, which must be at least AudioInfoSize bytes.
func (a AudioInfo) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], a.ID)
	binary.LittleEndian.PutUint32(dst[4:8], a.Flags)
	binary.LittleEndian.PutUint32(dst[8:12], a.Rate)
	binary.LittleEndian.PutUint32(dst[12:16], a.Channels)
	dst[16] = byte(a.Format)
}

// UnmarshalAudioInfo decodes an AudioInfo from src.
func UnmarshalAudioInfo(src []byte) (AudioInfo, error) {
	if len(src) < AudioInfoSize {
		return AudioInfo{}, &glcerrors.FormatError{What: "audio-info: short buffer"}
	}
	return AudioInfo{
		ID:       binary.LittleEndian.Uint32(src[0:4]),
		Flags:    binary.LittleEndian.Uint32(src[4:8]),
		Rate:     binary.LittleEndian.Uint32(src[8:12]),
		Channels: binary.LittleEndian.Uint32(src[12:16]),
		Format:   SampleFormat(src[16]),
	}, nil
}

// Marshal encodes a into dst, which must be at least AudioDataSize bytes.
func (a AudioData) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], a.ID)
	binary.LittleEndian.PutUint64(dst[4:12], uint64(a.Timestamp))
	binary.LittleEndian.PutUint64(dst[12:20], a.Size)
}

// UnmarshalAudioData decodes an AudioData header from src.
func UnmarshalAudioData(src []byte) (AudioData, error) {
	if len(src) < AudioDataSize {
		return AudioData{}, &glcerrors.FormatError{What: "audio-data: short buffer"}
	}
	return AudioData{
		ID:        binary.LittleEndian.Uint32(src[0:4]),
		Timestamp: int64(binary.LittleEndian.Uint64(src[4:12])),
		Size:      binary.LittleEndian.Uint64(src[12:20]),
	}, nil
}

// Marshal encodes c into dst, which must be at least ColorSize bytes.
func (c Color) Marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], c.ID)
	putFloat32(dst[4:8], c.Brightness)
	putFloat32(dst[8:12], c.Contrast)
	putFloat32(dst[12:16], c.RedGamma)
	putFloat32(dst[16:20], c.GreenGamma)
	putFloat32(dst[20:24], c.BlueGamma)
}

// UnmarshalColor decodes a Color payload from src.
func UnmarshalColor(src []byte) (Color, error) {
	if len(src) < ColorSize {
		return Color{}, &glcerrors.FormatError{What: "color: short buffer"}
	}
	return Color{
		ID:         binary.LittleEndian.Uint32(src[0:4]),
		Brightness: getFloat32(src[4:8]),
		Contrast:   getFloat32(src[8:12]),
		RedGamma:   getFloat32(src[12:16]),
		GreenGamma: getFloat32(src[16:20]),
		BlueGamma:  getFloat32(src[20:24]),
	}, nil
}

// Marshal encodes h into dst, which must be at least CompressedHdrSize bytes.
func (h CompressedHeader) Marshal(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], h.UncompressedSize)
	dst[8] = byte(h.OriginalTag)
}

// UnmarshalCompressedHeader decodes a CompressedHeader from src.
func UnmarshalCompressedHeader(src []byte) (CompressedHeader, error) {
	if len(src) < CompressedHdrSize {
		return CompressedHeader{}, &glcerrors.FormatError{What: "compressed-header: short buffer"}
	}
	return CompressedHeader{
		UncompressedSize: binary.LittleEndian.Uint64(src[0:8]),
		OriginalTag:      Tag(src[8]),
	}, nil
}

// Marshal encodes h into dst, which must be at least ContainerHdrSize bytes.
func (h ContainerHeader) Marshal(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], h.InnerSize)
	dst[8] = byte(h.InnerTag)
}

// UnmarshalContainerHeader decodes a ContainerHeader from src.
func UnmarshalContainerHeader(src []byte) (ContainerHeader, error) {
	if len(src) < ContainerHdrSize {
		return ContainerHeader{}, &glcerrors.FormatError{What: "container-header: short buffer"}
	}
	return ContainerHeader{
		InnerSize: binary.LittleEndian.Uint64(src[0:8]),
		InnerTag:  Tag(src[8]),
	}, nil
}

func putFloat32(dst []byte, f float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(f))
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}
