// Package frame encodes and decodes the 16-byte binary header that
// prefixes every PCM audio message on the client→server link, the way
// internal/audio/pcm.go slices raw little-endian samples out of a byte
// slice, generalized to a framed, seq-and-timestamp-carrying wire format.
package frame

import (
	"encoding/binary"
	"errors"
	"math"
)

// HeaderSize is the fixed byte length of the frame header:
// seq (u32) + captureTs (f64) + durationMs (f32).
const HeaderSize = 4 + 8 + 4

// ErrTooShort is returned when a frame is shorter than or equal to the header.
var ErrTooShort = errors.New("frame: payload shorter than or equal to header")

// Frame is one decoded client→server audio message.
type Frame struct {
	Seq        uint32
	CaptureTs  float64 // epoch-ms
	DurationMs float32
	PCM        []byte // 16-bit LE mono samples, immutable once decoded
}

// Decode parses the 16-byte header and the PCM payload that follows it.
// It rejects frames shorter than or equal to HeaderSize.
func Decode(data []byte) (Frame, error) {
	if len(data) <= HeaderSize {
		return Frame{}, ErrTooShort
	}
	seq := binary.LittleEndian.Uint32(data[0:4])
	captureTs := math.Float64frombits(binary.LittleEndian.Uint64(data[4:12]))
	durationMs := math.Float32frombits(binary.LittleEndian.Uint32(data[12:16]))

	pcm := make([]byte, len(data)-HeaderSize)
	copy(pcm, data[HeaderSize:])

	return Frame{
		Seq:        seq,
		CaptureTs:  captureTs,
		DurationMs: durationMs,
		PCM:        pcm,
	}, nil
}

// Encode is the inverse of Decode, used by tests and the mock/replay path.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.PCM))
	binary.LittleEndian.PutUint32(buf[0:4], f.Seq)
	binary.LittleEndian.PutUint64(buf[4:12], math.Float64bits(f.CaptureTs))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(f.DurationMs))
	copy(buf[HeaderSize:], f.PCM)
	return buf
}

// Samples reinterprets the frame's PCM bytes as 16-bit LE mono samples,
// normalized to the [-1, 1] float32 range, the same slicing style as
// internal/audio/pcm.go's decodePCM.
func (f Frame) Samples() []float32 {
	n := len(f.PCM) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(f.PCM[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples
}
