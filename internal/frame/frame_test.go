package frame

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{
		Seq:        42,
		CaptureTs:  1234.5,
		DurationMs: 20,
		PCM:        []byte{1, 2, 3, 4},
	}

	decoded, err := Decode(Encode(f))
	require.NoError(t, err)
	require.Equal(t, f, decoded)
}

func TestDecode_RejectsPayloadAtOrBelowHeaderSize(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize))
	require.ErrorIs(t, err, ErrTooShort)

	_, err = Decode(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrTooShort)
}

func TestDecode_PCMIsCopiedNotAliased(t *testing.T) {
	data := Encode(Frame{Seq: 1, PCM: []byte{9, 9}})
	f, err := Decode(data)
	require.NoError(t, err)

	data[HeaderSize] = 0xFF
	require.Equal(t, byte(9), f.PCM[0], "decoded PCM must not alias the source buffer")
}

func TestSamples_NormalizesInt16ToFloatRange(t *testing.T) {
	pcm := make([]byte, 4)
	neg := int16(-math.MaxInt16)
	binary.LittleEndian.PutUint16(pcm[0:2], uint16(int16(math.MaxInt16)))
	binary.LittleEndian.PutUint16(pcm[2:4], uint16(neg))

	f := Frame{PCM: pcm}
	samples := f.Samples()
	require.Len(t, samples, 2)
	require.InDelta(t, 1.0, samples[0], 1e-6)
	require.InDelta(t, -1.0, samples[1], 1e-6)
}
