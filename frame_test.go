package objstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	bodies := [][]byte{
		nil,
		[]byte("short"),
		bytes.Repeat([]byte("abcdefgh"), 512),
		x("00 01 02 03 04 05 06 07 08 09 0A 0B 0C 0D 0E 0F 10 11 12 13 14 15 16 17 18 19 1A 1B 1C 1D 1E 1F 20 21 22 23 24 25 26 27 28 29 2A 2B 2C 2D 2E 2F 30 31 32 33 34 35 36 37 38 39 3A 3B 3C 3D 3E 3F 40"),
	}
	for _, c := range []Compression{NoCompression, Snappy, LZ4} {
		for _, b := range bodies {
			frame := encodeFrame(nil, c, KindAnchor, b)
			kind, got, err := decodeFrame(frame)
			require.NoError(t, err, "%v/%d", c, len(b))
			require.Equal(t, KindAnchor, kind, "%v/%d", c, len(b))
			require.True(t, bytes.Equal(got, b), "%v/%d: body = %x, wanted %x", c, len(b), got, b)
		}
	}
}

func TestFrame_IncompressibleStoredRaw(t *testing.T) {
	b := x("00 01 02 03 04 05 06 07 08 09 0A 0B 0C 0D 0E 0F 10 11 12 13 14 15 16 17 18 19 1A 1B 1C 1D 1E 1F 20 21 22 23 24 25 26 27 28 29 2A 2B 2C 2D 2E 2F 30 31 32 33 34 35 36 37 38 39 3A 3B 3C 3D 3E 3F 40")
	for _, c := range []Compression{Snappy, LZ4} {
		frame := encodeFrame(nil, c, KindBinary, b)
		require.Equal(t, NoCompression, Compression(frame[0]), "%v", c)
	}
}

func TestFrame_Corruption(t *testing.T) {
	frame := encodeFrame(nil, Snappy, KindNode, bytes.Repeat([]byte("z"), 200))
	for i := range frame {
		if i == 0 {
			continue // the codec byte is not covered by the checksum
		}
		bad := bytes.Clone(frame)
		bad[i] ^= 0x01
		_, _, err := decodeFrame(bad)
		require.Error(t, err, "flipping byte %d went unnoticed", i)
	}

	var de *DataError
	_, _, err := decodeFrame(frame[:4])
	require.ErrorAs(t, err, &de)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{NoCompression, Snappy, LZ4} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
	_, err := ParseCompression("zstd")
	require.ErrorIs(t, err, ErrInvalidOptions)
}
