package objstore

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how record payloads are compressed. The choice is
// recorded per record, so stores can switch compression between opens.
type Compression uint8

const (
	NoCompression Compression = iota
	Snappy
	LZ4
)

// minCompressSize is the smallest payload worth compressing.
const minCompressSize = 64

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return NoCompression, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression %q", ErrInvalidOptions, s)
	}
}

// Compress appends the compressed form of src to buf. It returns the codec
// actually used, which is NoCompression when compressing does not pay off.
func (c Compression) Compress(buf, src []byte) ([]byte, Compression) {
	if len(src) < minCompressSize {
		return appendRaw(buf, src), NoCompression
	}
	switch c {
	case NoCompression:
		return appendRaw(buf, src), NoCompression
	case Snappy:
		off, out := grow(buf, snappy.MaxEncodedLen(len(src)))
		enc := snappy.Encode(out[off:], src)
		if len(enc) >= len(src) {
			return appendRaw(buf, src), NoCompression
		}
		return out[:off+len(enc)], Snappy
	case LZ4:
		off, out := grow(buf, binary.MaxVarintLen64+lz4.CompressBlockBound(len(src)))
		n := binary.PutUvarint(out[off:], uint64(len(src)))
		m, err := lz4.CompressBlock(src, out[off+n:], nil)
		if err != nil || m == 0 || n+m >= len(src) {
			return appendRaw(buf, src), NoCompression
		}
		return out[:off+n+m], LZ4
	default:
		panic("unsupported compression")
	}
}

func (c Compression) Decompress(src []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return src, nil
	case Snappy:
		out, err := snappy.Decode(nil, src)
		if err != nil {
			return nil, dataErrf(src, 0, err, "failed to decode snappy")
		}
		return out, nil
	case LZ4:
		r := makeFieldReader(src)
		size, err := r.Uvarinti()
		if err != nil {
			return nil, err
		}
		if size > maxRecordSize {
			return nil, dataErrf(src, 0, nil, "lz4 payload size %d exceeds limit", size)
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(r.Buf, out)
		if err != nil {
			return nil, dataErrf(src, r.Off(), err, "failed to decode lz4")
		}
		if n != size {
			return nil, dataErrf(src, r.Off(), nil, "lz4 decoded %d bytes, wanted %d", n, size)
		}
		return out, nil
	default:
		return nil, dataErrf(src, 0, nil, "unsupported compression %d", uint8(c))
	}
}
