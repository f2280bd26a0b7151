package objstore

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Frame layout, as handed to backends:
//
//	codec:8 checksum:64 payload
//
// payload is kind:16 body, compressed with codec. checksum is xxhash64 of the
// payload bytes as stored.
const (
	frameHeaderSize = 1 + 8

	maxRecordSize = 64 * 1024 * 1024
)

func encodeFrame(buf []byte, c Compression, kind Kind, body []byte) []byte {
	plain := payloadBytesPool.Get().([]byte)
	w := fieldWriter{plain[:0]}
	w.AppendKind(kind)
	w.Buf = appendRaw(w.Buf, body)

	off, buf := grow(buf, frameHeaderSize)
	buf, used := c.Compress(buf, w.Buf)
	payloadBytesPool.Put(w.Buf[:0])

	buf[off] = byte(used)
	binary.BigEndian.PutUint64(buf[off+1:], xxhash.Sum64(buf[off+frameHeaderSize:]))
	return buf
}

// decodeFrame never returns slices aliasing frame.
func decodeFrame(frame []byte) (Kind, []byte, error) {
	if len(frame) < frameHeaderSize {
		return 0, nil, dataErrf(frame, 0, nil, "frame too short")
	}
	c := Compression(frame[0])
	sum := binary.BigEndian.Uint64(frame[1:])
	stored := frame[frameHeaderSize:]
	if actual := xxhash.Sum64(stored); actual != sum {
		return 0, nil, dataErrf(frame, 1, nil, "checksum mismatch: stored %016x, actual %016x", sum, actual)
	}
	payload, err := c.Decompress(stored)
	if err != nil {
		return 0, nil, err
	}
	r := makeFieldReader(payload)
	kind, err := r.Kind()
	if err != nil {
		return 0, nil, err
	}
	return kind, append([]byte{}, r.Buf...), nil
}
