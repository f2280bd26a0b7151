package objstore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// KeyCodec maps K to index keys. Encodings must preserve order under
// bytes.Compare.
type KeyCodec[K any] interface {
	EncodeKey(buf []byte, k K) []byte
	DecodeKey(raw []byte) (K, error)
}

var (
	StringKeys KeyCodec[string] = stringKeys{}
	Uint64Keys KeyCodec[uint64] = uint64Keys{}
	Int64Keys  KeyCodec[int64]  = int64Keys{}
)

type stringKeys struct{}

func (stringKeys) EncodeKey(buf []byte, k string) []byte {
	return append(buf, k...)
}

func (stringKeys) DecodeKey(raw []byte) (string, error) {
	return string(raw), nil
}

type uint64Keys struct{}

func (uint64Keys) EncodeKey(buf []byte, k uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, k)
}

func (uint64Keys) DecodeKey(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, dataErrf(raw, 0, nil, "uint64 key must be 8 bytes")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// int64Keys flips the sign bit so negative keys sort first.
type int64Keys struct{}

func (int64Keys) EncodeKey(buf []byte, k int64) []byte {
	return binary.BigEndian.AppendUint64(buf, uint64(k)^(1<<63))
}

func (int64Keys) DecodeKey(raw []byte) (int64, error) {
	if len(raw) != 8 {
		return 0, dataErrf(raw, 0, nil, "int64 key must be 8 bytes")
	}
	return int64(binary.BigEndian.Uint64(raw) ^ (1 << 63)), nil
}

// TypedIndex stores V values (encoded with MsgPack) under K keys.
type TypedIndex[K, V any] struct {
	idx  *Index
	keys KeyCodec[K]
}

func NewTypedIndex[K, V any](idx *Index, keys KeyCodec[K]) *TypedIndex[K, V] {
	return &TypedIndex[K, V]{idx, keys}
}

func (ti *TypedIndex[K, V]) Index() *Index {
	return ti.idx
}

func (ti *TypedIndex[K, V]) Get(k K) (V, bool, error) {
	var v V
	raw, found, err := ti.idx.Lookup(ti.keys.EncodeKey(nil, k))
	if err != nil || !found {
		return v, false, err
	}
	if err := decodeValue(raw, &v); err != nil {
		return v, false, ti.idx.errf(ti.keys.EncodeKey(nil, k), err, "get")
	}
	return v, true, nil
}

func (ti *TypedIndex[K, V]) Put(k K, v V) error {
	raw, err := encodeValue(nil, v)
	if err != nil {
		return ti.idx.errf(ti.keys.EncodeKey(nil, k), err, "put")
	}
	return ti.idx.Insert(ti.keys.EncodeKey(nil, k), raw)
}

func (ti *TypedIndex[K, V]) Delete(k K) (bool, error) {
	return ti.idx.Remove(ti.keys.EncodeKey(nil, k))
}

// Between returns a range over [lower, upper].
func (ti *TypedIndex[K, V]) Between(lower, upper K) Range {
	return RangeII(ti.keys.EncodeKey(nil, lower), ti.keys.EncodeKey(nil, upper))
}

func (ti *TypedIndex[K, V]) Scan(rang Range) *TypedCursor[K, V] {
	return &TypedCursor[K, V]{c: ti.idx.Scan(rang), keys: ti.keys}
}

type TypedCursor[K, V any] struct {
	c    *Cursor
	keys KeyCodec[K]
	k    K
	v    V
	err  error
}

// Next advances and decodes the next entry. A decoding failure stops the scan
// and is reported by Err.
func (tc *TypedCursor[K, V]) Next() bool {
	if tc.err != nil || !tc.c.Next() {
		return false
	}
	k, err := tc.keys.DecodeKey(tc.c.Key())
	if err != nil {
		tc.err = err
		return false
	}
	var v V
	if err := decodeValue(tc.c.Value(), &v); err != nil {
		tc.err = err
		return false
	}
	tc.k, tc.v = k, v
	return true
}

func (tc *TypedCursor[K, V]) Key() K {
	return tc.k
}

func (tc *TypedCursor[K, V]) Value() V {
	return tc.v
}

func (tc *TypedCursor[K, V]) Err() error {
	if tc.err != nil {
		return tc.err
	}
	return tc.c.Err()
}

func encodeValue(buf []byte, v any) ([]byte, error) {
	w := fieldWriter{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&w, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return w.Buf, nil
}

func decodeValue(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}
