package objstore

import (
	"encoding/binary"
	"io"
	"math"
)

// Field widths of the fixed-size encodings. All fixed-width values are
// big-endian.
const (
	kindWidth    = 2
	addressWidth = 8
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

// fieldWriter appends Field encodings to a growing buffer.
type fieldWriter struct {
	Buf []byte
}

var _ io.Writer = (*fieldWriter)(nil)

func (w *fieldWriter) Grow(n int) (off int) {
	off, w.Buf = grow(w.Buf, n)
	return
}

func (w *fieldWriter) Trim(off int) {
	w.Buf = w.Buf[:off]
}

func (w *fieldWriter) Write(b []byte) (int, error) {
	w.Buf = appendRaw(w.Buf, b)
	return len(b), nil
}

func (w *fieldWriter) WriteByte(v byte) error {
	w.AppendUint8(v)
	return nil
}

func (w *fieldWriter) AppendUint8(v uint8) {
	off := w.Grow(1)
	w.Buf[off] = v
}

func (w *fieldWriter) AppendUint16(v uint16) {
	off := w.Grow(2)
	binary.BigEndian.PutUint16(w.Buf[off:], v)
}

func (w *fieldWriter) AppendUint32(v uint32) {
	off := w.Grow(4)
	binary.BigEndian.PutUint32(w.Buf[off:], v)
}

func (w *fieldWriter) AppendUint64(v uint64) {
	off := w.Grow(8)
	binary.BigEndian.PutUint64(w.Buf[off:], v)
}

func (w *fieldWriter) AppendKind(k Kind) {
	w.AppendUint16(uint16(k))
}

func (w *fieldWriter) AppendAddress(a Address) {
	w.AppendUint64(uint64(a))
}

func (w *fieldWriter) AppendUvarint(v uint64) {
	off := w.Grow(binary.MaxVarintLen64)
	n := binary.PutUvarint(w.Buf[off:], v)
	w.Trim(off + n)
}

func (w *fieldWriter) AppendUvarinti(v int) {
	if v < 0 {
		panic("invalid negative value")
	}
	w.AppendUvarint(uint64(v))
}

func (w *fieldWriter) AppendVarBytes(v []byte) {
	w.AppendUvarint(uint64(len(v)))
	w.Buf = appendRaw(w.Buf, v)
}

func (w *fieldWriter) AppendString(s string) {
	w.AppendUvarint(uint64(len(s)))
	off := w.Grow(len(s))
	copy(w.Buf[off:], s)
}

// fieldReader decodes Field encodings. Every failure is a *DataError pointing
// at the offending offset.
type fieldReader struct {
	Orig []byte
	Buf  []byte
}

func makeFieldReader(buf []byte) fieldReader {
	return fieldReader{buf, buf}
}

func (r *fieldReader) Off() int {
	return len(r.Orig) - len(r.Buf)
}

func (r *fieldReader) Remaining() int {
	return len(r.Buf)
}

func (r *fieldReader) Raw(n int) ([]byte, error) {
	if n < 0 || len(r.Buf) < n {
		return nil, dataErrf(r.Orig, r.Off(), nil, "not enough data: %d bytes remaining, %d wanted", len(r.Buf), n)
	}
	v := r.Buf[:n]
	r.Buf = r.Buf[n:]
	return v, nil
}

func (r *fieldReader) Uint8() (uint8, error) {
	b, err := r.Raw(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *fieldReader) Uint16() (uint16, error) {
	b, err := r.Raw(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *fieldReader) Uint32() (uint32, error) {
	b, err := r.Raw(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *fieldReader) Uint64() (uint64, error) {
	b, err := r.Raw(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *fieldReader) Kind() (Kind, error) {
	v, err := r.Uint16()
	return Kind(v), err
}

func (r *fieldReader) Address() (Address, error) {
	v, err := r.Uint64()
	return Address(v), err
}

func (r *fieldReader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.Buf)
	if n <= 0 {
		return 0, dataErrf(r.Orig, r.Off(), nil, "invalid uvarint")
	}
	r.Buf = r.Buf[n:]
	return v, nil
}

func (r *fieldReader) Uvarinti() (int, error) {
	v, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt {
		return 0, dataErrf(r.Orig, r.Off(), nil, "value does not fit into int: %d", v)
	}
	return int(v), nil
}

// VarBytes returns a copy, so decoded objects never alias backend memory.
func (r *fieldReader) VarBytes() ([]byte, error) {
	n, err := r.Uvarinti()
	if err != nil {
		return nil, err
	}
	b, err := r.Raw(n)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, b...), nil
}

func (r *fieldReader) String() (string, error) {
	n, err := r.Uvarinti()
	if err != nil {
		return "", err
	}
	b, err := r.Raw(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *fieldReader) Done() error {
	if len(r.Buf) != 0 {
		return dataErrf(r.Orig, r.Off(), nil, "%d trailing bytes", len(r.Buf))
	}
	return nil
}
