package objstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldWriter(t *testing.T) {
	var w fieldWriter
	w.AppendUint8(0x01)
	w.AppendUint16(0x0203)
	w.AppendUint32(0x04050607)
	w.AppendUint64(0x08090A0B0C0D0E0F)
	w.AppendKind(KindNode)
	w.AppendAddress(Address(0x42))
	w.AppendUvarint(300)
	w.AppendVarBytes([]byte{0xAA, 0xBB})
	w.AppendString("hi")

	want := x("01 0203 04050607 08090A0B0C0D0E0F 0002 0000000000000042 AC02 02AABB 026869")
	require.Equal(t, want, w.Buf)

	off := w.Grow(3)
	w.Trim(off)
	require.Equal(t, want, w.Buf)
}

func TestFieldReader(t *testing.T) {
	r := makeFieldReader(x("01 0203 04050607 08090A0B0C0D0E0F 0002 0000000000000042 AC02 02AABB 026869"))

	u8, err := r.Uint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0x01), u8)
	u16, err := r.Uint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x0203), u16)
	u32, err := r.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0x04050607), u32)
	u64, err := r.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x08090A0B0C0D0E0F), u64)
	kind, err := r.Kind()
	require.NoError(t, err)
	require.Equal(t, KindNode, kind)
	addr, err := r.Address()
	require.NoError(t, err)
	require.Equal(t, Address(0x42), addr)
	n, err := r.Uvarinti()
	require.NoError(t, err)
	require.Equal(t, 300, n)
	v, err := r.VarBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, v)
	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "hi", s)
	require.NoError(t, r.Done())
}

func TestFieldReader_VarBytesCopies(t *testing.T) {
	buf := x("02 AABB")
	r := makeFieldReader(buf)
	v, err := r.VarBytes()
	require.NoError(t, err)
	buf[1] = 0
	require.Equal(t, []byte{0xAA, 0xBB}, v)
}

func TestFieldReader_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *fieldReader) error
	}{
		{"short uint16", x("01"), func(r *fieldReader) error { _, err := r.Uint16(); return err }},
		{"short address", x("0000"), func(r *fieldReader) error { _, err := r.Address(); return err }},
		{"bad uvarint", x("FF"), func(r *fieldReader) error { _, err := r.Uvarint(); return err }},
		{"short varbytes", x("05 AABB"), func(r *fieldReader) error { _, err := r.VarBytes(); return err }},
		{"short string", x("03 68"), func(r *fieldReader) error { _, err := r.String(); return err }},
		{"trailing", x("00"), func(r *fieldReader) error { return r.Done() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := makeFieldReader(tt.data)
			var de *DataError
			require.ErrorAs(t, tt.read(&r), &de)
		})
	}
}

func TestFieldWriter_NegativePanics(t *testing.T) {
	var w fieldWriter
	require.Panics(t, func() {
		w.AppendUvarinti(-1)
	})
}

func TestAddress(t *testing.T) {
	require.True(t, NilAddress.IsNil())
	require.Equal(t, "@nil", NilAddress.String())
	require.Equal(t, "@17", Address(17).String())
	require.Equal(t, x("FFFFFFFFFFFFFFFF"), Address(math.MaxUint64).bytes())

	addr, err := addressFromBytes(Address(0x0102).bytes())
	require.NoError(t, err)
	require.Equal(t, Address(0x0102), addr)
	_, err = addressFromBytes([]byte{1, 2})
	require.Error(t, err)
}
