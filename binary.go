package objstore

// binaryObject holds opaque client bytes.
type binaryObject struct {
	obj  *StoredObject
	data []byte
}

func decodeBinary(so *StoredObject) (*binaryObject, error) {
	return &binaryObject{obj: so, data: so.Body()}, nil
}

func (b *binaryObject) kind() Kind {
	return KindBinary
}

func (b *binaryObject) stored() *StoredObject {
	if b == nil {
		return nil
	}
	return b.obj
}

func (b *binaryObject) encodeBody(w *fieldWriter) {
	w.Buf = appendRaw(w.Buf, b.data)
}
