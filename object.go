package objstore

import "bytes"

// StoredObject is one record brought into memory by ObjectStore.Acquire. It is
// on loan to a single caller until Release.
type StoredObject struct {
	store  *ObjectStore
	addr   Address
	kind   Kind
	body   []byte
	pinned bool
	dirty  bool
}

func (o *StoredObject) Address() Address {
	return o.addr
}

func (o *StoredObject) Kind() Kind {
	return o.kind
}

// Body returns the record contents following the type tag. Callers must not
// modify the returned slice; use SetBody instead.
func (o *StoredObject) Body() []byte {
	return o.body
}

// SetBody replaces the contents written back by Release.
func (o *StoredObject) SetBody(body []byte) {
	if !o.pinned {
		panic("objstore: SetBody on an object that is not pinned")
	}
	if bytes.Equal(o.body, body) {
		return
	}
	o.body = body
	o.dirty = true
}

func (o *StoredObject) Pinned() bool {
	return o.pinned
}

func (o *StoredObject) Release() error {
	return o.store.Release(o)
}
