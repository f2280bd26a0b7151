package objstore

import "time"

const contextVersion = 1

// contextAddress is where every IndexedStore keeps its context: the first
// record ever inserted into a fresh store.
const contextAddress Address = 1

// storeContext is the root record of an IndexedStore.
//
// Body: version:16 created:64 directory:64
type storeContext struct {
	obj *StoredObject

	version   uint16
	created   time.Time
	directory Address
}

func decodeContext(so *StoredObject) (*storeContext, error) {
	r := makeFieldReader(so.Body())
	c := &storeContext{obj: so}
	var err error
	if c.version, err = r.Uint16(); err != nil {
		return nil, err
	}
	if c.version != contextVersion {
		return nil, dataErrf(so.Body(), 0, nil, "unsupported store version %d", c.version)
	}
	created, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	c.created = time.Unix(int64(created), 0).UTC()
	if c.directory, err = r.Address(); err != nil {
		return nil, err
	}
	return c, r.Done()
}

func (c *storeContext) kind() Kind {
	return KindContext
}

func (c *storeContext) stored() *StoredObject {
	if c == nil {
		return nil
	}
	return c.obj
}

func (c *storeContext) encodeBody(w *fieldWriter) {
	w.AppendUint16(c.version)
	w.AppendUint64(uint64(c.created.Unix()))
	w.AppendAddress(c.directory)
}
