package objstore

import "errors"

// storeObject is implemented by every structural kind (anchor, node, context,
// binary). The operations on them live on objectOps, so no kind can change
// how it is inserted, released or removed.
type storeObject interface {
	kind() Kind

	// stored returns the pinned record backing the object, or nil for an
	// object that only exists in memory so far.
	stored() *StoredObject

	encodeBody(w *fieldWriter)
}

// objectOps is the seam between the raw ObjectStore and the structural kinds.
// It decodes records by type tag and narrows every ObjectStore failure into
// the four-member IndexedStoreError taxonomy.
type objectOps struct {
	store *ObjectStore
}

func translate(code error, addr Address, cause error) error {
	return &IndexedStoreError{Code: code, Addr: addr, Cause: cause}
}

func acquireTyped[T storeObject](ops objectOps, addr Address, want Kind, decode func(so *StoredObject) (T, error)) (T, error) {
	var zero T
	so, err := ops.store.Acquire(addr)
	if err != nil {
		return zero, translate(ErrObjectNotAcquired, addr, err)
	}
	if so.Kind() != want {
		ops.abandon(so)
		return zero, &KindMismatchError{Addr: addr, Want: want, Got: so.Kind()}
	}
	obj, err := decode(so)
	if err != nil {
		ops.abandon(so)
		return zero, translate(ErrObjectNotAcquired, addr, err)
	}
	return obj, nil
}

// abandon unpins a record without writing it, discarding any modification.
func (ops objectOps) abandon(so *StoredObject) {
	if so != nil && so.Pinned() {
		_ = ops.store.unpin(so)
	}
}

func (ops objectOps) acquireAnchor(addr Address) (*indexAnchor, error) {
	return acquireTyped(ops, addr, KindAnchor, decodeAnchor)
}

func (ops objectOps) acquireNode(addr Address) (*indexNode, error) {
	return acquireTyped(ops, addr, KindNode, decodeNode)
}

func (ops objectOps) acquireContext(addr Address) (*storeContext, error) {
	return acquireTyped(ops, addr, KindContext, decodeContext)
}

func (ops objectOps) acquireBinary(addr Address) (*binaryObject, error) {
	return acquireTyped(ops, addr, KindBinary, decodeBinary)
}

// acquireObject acquires a record of any kind, dispatching on its type tag.
func (ops objectOps) acquireObject(addr Address) (storeObject, error) {
	so, err := ops.store.Acquire(addr)
	if err != nil {
		return nil, translate(ErrObjectNotAcquired, addr, err)
	}
	var obj storeObject
	switch so.Kind() {
	case KindAnchor:
		obj, err = decodeAnchor(so)
	case KindNode:
		obj, err = decodeNode(so)
	case KindBinary:
		obj, err = decodeBinary(so)
	case KindContext:
		obj, err = decodeContext(so)
	default:
		err = dataErrf(so.Body(), 0, nil, "unknown record kind %v", so.Kind())
	}
	if err != nil {
		ops.abandon(so)
		return nil, translate(ErrObjectNotAcquired, addr, err)
	}
	return obj, nil
}

// insertObject stores a new object. The object is not pinned afterwards.
func (ops objectOps) insertObject(obj storeObject) (Address, error) {
	w := fieldWriter{payloadBytesPool.Get().([]byte)[:0]}
	obj.encodeBody(&w)
	addr, err := ops.store.Insert(obj.kind(), w.Buf)
	payloadBytesPool.Put(w.Buf[:0])
	if err != nil {
		return NilAddress, translate(ErrObjectNotStored, NilAddress, err)
	}
	return addr, nil
}

// release re-encodes obj, writes it back if it changed, and unpins it.
func (ops objectOps) release(obj storeObject) error {
	so := obj.stored()
	if so == nil {
		return translate(ErrObjectNotReleased, NilAddress, ErrNotPinned)
	}
	return ops.releaseAll(obj)
}

// releaseAll re-encodes every non-nil object and writes them back as one
// unit: on failure none of them is written. All of them end up unpinned.
func (ops objectOps) releaseAll(objs ...storeObject) error {
	sos := make([]*StoredObject, 0, len(objs))
	for _, obj := range objs {
		if obj == nil || obj.stored() == nil {
			continue
		}
		so := obj.stored()
		if so.Pinned() {
			var w fieldWriter
			obj.encodeBody(&w)
			so.SetBody(w.Buf)
		}
		sos = append(sos, so)
	}
	if err := ops.store.ReleaseAll(sos...); err != nil {
		var addr Address
		var se *StoreError
		if errors.As(err, &se) {
			addr = se.Addr
		}
		return translate(ErrObjectNotReleased, addr, err)
	}
	return nil
}

func (ops objectOps) removeObject(addr Address) error {
	if err := ops.store.Remove(addr); err != nil {
		return translate(ErrObjectNotRemoved, addr, err)
	}
	return nil
}
