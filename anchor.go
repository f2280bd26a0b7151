package objstore

// indexAnchor is the durable entry point of one index. The root node moves on
// root splits and collapses; the anchor's own address never does.
//
// Body: name:varbytes root:64 order:uvarint duplicates:8 count:uvarint
type indexAnchor struct {
	obj *StoredObject

	name   string
	root   Address
	order  int
	policy DuplicatePolicy
	count  uint64
}

func newIndexAnchor(name string, order int, policy DuplicatePolicy) *indexAnchor {
	return &indexAnchor{
		name:   name,
		root:   NilAddress,
		order:  order,
		policy: policy,
	}
}

func decodeAnchor(so *StoredObject) (*indexAnchor, error) {
	r := makeFieldReader(so.Body())
	a := &indexAnchor{obj: so}
	var err error
	if a.name, err = r.String(); err != nil {
		return nil, err
	}
	if a.root, err = r.Address(); err != nil {
		return nil, err
	}
	if a.order, err = r.Uvarinti(); err != nil {
		return nil, err
	}
	policy, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	a.policy = DuplicatePolicy(policy)
	if a.count, err = r.Uvarint(); err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	if a.order < minOrder {
		return nil, dataErrf(so.Body(), 0, nil, "anchor %q has invalid order %d", a.name, a.order)
	}
	return a, nil
}

func (a *indexAnchor) kind() Kind {
	return KindAnchor
}

func (a *indexAnchor) stored() *StoredObject {
	if a == nil {
		return nil
	}
	return a.obj
}

func (a *indexAnchor) encodeBody(w *fieldWriter) {
	w.AppendString(a.name)
	w.AppendAddress(a.root)
	w.AppendUvarinti(a.order)
	w.AppendUint8(uint8(a.policy))
	w.AppendUvarint(a.count)
}

func (a *indexAnchor) rootNodeAddress() Address {
	return a.root
}

// setRootNodeAddress is called exactly when the root splits, collapses, or
// the index becomes empty (NilAddress).
func (a *indexAnchor) setRootNodeAddress(addr Address) {
	a.root = addr
}
