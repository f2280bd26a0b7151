package objstore

import (
	"encoding/binary"
	"fmt"
)

// Address is an opaque, stable handle of a stored record. Addresses are never
// shared by two simultaneously live records and do not change when other
// records are inserted, rewritten or removed.
type Address uint64

// NilAddress never refers to a record. An empty index has a NilAddress root.
const NilAddress Address = 0

func (a Address) IsNil() bool {
	return a == NilAddress
}

func (a Address) String() string {
	if a == NilAddress {
		return "@nil"
	}
	return fmt.Sprintf("@%d", uint64(a))
}

func (a Address) bytes() []byte {
	var buf [addressWidth]byte
	binary.BigEndian.PutUint64(buf[:], uint64(a))
	return buf[:]
}

func addressFromBytes(b []byte) (Address, error) {
	if len(b) != addressWidth {
		return NilAddress, dataErrf(b, 0, nil, "address must be %d bytes", addressWidth)
	}
	return Address(binary.BigEndian.Uint64(b)), nil
}

// Kind is the type tag every record starts with.
type Kind uint16

const (
	KindAnchor Kind = 1 + iota
	KindNode
	KindBinary
	KindContext
)

func (k Kind) String() string {
	switch k {
	case KindAnchor:
		return "anchor"
	case KindNode:
		return "node"
	case KindBinary:
		return "binary"
	case KindContext:
		return "context"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}
