package objstore

import "fmt"

// backend persists record frames behind addresses. ObjectStore serializes all
// calls, so implementations need no locking of their own.
type backend interface {
	// Allocate stores a new record and returns a fresh address (never
	// NilAddress, never the address of a live record).
	Allocate(frame []byte) (Address, error)

	// Read returns the frame stored at addr, or ErrUnknownAddress. The result
	// is only valid until the next call.
	Read(addr Address) ([]byte, error)

	// WriteAll replaces the frames of existing records. Either every write
	// is applied or, on error, none is.
	WriteAll(writes []recordWrite) error

	// Delete removes a record. The address may be handed out again later.
	Delete(addr Address) error

	// Stats returns best-effort backend statistics.
	Stats() backendStats

	Close() error
}

type recordWrite struct {
	addr  Address
	frame []byte
}

type backendStats struct {
	Records    int
	FileSize   int64
	FreeBlocks int
}

// Backend selects where ObjectStore keeps its records.
type Backend int

const (
	BoltBackend Backend = iota
	PageBackend
	MemoryBackend
)

func (b Backend) String() string {
	switch b {
	case BoltBackend:
		return "bolt"
	case PageBackend:
		return "page"
	case MemoryBackend:
		return "memory"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "bolt":
		return BoltBackend, nil
	case "page":
		return PageBackend, nil
	case "memory", "mem":
		return MemoryBackend, nil
	default:
		return 0, fmt.Errorf("%w: unknown backend %q", ErrInvalidOptions, s)
	}
}
