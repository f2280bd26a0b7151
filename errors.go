package objstore

import (
	"errors"
	"fmt"
	"strings"
)

// Low-level causes reported by ObjectStore inside a *StoreError.
var (
	ErrUnknownAddress = errors.New("unknown address")
	ErrAlreadyPinned  = errors.New("object is already pinned")
	ErrNotPinned      = errors.New("object is not pinned")
	ErrStillPinned    = errors.New("object is still pinned")
	ErrCorrupt        = errors.New("corrupted record")
	ErrTooLarge       = errors.New("record too large")
	ErrClosed         = errors.New("store closed")
)

// The indexed-store taxonomy. Every ObjectStore failure surfacing through the
// façade matches exactly one of these via errors.Is.
var (
	ErrObjectNotAcquired = errors.New("object not acquired")
	ErrObjectNotStored   = errors.New("object not stored")
	ErrObjectNotReleased = errors.New("object not released")
	ErrObjectNotRemoved  = errors.New("object not removed")
)

// ErrKindMismatch means an address was used as the wrong kind of object. It
// indicates a broken structure or a programming error and is never retried.
var ErrKindMismatch = errors.New("object kind mismatch")

// Index-level errors.
var (
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrEntryTooLarge  = errors.New("entry too large")
	ErrIndexExists    = errors.New("index already exists")
	ErrIndexNotFound  = errors.New("index not found")
	ErrInvalidOptions = errors.New("invalid options")
	ErrInvariant      = errors.New("index invariant violated")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

// StoreError is returned by ObjectStore operations.
type StoreError struct {
	Op   string
	Addr Address
	Err  error
}

func storeErr(op string, addr Address, err error) error {
	return &StoreError{op, addr, err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	if e.Addr.IsNil() {
		return fmt.Sprintf("objstore: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("objstore: %s %v: %v", e.Op, e.Addr, e.Err)
}

// IndexedStoreError is what the façade turns every ObjectStore failure into.
// Unwrap yields only Code; Cause is kept for diagnostics.
type IndexedStoreError struct {
	Code  error
	Addr  Address
	Cause error
}

func (e *IndexedStoreError) Unwrap() error {
	return e.Code
}

func (e *IndexedStoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Code.Error())
	if !e.Addr.IsNil() {
		buf.WriteByte(' ')
		buf.WriteString(e.Addr.String())
	}
	if e.Cause != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Cause.Error())
	}
	return buf.String()
}

type KindMismatchError struct {
	Addr Address
	Want Kind
	Got  Kind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("%v: wanted %v, got %v", e.Addr, e.Want, e.Got)
}

func (e *KindMismatchError) Is(target error) bool {
	return target == ErrKindMismatch
}

type IndexError struct {
	Index string
	Key   []byte
	Msg   string
	Err   error
}

func indexErrf(name string, key []byte, err error, format string, args ...any) error {
	return &IndexError{name, key, fmt.Sprintf(format, args...), err}
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

func (e *IndexError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Index)
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
