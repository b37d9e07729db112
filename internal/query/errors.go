package query

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedQueryKind     = errors.New("unsupported query kind")
	ErrUnsupportedFilterKind    = errors.New("unsupported filter kind")
	ErrNotImplemented           = errors.New("not implemented")
	ErrNodeNotFound             = errors.New("node not found")
	ErrDistributedQueryNotFound = errors.New("distributed query not found")
	ErrInvalidPagination        = errors.New("invalid pagination")
	ErrInvalidOrder             = errors.New("invalid order")

	// ErrStore is matched by every failure that originated in the record store.
	ErrStore = errors.New("record store error")

	// ErrRecordNotFound is returned by RecordStore lookups when no row has the
	// requested identity.
	ErrRecordNotFound = errors.New("record not found")
)

// FilterKindError reports the first filter whose kind is not legal for the
// query kind being executed.
type FilterKindError struct {
	Kind      FilterKind
	QueryKind QueryKind
	Index     int
}

func (e *FilterKindError) Error() string {
	return fmt.Sprintf("unsupported filter kind %s for %s query (filter #%d)", e.Kind, e.QueryKind, e.Index)
}

func (e *FilterKindError) Is(target error) bool { return target == ErrUnsupportedFilterKind }

// StoreError wraps a failure returned by the record store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
