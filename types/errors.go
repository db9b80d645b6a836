package types

import (
	"errors"
	"fmt"
)

// Logical failures. These indicate a caller-level precondition violation
// and are never retried by the store.
var (
	ErrUnknownDomain            = errors.New("unknown domain")
	ErrUnsupportedSchemaVersion = errors.New("unsupported schema version")
	ErrDuplicateKey             = errors.New("duplicate key")
	ErrNotFound                 = errors.New("not found")

	ErrUnknownCollection    = errors.New("unknown collection")
	ErrCollectionNotInScope = errors.New("collection not in transaction scope")
	ErrReadOnlyTransaction  = errors.New("write in read-only transaction")
	ErrTransactionDone      = errors.New("transaction already finished")
	ErrInvalidRecord        = errors.New("invalid record")
	ErrInvalidSchema        = errors.New("invalid schema")
	ErrSchemaMismatch       = errors.New("persisted schema does not match registry")
	ErrInvalidQuery         = errors.New("invalid query")
)

// ErrStorageFailure is the kind matched by every *StorageError.
var ErrStorageFailure = errors.New("storage failure")

// StorageError wraps an engine-level failure (I/O, quota, conflict).
// It aborts the enclosing transaction and is surfaced unchanged.
type StorageError struct {
	Domain string // Domain whose engine failed
	Op     string // Operation that failed (e.g. "insert", "commit")
	Err    error  // Underlying engine error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Domain == "" {
		return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage failure during %s on domain %q: %v", e.Op, e.Domain, e.Err)
}

// Unwrap returns the engine error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorageFailure) true for every StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// NewStorageError wraps err unless it already is a StorageError.
func NewStorageError(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se
	}
	return &StorageError{Domain: domain, Op: op, Err: err}
}

// IsStorageFailure reports whether err is an engine-level failure.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}

// IsLogical reports whether err belongs to the logical error taxonomy
// rather than to the storage engine.
func IsLogical(err error) bool {
	if err == nil || IsStorageFailure(err) {
		return false
	}
	for _, kind := range []error{
		ErrUnknownDomain, ErrUnsupportedSchemaVersion, ErrDuplicateKey, ErrNotFound,
		ErrUnknownCollection, ErrCollectionNotInScope, ErrReadOnlyTransaction,
		ErrTransactionDone, ErrInvalidRecord, ErrInvalidSchema, ErrSchemaMismatch,
		ErrInvalidQuery,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
