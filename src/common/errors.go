package common

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTransactionAborted is returned when a transaction had to be aborted
	// because a lock could not be acquired in time. The transaction is
	// already rolled back when the caller sees it.
	ErrTransactionAborted = errors.New("transaction aborted")
	// ErrBufferPoolFull is returned when a page must be brought in but every
	// resident page is dirty.
	ErrBufferPoolFull = errors.New("buffer pool is full")
	// ErrSchemaMismatch is returned when a tuple does not fit the table's schema.
	ErrSchemaMismatch = errors.New("tuple schema does not match table")
	// ErrNoSuchTable is returned when a page id names an unregistered table.
	ErrNoSuchTable = errors.New("no such table")
)

// StorageIOError reports a failed read or write of a page on disk.
type StorageIOError struct {
	Op   string
	Page PageId
	Err  error
}

func NewStorageIOError(op string, pid PageId, err error) *StorageIOError {
	return &StorageIOError{Op: op, Page: pid, Err: err}
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("storage %s of %s: %v", e.Op, e.Page, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }
