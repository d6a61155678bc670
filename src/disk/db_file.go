package disk

import (
	"simple-db-2pl/src/common"
	"simple-db-2pl/src/tuple"
)

// DbFile is a table's on-disk storage as seen by the buffer pool.
type DbFile interface {
	ID() int32
	Desc() *tuple.Desc
	// ReadPage loads a page straight from disk, bypassing the pool.
	ReadPage(pageId common.PageId) (*Page, error)
	// WritePage stores a page straight to disk.
	WritePage(page *Page) error
	NumPages() (int, error)
	// InsertTuple and DeleteTuple fetch pages through the buffer pool and
	// return the pages they modified.
	InsertTuple(tid common.TransactionId, t *tuple.Tuple) ([]*Page, error)
	DeleteTuple(tid common.TransactionId, t *tuple.Tuple) ([]*Page, error)
}
