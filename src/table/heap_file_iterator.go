package table

import (
	"github.com/pkg/errors"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/tuple"
)

var ErrNoMoreTuples = errors.New("no more tuples")

// HeapFileIterator walks the occupied slots of a heap file in page order.
// The number of pages is fixed when the iterator is opened. Pages are
// fetched lazily.
type HeapFileIterator struct {
	file     *HeapFile
	tid      common.TransactionId
	numPages int
	pageNo   int
	tuples   []*tuple.Tuple
	pos      int
	isOpen   bool
}

func (it *HeapFileIterator) Open() error {
	numPages, err := it.file.NumPages()
	if err != nil {
		return err
	}
	it.numPages = numPages
	it.pageNo = -1
	it.tuples = nil
	it.pos = 0
	it.isOpen = true
	return nil
}

func (it *HeapFileIterator) HasNext() (bool, error) {
	if !it.isOpen {
		return false, nil
	}
	for it.pos >= len(it.tuples) {
		if it.pageNo+1 >= it.numPages {
			return false, nil
		}
		it.pageNo++
		page, err := it.file.bp.FetchPage(it.tid, it.file.pageId(it.pageNo), common.ReadOnly)
		if err != nil {
			return false, err
		}
		it.tuples = NewHeapPage(page, it.file.desc).Tuples()
		it.pos = 0
	}
	return true, nil
}

func (it *HeapFileIterator) Next() (*tuple.Tuple, error) {
	ok, err := it.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoMoreTuples
	}
	t := it.tuples[it.pos]
	it.pos++
	return t, nil
}

// Rewind starts over from page 0.
func (it *HeapFileIterator) Rewind() error {
	it.Close()
	return it.Open()
}

func (it *HeapFileIterator) Close() {
	it.tuples = nil
	it.isOpen = false
}
