package table

import (
	"path/filepath"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/disk"
	"simple-db-2pl/src/tuple"
)

// HeapFile stores the tuples of one table, unordered, in a flat file of
// slotted pages. All tuple access goes through the buffer pool; only the
// pool calls ReadPage and WritePage.
type HeapFile struct {
	fileName string
	tableId  int32
	desc     *tuple.Desc
	dm       *disk.DiskManager
	bp       *disk.BufferPool
}

// NewHeapFile opens (or creates) fileName as a table with schema desc and
// registers it with bp.
func NewHeapFile(fileName string, desc *tuple.Desc, bp *disk.BufferPool, directIO bool) (*HeapFile, error) {
	if err := checkRowFits(desc); err != nil {
		return nil, err
	}
	dm, err := disk.NewDiskManager(fileName, directIO)
	if err != nil {
		return nil, err
	}
	canonical, err := CanonicalPath(fileName)
	if err != nil {
		dm.Close()
		return nil, err
	}
	hf := &HeapFile{
		fileName: canonical,
		tableId:  tableIdFor(canonical),
		desc:     desc,
		dm:       dm,
		bp:       bp,
	}
	bp.RegisterFile(hf)
	log.WithFields(log.Fields{"file": canonical, "table": hf.tableId}).Debug("Opened heap file.")
	return hf, nil
}

// checkRowFits rejects schemas whose rows do not fit in a page.
func checkRowFits(desc *tuple.Desc) error {
	if NumSlots(desc.Size()) == 0 {
		return errors.Wrapf(common.ErrSchemaMismatch, "row of %d bytes does not fit in a page of %d bytes",
			desc.Size(), common.PageSize())
	}
	return nil
}

// CanonicalPath is the absolute, symlink-free form of fileName. Symlinks are
// only resolved if fileName exists.
func CanonicalPath(fileName string) (string, error) {
	abs, err := filepath.Abs(fileName)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", fileName)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// tableIdFor hashes a canonical path. Ids are stable for a path but not
// guaranteed unique across paths.
func tableIdFor(path string) int32 {
	h := xxhash.New64()
	h.Write([]byte(path))
	return int32(h.Sum64())
}

func (hf *HeapFile) ID() int32 { return hf.tableId }

func (hf *HeapFile) Desc() *tuple.Desc { return hf.desc }

func (hf *HeapFile) FileName() string { return hf.fileName }

func (hf *HeapFile) Close() error { return hf.dm.Close() }

func (hf *HeapFile) NumPages() (int, error) { return hf.dm.NumPages() }

func (hf *HeapFile) pageId(pageNo int) common.PageId {
	return common.NewPageId(hf.tableId, pageNo)
}

func (hf *HeapFile) ReadPage(pageId common.PageId) (*disk.Page, error) {
	if pageId.TableId != hf.tableId {
		return nil, errors.Errorf("%s does not belong to table %d", pageId, hf.tableId)
	}
	data, err := hf.dm.ReadPage(int(pageId.PageNumber))
	if err != nil {
		return nil, common.NewStorageIOError("read", pageId, err)
	}
	return disk.NewPage(pageId, data), nil
}

func (hf *HeapFile) WritePage(page *disk.Page) error {
	pageId := page.PageId()
	if pageId.TableId != hf.tableId {
		return errors.Errorf("%s does not belong to table %d", pageId, hf.tableId)
	}
	if err := hf.dm.WritePage(int(pageId.PageNumber), page.Data()); err != nil {
		return common.NewStorageIOError("write", pageId, err)
	}
	return nil
}

// InsertTuple puts t in the lowest free slot of the first page that has one,
// appending an empty page when every page is full.
func (hf *HeapFile) InsertTuple(tid common.TransactionId, t *tuple.Tuple) ([]*disk.Page, error) {
	if !t.Desc().Equals(hf.desc) {
		return nil, errors.Wrapf(common.ErrSchemaMismatch, "insert (%s) into table %d (%s)", t.Desc(), hf.tableId, hf.desc)
	}
	if err := checkRowFits(hf.desc); err != nil {
		return nil, err
	}
	for {
		numPages, err := hf.NumPages()
		if err != nil {
			return nil, err
		}
		for i := 0; i < numPages; i++ {
			page, err := hf.insertIntoPage(tid, t, i)
			if err != nil {
				return nil, err
			}
			if page != nil {
				return []*disk.Page{page}, nil
			}
		}

		pageNo, err := hf.dm.AppendPage(EmptyPageData())
		if err != nil {
			return nil, common.NewStorageIOError("append", hf.pageId(numPages), err)
		}
		log.WithFields(log.Fields{"txn": tid, "page": hf.pageId(pageNo)}).Debug("Appended empty page.")
		page, err := hf.insertIntoPage(tid, t, pageNo)
		if err != nil {
			return nil, err
		}
		if page != nil {
			return []*disk.Page{page}, nil
		}
		if NumSlots(hf.desc.Size()) == 0 {
			return nil, errors.Errorf("appended page %d of table %d has no slots", pageNo, hf.tableId)
		}
		// Another transaction filled the new page first; scan again.
	}
}

// insertIntoPage returns the modified page, or nil if the page had no room.
// A page probed only to find it full is unlocked again, unless the
// transaction held a lock on it already.
func (hf *HeapFile) insertIntoPage(tid common.TransactionId, t *tuple.Tuple, pageNo int) (*disk.Page, error) {
	pid := hf.pageId(pageNo)
	held := hf.bp.HoldsLock(tid, pid)
	page, err := hf.bp.FetchPage(tid, pid, common.ReadOnly)
	if err != nil {
		return nil, err
	}
	if NewHeapPage(page, hf.desc).NumEmptySlots() == 0 {
		if !held {
			hf.bp.ReleasePage(tid, pid)
		}
		return nil, nil
	}

	page, err = hf.bp.FetchPage(tid, pid, common.ReadWrite)
	if err != nil {
		return nil, err
	}
	hp := NewHeapPage(page, hf.desc)
	if hp.NumEmptySlots() == 0 {
		return nil, nil
	}
	if _, err := hp.InsertTuple(t); err != nil {
		return nil, err
	}
	return page, nil
}

// DeleteTuple clears the slot t was stored in.
func (hf *HeapFile) DeleteTuple(tid common.TransactionId, t *tuple.Tuple) ([]*disk.Page, error) {
	rid := t.RecordId()
	if rid == nil {
		return nil, errors.New("tuple has no record id")
	}
	if rid.PageId.TableId != hf.tableId {
		return nil, errors.Errorf("tuple %s is not in table %d", rid, hf.tableId)
	}
	page, err := hf.bp.FetchPage(tid, rid.PageId, common.ReadWrite)
	if err != nil {
		return nil, err
	}
	if err := NewHeapPage(page, hf.desc).DeleteTuple(t); err != nil {
		return nil, err
	}
	return []*disk.Page{page}, nil
}

// Iterator scans every tuple of the table on behalf of tid, taking shared
// locks page by page.
func (hf *HeapFile) Iterator(tid common.TransactionId) *HeapFileIterator {
	return &HeapFileIterator{file: hf, tid: tid}
}
