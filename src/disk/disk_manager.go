package disk

import (
	"os"
	"sync"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simple-db-2pl/src/common"
)

// DiskManager reads and writes the pages of one flat file. There is no
// header: page n lives at bytes [n*PageSize, (n+1)*PageSize), and the page
// count is the file length divided by the page size.
type DiskManager struct {
	fileName string
	fi       *os.File
	// mu orders growth of the file against writes that check its length.
	mu sync.Mutex
}

// NewDiskManager opens fileName, creating it if needed. With directIO the
// file is opened with O_DIRECT, which needs a page size that is a multiple
// of the device block size.
func NewDiskManager(fileName string, directIO bool) (*DiskManager, error) {
	flags := os.O_CREATE | os.O_RDWR | os.O_SYNC
	var fi *os.File
	var err error
	if directIO {
		fi, err = directio.OpenFile(fileName, flags, 0644)
	} else {
		fi, err = os.OpenFile(fileName, flags, 0644)
	}
	if err != nil {
		log.WithError(err).Errorf("Cannot open file %s.", fileName)
		return nil, errors.Wrapf(err, "open %s", fileName)
	}
	dm := &DiskManager{
		fileName: fileName,
		fi:       fi,
	}
	size, err := dm.getFileSize()
	if err != nil {
		fi.Close()
		return nil, err
	}
	if size%int64(common.PageSize()) != 0 {
		log.Warnf("File %s has %d bytes, not a multiple of the page size %d.", fileName, size, common.PageSize())
	}
	return dm, nil
}

func (dm *DiskManager) FileName() string { return dm.fileName }

func (dm *DiskManager) Close() error {
	return dm.fi.Close()
}

func (dm *DiskManager) NumPages() (int, error) {
	size, err := dm.getFileSize()
	if err != nil {
		return 0, err
	}
	return int(size / int64(common.PageSize())), nil
}

// ReadPage reads exactly one page. Reading at or past the end of the file
// fails.
func (dm *DiskManager) ReadPage(pageNo int) ([]byte, error) {
	if pageNo < 0 {
		return nil, errors.Errorf("page number %d is negative", pageNo)
	}
	pageSize := common.PageSize()
	data := directio.AlignedBlock(pageSize)
	n, err := dm.fi.ReadAt(data, int64(pageNo)*int64(pageSize))
	if n < pageSize {
		if err == nil {
			err = errors.New("read less than a page")
		}
		return nil, errors.Wrapf(err, "read page %d of %s", pageNo, dm.fileName)
	}
	return data, nil
}

// WritePage overwrites an existing page. It never grows the file; use
// AppendPage for that.
func (dm *DiskManager) WritePage(pageNo int, data []byte) error {
	if len(data) != common.PageSize() {
		return errors.Errorf("page data has %d bytes, want %d", len(data), common.PageSize())
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	numPages, err := dm.NumPages()
	if err != nil {
		return err
	}
	if pageNo < 0 || pageNo >= numPages {
		return errors.Errorf("write of page %d outside %s with %d pages", pageNo, dm.fileName, numPages)
	}
	return dm.writePageData(pageNo, data)
}

// AppendPage grows the file by one page holding data and returns its number.
func (dm *DiskManager) AppendPage(data []byte) (int, error) {
	if len(data) != common.PageSize() {
		return 0, errors.Errorf("page data has %d bytes, want %d", len(data), common.PageSize())
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	pageNo, err := dm.NumPages()
	if err != nil {
		return 0, err
	}
	if err := dm.writePageData(pageNo, data); err != nil {
		return 0, err
	}
	return pageNo, nil
}

func (dm *DiskManager) getFileSize() (int64, error) {
	stat, err := dm.fi.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", dm.fileName)
	}
	return stat.Size(), nil
}

func (dm *DiskManager) writePageData(pageNo int, data []byte) error {
	offset := int64(pageNo) * int64(common.PageSize())
	if _, err := dm.fi.WriteAt(data, offset); err != nil {
		return errors.Wrapf(err, "write page %d of %s", pageNo, dm.fileName)
	}
	return nil
}
