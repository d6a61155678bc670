package disk

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/tuple"
)

// testFile is a DbFile whose page n initially holds the byte n+1 everywhere.
type testFile struct {
	id int32
	dm *DiskManager
	bp *BufferPool
	// failWrites makes WritePage fail.
	failWrites bool
}

func newTestFile(t *testing.T, id int32, numPages int, bp *BufferPool) *testFile {
	dm, err := NewDiskManager(filepath.Join(t.TempDir(), "table.dat"), false)
	require.Nil(t, err)
	t.Cleanup(func() { dm.Close() })
	for i := 0; i < numPages; i++ {
		_, err := dm.AppendPage(bytes.Repeat([]byte{byte(i + 1)}, common.PageSize()))
		require.Nil(t, err)
	}
	f := &testFile{id: id, dm: dm, bp: bp}
	bp.RegisterFile(f)
	return f
}

func (f *testFile) ID() int32 { return f.id }

func (f *testFile) Desc() *tuple.Desc { return tuple.IntDesc(1) }

func (f *testFile) ReadPage(pid common.PageId) (*Page, error) {
	data, err := f.dm.ReadPage(int(pid.PageNumber))
	if err != nil {
		return nil, common.NewStorageIOError("read", pid, err)
	}
	return NewPage(pid, data), nil
}

func (f *testFile) WritePage(page *Page) error {
	if f.failWrites {
		return common.NewStorageIOError("write", page.PageId(), errors.New("disk on fire"))
	}
	return f.dm.WritePage(int(page.PageId().PageNumber), page.Data())
}

func (f *testFile) NumPages() (int, error) { return f.dm.NumPages() }

// InsertTuple writes the tuple's bytes over the start of page 0.
func (f *testFile) InsertTuple(tid common.TransactionId, t *tuple.Tuple) ([]*Page, error) {
	page, err := f.bp.FetchPage(tid, f.pid(0), common.ReadWrite)
	if err != nil {
		return nil, err
	}
	copy(page.Data(), t.Bytes())
	return []*Page{page}, nil
}

func (f *testFile) DeleteTuple(common.TransactionId, *tuple.Tuple) ([]*Page, error) {
	return nil, errors.New("not supported")
}

func (f *testFile) pid(n int) common.PageId { return common.NewPageId(f.id, n) }

func (f *testFile) onDisk(t *testing.T, n int) []byte {
	data, err := f.dm.ReadPage(n)
	require.Nil(t, err)
	return data
}

func newTestPool(numPages int) *BufferPool {
	return NewBufferPool(numPages, NewRandomReplacerWithSource(rand.NewSource(7)))
}

func TestBufferPool_FetchCachesPage(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 2, bp)
	tid := common.NewTransactionId()

	page, err := bp.FetchPage(tid, f.pid(1), common.ReadOnly)
	require.Nil(t, err)
	require.Equal(t, bytes.Repeat([]byte{2}, common.PageSize()), page.Data())
	_, dirty := page.IsDirty()
	require.False(t, dirty)

	again, err := bp.FetchPage(tid, f.pid(1), common.ReadOnly)
	require.Nil(t, err)
	require.True(t, page == again)
	require.Equal(t, 1, bp.NumResident())
	require.True(t, bp.HoldsLock(tid, f.pid(1)))
	require.Nil(t, bp.Commit(tid))
	require.False(t, bp.HoldsLock(tid, f.pid(1)))
}

func TestBufferPool_ReadWriteMarksDirty(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 1, bp)
	tid := common.NewTransactionId()

	page, err := bp.FetchPage(tid, f.pid(0), common.ReadOnly)
	require.Nil(t, err)
	// Upgrade through the pool; no write happens, the page is dirty anyway.
	page, err = bp.FetchPage(tid, f.pid(0), common.ReadWrite)
	require.Nil(t, err)
	dirtier, dirty := page.IsDirty()
	require.True(t, dirty)
	require.Equal(t, tid, dirtier)
	require.True(t, bp.LockManager().HoldsExclusive(tid, f.pid(0)))
	require.Equal(t, 1, bp.NumDirty())
}

func TestBufferPool_CacheBound(t *testing.T) {
	bp := newTestPool(3)
	f := newTestFile(t, 1, 10, bp)
	tid := common.NewTransactionId()

	for round := 0; round < 3; round++ {
		for i := 0; i < 10; i++ {
			page, err := bp.FetchPage(tid, f.pid(i), common.ReadOnly)
			require.Nil(t, err)
			require.Equal(t, byte(i+1), page.Data()[0])
			require.LessOrEqual(t, bp.NumResident(), 3)
		}
	}
	require.Nil(t, bp.Commit(tid))
}

func TestBufferPool_NoSteal(t *testing.T) {
	bp := newTestPool(2)
	f := newTestFile(t, 1, 3, bp)
	t1, t2, t3 := common.NewTransactionId(), common.NewTransactionId(), common.NewTransactionId()

	pageA, err := bp.FetchPage(t1, f.pid(0), common.ReadWrite)
	require.Nil(t, err)
	_, err = bp.FetchPage(t2, f.pid(1), common.ReadWrite)
	require.Nil(t, err)

	_, err = bp.FetchPage(t3, f.pid(2), common.ReadOnly)
	require.True(t, errors.Is(err, common.ErrBufferPoolFull))
	require.Equal(t, 2, bp.NumResident())
	require.Equal(t, 2, bp.NumDirty())

	pageA.Data()[0] = 0xAA
	require.Nil(t, bp.Commit(t1))

	// A is clean now and the only candidate.
	pageC, err := bp.FetchPage(t3, f.pid(2), common.ReadOnly)
	require.Nil(t, err)
	require.Equal(t, byte(3), pageC.Data()[0])
	require.Equal(t, 2, bp.NumResident())
	_, resident := bp.pages[f.pid(0)]
	require.False(t, resident)
	_, resident = bp.pages[f.pid(1)]
	require.True(t, resident)
	require.Equal(t, byte(0xAA), f.onDisk(t, 0)[0])
}

func TestBufferPool_CommitDurability(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 2, bp)
	tid := common.NewTransactionId()

	var expected [][]byte
	for i := 0; i < 2; i++ {
		page, err := bp.FetchPage(tid, f.pid(i), common.ReadWrite)
		require.Nil(t, err)
		rand.Read(page.Data())
		expected = append(expected, append([]byte(nil), page.Data()...))
	}
	// Nothing reaches disk before commit.
	require.Equal(t, byte(1), f.onDisk(t, 0)[0])

	require.Nil(t, bp.Commit(tid))
	for i := 0; i < 2; i++ {
		require.Equal(t, expected[i], f.onDisk(t, i))
		page := bp.pages[f.pid(i)]
		_, dirty := page.IsDirty()
		require.False(t, dirty)
		require.Equal(t, expected[i], page.BeforeImage())
	}
	require.Empty(t, bp.LockManager().PagesHeld(tid))
}

func TestBufferPool_CommitWriteFailureRevertsPage(t *testing.T) {
	bp := newTestPool(1)
	f := newTestFile(t, 1, 2, bp)
	tid := common.NewTransactionId()

	page, err := bp.FetchPage(tid, f.pid(0), common.ReadWrite)
	require.Nil(t, err)
	original := append([]byte(nil), page.Data()...)
	page.Data()[0] = 0xEE

	f.failWrites = true
	err = bp.Commit(tid)
	var ioErr *common.StorageIOError
	require.True(t, errors.As(err, &ioErr))
	f.failWrites = false

	_, dirty := page.IsDirty()
	require.False(t, dirty)
	require.Equal(t, original, page.Data())
	require.Equal(t, 0, bp.NumDirty())
	require.Empty(t, bp.LockManager().PagesHeld(tid))

	// The slot is usable again: page 1 evicts page 0.
	other := common.NewTransactionId()
	_, err = bp.FetchPage(other, f.pid(1), common.ReadOnly)
	require.Nil(t, err)
	require.Equal(t, 1, bp.NumResident())
	require.Nil(t, bp.Commit(other))
}

func TestBufferPool_AbortAtomicity(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 2, bp)
	tid := common.NewTransactionId()

	page, err := bp.FetchPage(tid, f.pid(0), common.ReadWrite)
	require.Nil(t, err)
	original := append([]byte(nil), page.Data()...)
	rand.Read(page.Data())

	require.Nil(t, bp.Abort(tid))
	require.Equal(t, original, page.Data())
	require.Equal(t, original, f.onDisk(t, 0))
	_, dirty := page.IsDirty()
	require.False(t, dirty)
	require.Empty(t, bp.LockManager().PagesHeld(tid))

	// Another transaction sees the reverted content.
	other := common.NewTransactionId()
	page, err = bp.FetchPage(other, f.pid(0), common.ReadOnly)
	require.Nil(t, err)
	require.Equal(t, original, page.Data())
}

func TestBufferPool_AbortKeepsOtherCommits(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 1, bp)

	t1 := common.NewTransactionId()
	page, err := bp.FetchPage(t1, f.pid(0), common.ReadWrite)
	require.Nil(t, err)
	page.Data()[0] = 0x11
	require.Nil(t, bp.Commit(t1))

	t2 := common.NewTransactionId()
	page, err = bp.FetchPage(t2, f.pid(0), common.ReadWrite)
	require.Nil(t, err)
	page.Data()[0] = 0x22
	require.Nil(t, bp.Abort(t2))

	require.Equal(t, byte(0x11), page.Data()[0])
	require.Equal(t, byte(0x11), f.onDisk(t, 0)[0])
}

func TestBufferPool_LockTimeoutAborts(t *testing.T) {
	bp := newTestPool(4)
	bp.SetLockTimeout(50 * time.Millisecond)
	f := newTestFile(t, 1, 2, bp)
	t1, t2 := common.NewTransactionId(), common.NewTransactionId()

	_, err := bp.FetchPage(t1, f.pid(0), common.ReadWrite)
	require.Nil(t, err)
	pageB, err := bp.FetchPage(t2, f.pid(1), common.ReadWrite)
	require.Nil(t, err)
	pageB.Data()[0] = 0xFF

	start := time.Now()
	_, err = bp.FetchPage(t2, f.pid(0), common.ReadOnly)
	require.True(t, errors.Is(err, common.ErrTransactionAborted))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// The requester was rolled back, the holder is untouched.
	require.Equal(t, byte(2), pageB.Data()[0])
	_, dirty := pageB.IsDirty()
	require.False(t, dirty)
	require.Empty(t, bp.LockManager().PagesHeld(t2))
	require.True(t, bp.LockManager().HoldsExclusive(t1, f.pid(0)))
}

func TestBufferPool_WaiterGrantedAfterCommit(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 1, bp)
	t1, t2 := common.NewTransactionId(), common.NewTransactionId()

	_, err := bp.FetchPage(t1, f.pid(0), common.ReadOnly)
	require.Nil(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := bp.FetchPage(t2, f.pid(0), common.ReadWrite)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("exclusive lock granted while a shared lock is held")
	case <-time.After(30 * time.Millisecond):
	}
	require.Nil(t, bp.Commit(t1))

	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never granted")
	}
	require.True(t, bp.LockManager().HoldsExclusive(t2, f.pid(0)))
}

func TestBufferPool_DiscardPage(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 1, bp)
	tid := common.NewTransactionId()

	page, err := bp.FetchPage(tid, f.pid(0), common.ReadWrite)
	require.Nil(t, err)
	page.Data()[0] = 0x55

	bp.DiscardPage(f.pid(0))
	require.Equal(t, 0, bp.NumResident())

	fresh, err := bp.FetchPage(tid, f.pid(0), common.ReadOnly)
	require.Nil(t, err)
	require.False(t, fresh == page)
	require.Equal(t, byte(1), fresh.Data()[0])
	require.Nil(t, bp.Commit(tid))
	require.Equal(t, byte(1), f.onDisk(t, 0)[0])
}

func TestBufferPool_ReadFailure(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 1, bp)
	tid := common.NewTransactionId()

	_, err := bp.FetchPage(tid, f.pid(5), common.ReadOnly)
	var ioErr *common.StorageIOError
	require.True(t, errors.As(err, &ioErr))
	require.Equal(t, 0, bp.NumResident())

	_, err = bp.FetchPage(tid, common.NewPageId(99, 0), common.ReadOnly)
	require.True(t, errors.Is(err, common.ErrNoSuchTable))
}

func TestBufferPool_InsertTuple(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 1, bp)
	tid := common.NewTransactionId()

	tup := tuple.NewTuple(tuple.IntDesc(1))
	tup.SetInt(0, 0x01020304)
	require.Nil(t, bp.InsertTuple(tid, f.ID(), tup))

	page := bp.pages[f.pid(0)]
	dirtier, dirty := page.IsDirty()
	require.True(t, dirty)
	require.Equal(t, tid, dirtier)
	require.Equal(t, []byte{1, 2, 3, 4}, page.Data()[:4])

	require.True(t, errors.Is(bp.InsertTuple(tid, 42, tup), common.ErrNoSuchTable))
	require.NotNil(t, bp.DeleteTuple(tid, tup))
	require.Nil(t, bp.Commit(tid))
	require.Equal(t, []byte{1, 2, 3, 4}, f.onDisk(t, 0)[:4])
}

func TestBufferPool_FlushPages(t *testing.T) {
	bp := newTestPool(4)
	f := newTestFile(t, 1, 2, bp)
	t1, t2 := common.NewTransactionId(), common.NewTransactionId()

	a, _ := bp.FetchPage(t1, f.pid(0), common.ReadWrite)
	b, _ := bp.FetchPage(t2, f.pid(1), common.ReadWrite)
	a.Data()[0] = 0x10
	b.Data()[0] = 0x20

	require.Nil(t, bp.FlushPages(t1))
	require.Equal(t, byte(0x10), f.onDisk(t, 0)[0])
	require.Equal(t, byte(2), f.onDisk(t, 1)[0])
	require.True(t, bp.HoldsLock(t1, f.pid(0)))

	require.Nil(t, bp.FlushAllPages())
	require.Equal(t, byte(0x20), f.onDisk(t, 1)[0])
	require.Equal(t, 0, bp.NumDirty())
}

func TestBufferPool_LRUPolicy(t *testing.T) {
	bp := NewBufferPool(2, NewLRUReplacer())
	f := newTestFile(t, 1, 3, bp)
	tid := common.NewTransactionId()

	for _, n := range []int{0, 1, 0, 2} {
		_, err := bp.FetchPage(tid, f.pid(n), common.ReadOnly)
		require.Nil(t, err)
	}
	_, resident := bp.pages[f.pid(1)]
	require.False(t, resident)
	_, resident = bp.pages[f.pid(0)]
	require.True(t, resident)
}
