package disk

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/lock"
	"simple-db-2pl/src/tuple"
)

const (
	DefaultLockTimeout = 200 * time.Millisecond
	DefaultBackoffMin  = 15 * time.Millisecond
	DefaultBackoffMax  = 25 * time.Millisecond
)

// Backoff returns how long a blocked fetch sleeps before it polls the lock
// table again, unless a release wakes it earlier.
type Backoff func() time.Duration

// RandomBackoff draws uniformly from [lo, hi].
func RandomBackoff(lo, hi time.Duration) Backoff {
	var mu sync.Mutex
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() time.Duration {
		if hi <= lo {
			return lo
		}
		mu.Lock()
		defer mu.Unlock()
		return lo + time.Duration(rnd.Int63n(int64(hi-lo)+1))
	}
}

// BufferPool is the only way pages are read or written. Every fetch is gated
// by the lock manager, and pages leave the cache only when clean (no steal).
// Commit writes a transaction's dirty pages (force); abort copies their
// before images back.
type BufferPool struct {
	numPages    int
	pages       map[common.PageId]*Page
	files       map[int32]DbFile
	replacer    Replacer
	lockManager *lock.LockManager
	lockTimeout time.Duration
	backoff     Backoff
	mu          sync.Mutex
}

func NewBufferPool(numPages int, replacer Replacer) *BufferPool {
	if replacer == nil {
		replacer = NewRandomReplacer()
	}
	return &BufferPool{
		numPages:    numPages,
		pages:       make(map[common.PageId]*Page),
		files:       make(map[int32]DbFile),
		replacer:    replacer,
		lockManager: lock.NewLockManager(),
		lockTimeout: DefaultLockTimeout,
		backoff:     RandomBackoff(DefaultBackoffMin, DefaultBackoffMax),
	}
}

func (bp *BufferPool) SetLockTimeout(timeout time.Duration) { bp.lockTimeout = timeout }

func (bp *BufferPool) SetBackoff(backoff Backoff) { bp.backoff = backoff }

func (bp *BufferPool) LockManager() *lock.LockManager { return bp.lockManager }

func (bp *BufferPool) Capacity() int { return bp.numPages }

// RegisterFile makes a table's pages reachable through the pool.
func (bp *BufferPool) RegisterFile(file DbFile) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.files[file.ID()] = file
}

func (bp *BufferPool) File(tableId int32) (DbFile, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.fileLocked(tableId)
}

// FetchPage returns the page with the requested permission, blocking until
// the lock is granted. If the lock cannot be had within the lock timeout, tid
// is aborted and the error matches common.ErrTransactionAborted; the caller
// must not use tid again.
//
// A read-write fetch marks the page dirty by tid right away.
func (bp *BufferPool) FetchPage(tid common.TransactionId, pageId common.PageId, perm common.Permissions) (*Page, error) {
	if err := bp.acquireLock(tid, pageId, perm); err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	page, ok := bp.pages[pageId]
	if !ok {
		file, err := bp.fileLocked(pageId.TableId)
		if err != nil {
			return nil, err
		}
		if len(bp.pages) >= bp.numPages {
			if err := bp.evictPage(); err != nil {
				return nil, err
			}
		}
		page, err = file.ReadPage(pageId)
		if err != nil {
			log.WithError(err).Warnf("Cannot read %s from disk.", pageId)
			return nil, err
		}
		bp.pages[pageId] = page
	}
	bp.replacer.Access(pageId)
	if perm == common.ReadWrite {
		page.MarkDirty(tid)
	}
	return page, nil
}

// ReleasePage drops tid's lock on a page before the transaction ends. Only
// safe when tid neither read nor wrote anything on the page that matters.
func (bp *BufferPool) ReleasePage(tid common.TransactionId, pageId common.PageId) {
	bp.lockManager.Release(tid, pageId)
}

func (bp *BufferPool) HoldsLock(tid common.TransactionId, pageId common.PageId) bool {
	return bp.lockManager.Holds(tid, pageId)
}

// InsertTuple adds t to the table on behalf of tid.
func (bp *BufferPool) InsertTuple(tid common.TransactionId, tableId int32, t *tuple.Tuple) error {
	file, err := bp.File(tableId)
	if err != nil {
		return err
	}
	pages, err := file.InsertTuple(tid, t)
	if err != nil {
		return err
	}
	return bp.adoptPages(tid, pages)
}

// DeleteTuple removes t, located by its record id, on behalf of tid.
func (bp *BufferPool) DeleteTuple(tid common.TransactionId, t *tuple.Tuple) error {
	rid := t.RecordId()
	if rid == nil {
		return errors.New("tuple has no record id")
	}
	file, err := bp.File(rid.PageId.TableId)
	if err != nil {
		return err
	}
	pages, err := file.DeleteTuple(tid, t)
	if err != nil {
		return err
	}
	return bp.adoptPages(tid, pages)
}

// adoptPages makes sure pages modified by tid are cached and marked dirty,
// so later fetches see them and commit or abort handles them.
func (bp *BufferPool) adoptPages(tid common.TransactionId, pages []*Page) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for _, page := range pages {
		pid := page.PageId()
		if cached, ok := bp.pages[pid]; !ok || cached != page {
			if !ok && len(bp.pages) >= bp.numPages {
				if err := bp.evictPage(); err != nil {
					return err
				}
			}
			bp.pages[pid] = page
		}
		page.MarkDirty(tid)
	}
	return nil
}

// TransactionComplete commits or aborts tid and releases all its locks.
// On commit every resident page tid dirtied is written and becomes clean; a
// page whose write fails gets its before image back and the error is
// returned. On abort those pages get their before image back and nothing is written.
func (bp *BufferPool) TransactionComplete(tid common.TransactionId, commit bool) error {
	bp.mu.Lock()
	var firstErr error
	n := 0
	for pid, page := range bp.pages {
		if dirtier, dirty := page.IsDirty(); !dirty || dirtier != tid {
			continue
		}
		n++
		if commit {
			if err := bp.flushPageLocked(pid); err != nil {
				// The page must not stay dirty by a finished transaction, or
				// it could never be evicted. Fall back to the last content
				// known to be on disk.
				log.WithError(err).Errorf("Commit of %s by %s failed, reverting page.", pid, tid)
				page.restoreBeforeImage()
				if firstErr == nil {
					firstErr = err
				}
			}
		} else {
			page.restoreBeforeImage()
		}
	}
	bp.mu.Unlock()

	bp.lockManager.ReleaseAll(tid)
	log.WithFields(log.Fields{"txn": tid, "commit": commit, "pages": n}).Debug("Transaction complete.")
	return firstErr
}

func (bp *BufferPool) Commit(tid common.TransactionId) error {
	return bp.TransactionComplete(tid, true)
}

func (bp *BufferPool) Abort(tid common.TransactionId) error {
	return bp.TransactionComplete(tid, false)
}

// DiscardPage drops a page from the pool without writing it.
func (bp *BufferPool) DiscardPage(pageId common.PageId) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	delete(bp.pages, pageId)
	bp.replacer.Remove(pageId)
}

// FlushPages writes the pages dirtied by tid without ending it.
func (bp *BufferPool) FlushPages(tid common.TransactionId) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pid, page := range bp.pages {
		if dirtier, dirty := page.IsDirty(); dirty && dirtier == tid {
			if err := bp.flushPageLocked(pid); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushAllPages writes every dirty page. Uncommitted changes reach disk, so
// this is only for shutdown and tests.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for pid := range bp.pages {
		if err := bp.flushPageLocked(pid); err != nil {
			return err
		}
	}
	return nil
}

func (bp *BufferPool) NumResident() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pages)
}

func (bp *BufferPool) NumDirty() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	n := 0
	for _, page := range bp.pages {
		if _, dirty := page.IsDirty(); dirty {
			n++
		}
	}
	return n
}

func (bp *BufferPool) acquireLock(tid common.TransactionId, pageId common.PageId, perm common.Permissions) error {
	if bp.lockManager.TryAcquire(tid, pageId, perm) {
		return nil
	}
	logger := log.WithFields(log.Fields{"txn": tid, "page": pageId, "perm": perm})
	logger.Debug("Waiting for lock.")

	start := time.Now()
	deadline := time.NewTimer(bp.lockTimeout)
	defer deadline.Stop()
	for {
		// Taken before the attempt so a release in between is not missed.
		changed := bp.lockManager.Changed()
		if bp.lockManager.TryAcquire(tid, pageId, perm) {
			logger.Debugf("Lock granted after %v.", time.Since(start))
			return nil
		}
		retry := time.NewTimer(bp.backoff())
		select {
		case <-changed:
		case <-retry.C:
		case <-deadline.C:
			retry.Stop()
			logger.Warnf("Lock wait exceeded %v, aborting transaction.", bp.lockTimeout)
			if err := bp.TransactionComplete(tid, false); err != nil {
				logger.WithError(err).Error("Abort after lock timeout failed.")
			}
			return errors.Wrapf(common.ErrTransactionAborted, "%s: lock wait on %s timed out", tid, pageId)
		}
		retry.Stop()
	}
}

func (bp *BufferPool) fileLocked(tableId int32) (DbFile, error) {
	file, ok := bp.files[tableId]
	if !ok {
		return nil, errors.Wrapf(common.ErrNoSuchTable, "table id %d", tableId)
	}
	return file, nil
}

func (bp *BufferPool) flushPageLocked(pageId common.PageId) error {
	page, ok := bp.pages[pageId]
	if !ok {
		return nil
	}
	if _, dirty := page.IsDirty(); !dirty {
		return nil
	}
	file, err := bp.fileLocked(pageId.TableId)
	if err != nil {
		return err
	}
	if err := file.WritePage(page); err != nil {
		log.WithError(err).Errorf("Cannot flush %s.", pageId)
		return err
	}
	page.MarkClean()
	page.SetBeforeImage()
	return nil
}

// evictPage removes one clean page. Dirty pages belong to running
// transactions and are never candidates.
func (bp *BufferPool) evictPage() error {
	candidates := make([]common.PageId, 0, len(bp.pages))
	for pid, page := range bp.pages {
		if _, dirty := page.IsDirty(); !dirty {
			candidates = append(candidates, pid)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].TableId != candidates[j].TableId {
			return candidates[i].TableId < candidates[j].TableId
		}
		return candidates[i].PageNumber < candidates[j].PageNumber
	})
	victim, ok := bp.replacer.Victim(candidates)
	if !ok {
		log.Warnf("Buffer pool is full, all %d pages are dirty.", len(bp.pages))
		return errors.Wrapf(common.ErrBufferPoolFull, "all %d resident pages are dirty", len(bp.pages))
	}
	if err := bp.flushPageLocked(victim); err != nil {
		return err
	}
	delete(bp.pages, victim)
	bp.replacer.Remove(victim)
	log.WithField("page", victim).Debug("Evicted page.")
	return nil
}
