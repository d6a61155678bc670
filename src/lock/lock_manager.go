package lock

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"simple-db-2pl/src/common"
)

type pageSet map[common.PageId]struct{}

type txnSet map[common.TransactionId]struct{}

// LockManager keeps page-level shared/exclusive locks for strict two-phase
// locking. A page has at most one exclusive holder, and never an exclusive
// holder together with a shared holder from another transaction.
//
// Every exported method runs as one critical section under mu.
type LockManager struct {
	exclusive    map[common.PageId]common.TransactionId
	shared       map[common.PageId]txnSet
	txnExclusive map[common.TransactionId]pageSet
	txnShared    map[common.TransactionId]pageSet

	// changed is closed and replaced whenever a lock is released, waking
	// every caller parked on Changed().
	changed chan struct{}
	mu      sync.Mutex
}

func NewLockManager() *LockManager {
	return &LockManager{
		exclusive:    make(map[common.PageId]common.TransactionId),
		shared:       make(map[common.PageId]txnSet),
		txnExclusive: make(map[common.TransactionId]pageSet),
		txnShared:    make(map[common.TransactionId]pageSet),
		changed:      make(chan struct{}),
	}
}

// TryAcquire grants the lock if it is compatible with the current holders and
// reports whether it did. It never blocks and has no effect when it fails.
func (lm *LockManager) TryAcquire(tid common.TransactionId, pid common.PageId, perm common.Permissions) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	owner, locked := lm.exclusive[pid]
	if locked {
		// The exclusive holder may re-enter in either mode.
		return owner == tid
	}
	sharers := lm.shared[pid]
	if perm == common.ReadOnly {
		lm.addShared(tid, pid)
		return true
	}

	switch {
	case len(sharers) == 0:
	case len(sharers) == 1:
		if _, ok := sharers[tid]; !ok {
			return false
		}
		// Upgrade: the sole sharer becomes the exclusive holder.
		lm.removeShared(tid, pid)
	default:
		return false
	}
	lm.addExclusive(tid, pid)
	return true
}

// Release drops whatever lock tid holds on pid. Releasing before the end of a
// transaction breaks two-phase locking, so only code that knows the page was
// not read or written for the transaction (e.g. a probe for free space) may
// call it.
func (lm *LockManager) Release(tid common.TransactionId, pid common.PageId) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	released := false
	if pages, ok := lm.txnShared[tid]; ok {
		if _, ok := pages[pid]; ok {
			lm.removeShared(tid, pid)
			released = true
		}
	}
	if pages, ok := lm.txnExclusive[tid]; ok {
		if _, ok := pages[pid]; ok {
			lm.removeExclusive(tid, pid)
			released = true
		}
	}
	if released {
		lm.notify()
	}
}

// ReleaseAll drops every lock held by tid. Called once, at commit or abort.
func (lm *LockManager) ReleaseAll(tid common.TransactionId) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	n := 0
	for pid := range lm.txnShared[tid] {
		if sharers := lm.shared[pid]; sharers != nil {
			delete(sharers, tid)
			if len(sharers) == 0 {
				delete(lm.shared, pid)
			}
		}
		n++
	}
	delete(lm.txnShared, tid)

	for pid := range lm.txnExclusive[tid] {
		if lm.exclusive[pid] == tid {
			delete(lm.exclusive, pid)
		}
		n++
	}
	delete(lm.txnExclusive, tid)

	if n > 0 {
		log.WithFields(log.Fields{"txn": tid, "locks": n}).Debug("Released all locks.")
		lm.notify()
	}
}

// Holds reports whether tid holds any lock on pid.
func (lm *LockManager) Holds(tid common.TransactionId, pid common.PageId) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, ok := lm.txnExclusive[tid][pid]; ok {
		return true
	}
	_, ok := lm.txnShared[tid][pid]
	return ok
}

func (lm *LockManager) HoldsExclusive(tid common.TransactionId, pid common.PageId) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	owner, ok := lm.exclusive[pid]
	return ok && owner == tid
}

// Sharers returns the transactions holding pid in shared mode.
func (lm *LockManager) Sharers(pid common.PageId) []common.TransactionId {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ret := make([]common.TransactionId, 0, len(lm.shared[pid]))
	for tid := range lm.shared[pid] {
		ret = append(ret, tid)
	}
	return ret
}

// PagesHeld returns every page tid holds a lock on, in either mode.
func (lm *LockManager) PagesHeld(tid common.TransactionId) []common.PageId {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	ret := make([]common.PageId, 0, len(lm.txnShared[tid])+len(lm.txnExclusive[tid]))
	for pid := range lm.txnShared[tid] {
		ret = append(ret, pid)
	}
	for pid := range lm.txnExclusive[tid] {
		ret = append(ret, pid)
	}
	return ret
}

// Changed returns a channel that is closed the next time any lock is
// released. Waiters must call TryAcquire again after it fires; there is no
// hand-off and no ordering between waiters.
func (lm *LockManager) Changed() <-chan struct{} {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.changed
}

func (lm *LockManager) notify() {
	close(lm.changed)
	lm.changed = make(chan struct{})
}

func (lm *LockManager) addShared(tid common.TransactionId, pid common.PageId) {
	sharers, ok := lm.shared[pid]
	if !ok {
		sharers = make(txnSet)
		lm.shared[pid] = sharers
	}
	sharers[tid] = struct{}{}

	pages, ok := lm.txnShared[tid]
	if !ok {
		pages = make(pageSet)
		lm.txnShared[tid] = pages
	}
	pages[pid] = struct{}{}
}

func (lm *LockManager) removeShared(tid common.TransactionId, pid common.PageId) {
	if sharers, ok := lm.shared[pid]; ok {
		delete(sharers, tid)
		if len(sharers) == 0 {
			delete(lm.shared, pid)
		}
	}
	if pages, ok := lm.txnShared[tid]; ok {
		delete(pages, pid)
		if len(pages) == 0 {
			delete(lm.txnShared, tid)
		}
	}
}

func (lm *LockManager) addExclusive(tid common.TransactionId, pid common.PageId) {
	lm.exclusive[pid] = tid
	pages, ok := lm.txnExclusive[tid]
	if !ok {
		pages = make(pageSet)
		lm.txnExclusive[tid] = pages
	}
	pages[pid] = struct{}{}
}

func (lm *LockManager) removeExclusive(tid common.TransactionId, pid common.PageId) {
	delete(lm.exclusive, pid)
	if pages, ok := lm.txnExclusive[tid]; ok {
		delete(pages, pid)
		if len(pages) == 0 {
			delete(lm.txnExclusive, tid)
		}
	}
}
