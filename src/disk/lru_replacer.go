package disk

import (
	"container/list"
	"sync"

	"simple-db-2pl/src/common"
)

// LRUReplacer evicts the least recently fetched candidate.
type LRUReplacer struct {
	dataList list.List
	index    map[common.PageId]*list.Element
	mu       sync.Mutex
}

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		index: make(map[common.PageId]*list.Element),
	}
}

func (lru *LRUReplacer) Victim(candidates []common.PageId) (common.PageId, bool) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if len(candidates) == 0 {
		return common.PageId{}, false
	}
	allowed := make(map[common.PageId]struct{}, len(candidates))
	for _, pid := range candidates {
		allowed[pid] = struct{}{}
	}
	for elem := lru.dataList.Back(); elem != nil; elem = elem.Prev() {
		pid := elem.Value.(common.PageId)
		if _, ok := allowed[pid]; ok {
			return pid, true
		}
	}
	// Never accessed, so older than anything tracked.
	return candidates[0], true
}

func (lru *LRUReplacer) Access(pageId common.PageId) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, ok := lru.index[pageId]; ok {
		lru.dataList.MoveToFront(elem)
		return
	}
	lru.index[pageId] = lru.dataList.PushFront(pageId)
}

func (lru *LRUReplacer) Remove(pageId common.PageId) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	if elem, ok := lru.index[pageId]; ok {
		lru.dataList.Remove(elem)
		delete(lru.index, pageId)
	}
}

func (lru *LRUReplacer) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return len(lru.index)
}
