package disk

import (
	"math/rand"
	"sync"
	"time"

	"simple-db-2pl/src/common"
)

// RandomReplacer picks uniformly among the candidates and keeps no history.
type RandomReplacer struct {
	rnd *rand.Rand
	mu  sync.Mutex
}

func NewRandomReplacer() *RandomReplacer {
	return NewRandomReplacerWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewRandomReplacerWithSource lets tests fix the sequence of victims.
func NewRandomReplacerWithSource(src rand.Source) *RandomReplacer {
	return &RandomReplacer{rnd: rand.New(src)}
}

func (r *RandomReplacer) Victim(candidates []common.PageId) (common.PageId, bool) {
	if len(candidates) == 0 {
		return common.PageId{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return candidates[r.rnd.Intn(len(candidates))], true
}

func (r *RandomReplacer) Access(common.PageId) {}

func (r *RandomReplacer) Remove(common.PageId) {}
