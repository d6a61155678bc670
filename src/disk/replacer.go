package disk

import "simple-db-2pl/src/common"

// Replacer chooses which resident page to evict. The buffer pool only ever
// offers clean pages as candidates.
type Replacer interface {
	// Victim picks one of candidates, or returns false if there are none.
	Victim(candidates []common.PageId) (common.PageId, bool)
	// Access records that a page was fetched.
	Access(pageId common.PageId)
	// Remove forgets a page that left the pool.
	Remove(pageId common.PageId)
}
