package common

import "sync/atomic"

const (
	DefaultPageSize = 4096
	// DefaultPoolPages is the buffer pool capacity used when none is configured.
	DefaultPoolPages = 50
)

var pageSize int32 = DefaultPageSize

// PageSize returns the number of bytes in every page, bitmap header included.
func PageSize() int {
	return int(atomic.LoadInt32(&pageSize))
}

// SetPageSize changes the page size for the whole process. Only tests should
// call it, and they must call ResetPageSize afterwards.
func SetPageSize(size int) {
	atomic.StoreInt32(&pageSize, int32(size))
}

func ResetPageSize() {
	atomic.StoreInt32(&pageSize, DefaultPageSize)
}
