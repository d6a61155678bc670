package common

import "fmt"

// PageId identifies one page of one table. It is a plain value and is used
// directly as the key of the page cache and of the lock table.
type PageId struct {
	TableId    int32
	PageNumber int32
}

func NewPageId(tableId int32, pageNumber int) PageId {
	return PageId{TableId: tableId, PageNumber: int32(pageNumber)}
}

func (pid PageId) String() string {
	return fmt.Sprintf("page %d of table %d", pid.PageNumber, pid.TableId)
}
