package common

import "fmt"

type RID struct {
	PageId  PageId
	SlotNum int
}

func (rid *RID) String() string {
	return fmt.Sprintf("[%s, slot num %d]", rid.PageId, rid.SlotNum)
}
