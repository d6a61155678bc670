package table

import (
	"github.com/ncw/directio"
	"github.com/pkg/errors"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/disk"
	"simple-db-2pl/src/tuple"
)

// HeapPage interprets the bytes of a disk.Page as a slotted page:
//
//	[ bitmap: ceil(numSlots/8) bytes ][ slot 0 ][ slot 1 ] ... [ padding ]
//
// Bit i of the bitmap is bit i%8 of byte i/8; 1 means slot i holds a tuple.
// Every slot is desc.Size() bytes wide.
type HeapPage struct {
	page *disk.Page
	desc *tuple.Desc
}

func NewHeapPage(page *disk.Page, desc *tuple.Desc) *HeapPage {
	return &HeapPage{page: page, desc: desc}
}

// NumSlots is the most tuples of width rowSize that fit in a page together
// with one header bit each.
func NumSlots(rowSize int) int {
	return (common.PageSize() * 8) / (rowSize*8 + 1)
}

func HeaderSize(rowSize int) int {
	return (NumSlots(rowSize) + 7) / 8
}

// EmptyPageData is a page with no occupied slots.
func EmptyPageData() []byte {
	return directio.AlignedBlock(common.PageSize())
}

func (hp *HeapPage) Page() *disk.Page { return hp.page }

func (hp *HeapPage) PageId() common.PageId { return hp.page.PageId() }

func (hp *HeapPage) NumSlots() int { return NumSlots(hp.desc.Size()) }

func (hp *HeapPage) IsSlotUsed(i int) bool {
	if i < 0 || i >= hp.NumSlots() {
		return false
	}
	return hp.page.Data()[i/8]&(1<<uint(i%8)) != 0
}

func (hp *HeapPage) markSlotUsed(i int, used bool) {
	data := hp.page.Data()
	if used {
		data[i/8] |= 1 << uint(i%8)
	} else {
		data[i/8] &^= 1 << uint(i%8)
	}
}

func (hp *HeapPage) NumEmptySlots() int {
	n := 0
	for i := 0; i < hp.NumSlots(); i++ {
		if !hp.IsSlotUsed(i) {
			n++
		}
	}
	return n
}

func (hp *HeapPage) slot(i int) []byte {
	size := hp.desc.Size()
	start := HeaderSize(size) + i*size
	return hp.page.Data()[start : start+size]
}

// InsertTuple stores t in the lowest free slot and sets its record id.
func (hp *HeapPage) InsertTuple(t *tuple.Tuple) (common.RID, error) {
	if !t.Desc().Equals(hp.desc) {
		return common.RID{}, errors.WithStack(common.ErrSchemaMismatch)
	}
	for i := 0; i < hp.NumSlots(); i++ {
		if hp.IsSlotUsed(i) {
			continue
		}
		copy(hp.slot(i), t.Bytes())
		hp.markSlotUsed(i, true)
		rid := common.RID{PageId: hp.PageId(), SlotNum: i}
		t.SetRecordId(&rid)
		return rid, nil
	}
	return common.RID{}, errors.Errorf("%s has no empty slot", hp.PageId())
}

// DeleteTuple clears the slot named by t's record id. The slot bytes stay as
// they are; the slot is free because its bit is clear. t keeps its record id
// so the delete can be repeated if the transaction aborts.
func (hp *HeapPage) DeleteTuple(t *tuple.Tuple) error {
	rid := t.RecordId()
	if rid == nil {
		return errors.New("tuple has no record id")
	}
	if rid.PageId != hp.PageId() {
		return errors.Errorf("tuple %s is not on %s", rid, hp.PageId())
	}
	if !hp.IsSlotUsed(rid.SlotNum) {
		return errors.Errorf("slot %d of %s is already empty", rid.SlotNum, hp.PageId())
	}
	hp.markSlotUsed(rid.SlotNum, false)
	return nil
}

// Tuple returns a copy of the tuple in slot i, or nil if the slot is empty.
func (hp *HeapPage) Tuple(i int) *tuple.Tuple {
	if !hp.IsSlotUsed(i) {
		return nil
	}
	t, _ := tuple.FromBytes(hp.desc, hp.slot(i))
	rid := common.RID{PageId: hp.PageId(), SlotNum: i}
	t.SetRecordId(&rid)
	return t
}

// Tuples returns copies of all stored tuples in slot order.
func (hp *HeapPage) Tuples() []*tuple.Tuple {
	ret := make([]*tuple.Tuple, 0)
	for i := 0; i < hp.NumSlots(); i++ {
		if t := hp.Tuple(i); t != nil {
			ret = append(ret, t)
		}
	}
	return ret
}
