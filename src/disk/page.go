package disk

import (
	"github.com/ncw/directio"

	"simple-db-2pl/src/common"
)

// Page is one cached page. Besides its bytes it remembers which transaction
// dirtied it and the last content known to be on disk (the before image),
// which abort copies back over the data.
type Page struct {
	data        []byte
	pageId      common.PageId
	dirtier     common.TransactionId
	beforeImage []byte
}

// NewPage wraps data, which the page takes ownership of. The before image is
// a copy of data, so a freshly read page is its own durable state.
func NewPage(pageId common.PageId, data []byte) *Page {
	p := &Page{
		data:        data,
		pageId:      pageId,
		beforeImage: directio.AlignedBlock(len(data)),
	}
	copy(p.beforeImage, data)
	return p
}

func (p *Page) Data() []byte { return p.data }

func (p *Page) PageId() common.PageId { return p.pageId }

// IsDirty returns the transaction that dirtied the page, and false if the
// page is clean.
func (p *Page) IsDirty() (common.TransactionId, bool) {
	return p.dirtier, p.dirtier != common.InvalidTransactionId
}

func (p *Page) MarkDirty(tid common.TransactionId) { p.dirtier = tid }

func (p *Page) MarkClean() { p.dirtier = common.InvalidTransactionId }

// BeforeImage returns a copy of the last durable content of the page.
func (p *Page) BeforeImage() []byte {
	ret := make([]byte, len(p.beforeImage))
	copy(ret, p.beforeImage)
	return ret
}

// SetBeforeImage records the current content as durable.
func (p *Page) SetBeforeImage() {
	copy(p.beforeImage, p.data)
}

func (p *Page) restoreBeforeImage() {
	copy(p.data, p.beforeImage)
	p.dirtier = common.InvalidTransactionId
}
