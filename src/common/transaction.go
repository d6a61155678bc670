package common

import (
	"strconv"
	"sync/atomic"
)

// TransactionId names a transaction. Zero is never handed out and means
// "no transaction", e.g. for a clean page.
type TransactionId int64

const InvalidTransactionId TransactionId = 0

var nextTransactionId int64

func NewTransactionId() TransactionId {
	return TransactionId(atomic.AddInt64(&nextTransactionId, 1))
}

func (tid TransactionId) String() string {
	return "txn-" + strconv.FormatInt(int64(tid), 10)
}

type Permissions int

const (
	ReadOnly Permissions = iota
	ReadWrite
)

func (p Permissions) String() string {
	if p == ReadWrite {
		return "READ_WRITE"
	}
	return "READ_ONLY"
}
