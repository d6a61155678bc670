package db

import (
	"github.com/pkg/errors"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/disk"
	"simple-db-2pl/src/table"
	"simple-db-2pl/src/tuple"
)

var ErrTransactionDone = errors.New("transaction already finished")

// Transaction is a handle for one transaction id. It is not safe for use by
// several goroutines at once.
type Transaction struct {
	id   common.TransactionId
	bp   *disk.BufferPool
	done bool
}

func (tx *Transaction) ID() common.TransactionId { return tx.id }

func (tx *Transaction) Insert(hf *table.HeapFile, t *tuple.Tuple) error {
	if tx.done {
		return ErrTransactionDone
	}
	return tx.check(tx.bp.InsertTuple(tx.id, hf.ID(), t))
}

func (tx *Transaction) Delete(t *tuple.Tuple) error {
	if tx.done {
		return ErrTransactionDone
	}
	return tx.check(tx.bp.DeleteTuple(tx.id, t))
}

// Scan calls fn for every tuple of hf until fn returns false.
func (tx *Transaction) Scan(hf *table.HeapFile, fn func(*tuple.Tuple) bool) error {
	if tx.done {
		return ErrTransactionDone
	}
	it := hf.Iterator(tx.id)
	if err := it.Open(); err != nil {
		return err
	}
	defer it.Close()
	for {
		ok, err := it.HasNext()
		if err != nil {
			return tx.check(err)
		}
		if !ok {
			return nil
		}
		t, err := it.Next()
		if err != nil {
			return tx.check(err)
		}
		if !fn(t) {
			return nil
		}
	}
}

func (tx *Transaction) Commit() error {
	if tx.done {
		return ErrTransactionDone
	}
	tx.done = true
	return tx.bp.Commit(tx.id)
}

func (tx *Transaction) Abort() error {
	if tx.done {
		return ErrTransactionDone
	}
	tx.done = true
	return tx.bp.Abort(tx.id)
}

// check notes that the pool already rolled the transaction back.
func (tx *Transaction) check(err error) error {
	if errors.Is(err, common.ErrTransactionAborted) {
		tx.done = true
	}
	return err
}
