package common

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPageId_MapKey(t *testing.T) {
	m := make(map[PageId]int)
	m[NewPageId(7, 3)] = 1
	m[PageId{TableId: 7, PageNumber: 3}] = 2
	m[NewPageId(7, 4)] = 3

	require.Equal(t, 2, len(m))
	require.Equal(t, 2, m[NewPageId(7, 3)])
	require.NotEqual(t, NewPageId(7, 3), NewPageId(8, 3))
}

func TestRID_String(t *testing.T) {
	rid := RID{PageId: NewPageId(1, 2), SlotNum: 5}
	require.Equal(t, "[page 2 of table 1, slot num 5]", rid.String())
}

func TestNewTransactionId(t *testing.T) {
	a := NewTransactionId()
	b := NewTransactionId()
	require.NotEqual(t, InvalidTransactionId, a)
	require.True(t, b > a)
}

func TestSetPageSize(t *testing.T) {
	require.Equal(t, DefaultPageSize, PageSize())
	SetPageSize(1024)
	require.Equal(t, 1024, PageSize())
	ResetPageSize()
	require.Equal(t, DefaultPageSize, PageSize())
}

func TestStorageIOError(t *testing.T) {
	err := errors.Wrap(NewStorageIOError("read", NewPageId(1, 9), io.ErrUnexpectedEOF), "fetch")

	var ioErr *StorageIOError
	require.True(t, errors.As(err, &ioErr))
	require.Equal(t, int32(9), ioErr.Page.PageNumber)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}
