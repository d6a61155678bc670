package disk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"simple-db-2pl/src/common"
)

func TestPage_DirtyTracking(t *testing.T) {
	page := NewPage(common.NewPageId(1, 0), make([]byte, common.PageSize()))
	_, dirty := page.IsDirty()
	require.False(t, dirty)

	tid := common.NewTransactionId()
	page.MarkDirty(tid)
	dirtier, dirty := page.IsDirty()
	require.True(t, dirty)
	require.Equal(t, tid, dirtier)

	page.MarkClean()
	dirtier, dirty = page.IsDirty()
	require.False(t, dirty)
	require.Equal(t, common.InvalidTransactionId, dirtier)
}

func TestPage_BeforeImage(t *testing.T) {
	data := make([]byte, common.PageSize())
	data[0] = 1
	page := NewPage(common.NewPageId(1, 0), data)
	require.Equal(t, data, page.BeforeImage())

	page.MarkDirty(common.NewTransactionId())
	page.Data()[0] = 2
	page.Data()[100] = 3
	require.Equal(t, byte(1), page.BeforeImage()[0])

	// The copy handed out does not alias the snapshot.
	image := page.BeforeImage()
	image[0] = 9
	require.Equal(t, byte(1), page.BeforeImage()[0])

	page.restoreBeforeImage()
	require.Equal(t, byte(1), page.Data()[0])
	require.Equal(t, byte(0), page.Data()[100])
	_, dirty := page.IsDirty()
	require.False(t, dirty)

	page.Data()[5] = 7
	page.SetBeforeImage()
	require.Equal(t, byte(7), page.BeforeImage()[5])
}
