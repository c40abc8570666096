package settings

import (
	"sync"
	"testing"

	"github.com/castkit/mediacache/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SnapshotAndUpdate(t *testing.T) {
	store := NewMemory(policy.UserDataPolicy{AutomaticDownloads: true})

	assert.True(t, store.Snapshot().AutomaticDownloads)

	require.NoError(t, store.Update(policy.UserDataPolicy{AllowCellularStreaming: true}))

	snapshot := store.Snapshot()
	assert.True(t, snapshot.AllowCellularStreaming)
	assert.False(t, snapshot.AutomaticDownloads)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	store := NewMemory(policy.UserDataPolicy{})

	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()

			_ = store.Update(policy.UserDataPolicy{AutomaticDownloads: true})
		}()

		go func() {
			defer wg.Done()

			_ = store.Snapshot()
		}()
	}

	wg.Wait()
	assert.True(t, store.Snapshot().AutomaticDownloads)
}
