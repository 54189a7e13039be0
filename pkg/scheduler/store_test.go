package scheduler

import (
	"testing"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStores(t *testing.T) {
	stores := map[string]func(t *testing.T) JobStore{
		"memory": func(t *testing.T) JobStore {
			return NewMemoryStore()
		},
		"badger": func(t *testing.T) JobStore {
			store, err := NewBadgerStore("", &logger.EmptyLogger{})
			require.NoError(t, err)
			return store
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()

			base := time.Now().Truncate(time.Millisecond)
			require.NoError(t, store.Save(models.Job{OrderID: "second", Attempt: 1, MaxAttempts: 3, EnqueuedAt: base.Add(time.Second)}))
			require.NoError(t, store.Save(models.Job{OrderID: "first", Attempt: 1, MaxAttempts: 3, EnqueuedAt: base}))

			// overwrite with a retried version
			require.NoError(t, store.Save(models.Job{OrderID: "first", Attempt: 2, MaxAttempts: 3, EnqueuedAt: base, LastError: "timeout"}))

			jobs, err := store.Load()
			require.NoError(t, err)
			require.Len(t, jobs, 2)
			assert.Equal(t, "first", jobs[0].OrderID)
			assert.Equal(t, 2, jobs[0].Attempt)
			assert.Equal(t, "timeout", jobs[0].LastError)
			assert.Equal(t, "second", jobs[1].OrderID)

			require.NoError(t, store.Delete("first"))
			require.NoError(t, store.Delete("missing"))

			jobs, err = store.Load()
			require.NoError(t, err)
			require.Len(t, jobs, 1)
			assert.Equal(t, "second", jobs[0].OrderID)
		})
	}
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewBadgerStore(dir, &logger.EmptyLogger{})
	require.NoError(t, err)
	require.NoError(t, store.Save(models.Job{OrderID: "order-1", Attempt: 2, MaxAttempts: 3, EnqueuedAt: time.Now()}))
	require.NoError(t, store.Close())

	reopened, err := NewBadgerStore(dir, &logger.EmptyLogger{})
	require.NoError(t, err)
	defer reopened.Close()

	jobs, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "order-1", jobs[0].OrderID)
	assert.Equal(t, 2, jobs[0].Attempt)
}
