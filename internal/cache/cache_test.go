package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthtrack/syncd/internal/document"
	"healthtrack/syncd/internal/storage"
)

func TestStoreThenGet(t *testing.T) {
	synced := time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC)
	c := New(storage.NewMemoryStore()).WithClock(func() time.Time { return synced })
	loggedAt := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	records := []document.Doc{
		{"id": "s-1", "type": "headache", "severity": int64(3), "loggedAt": loggedAt},
		{"id": "s-2", "type": "nausea", "severity": int64(1)},
	}

	require.NoError(t, c.Store(testContext(t), "symptoms", records))

	got, err := c.Get(testContext(t), "symptoms")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s-1", got[0]["id"])
	assert.Equal(t, int64(3), got[0]["severity"])
	at, ok := got[0]["loggedAt"].(time.Time)
	require.True(t, ok)
	assert.True(t, at.Equal(loggedAt))
	assert.Equal(t, "nausea", got[1]["type"])

	snapshot, err := c.Snapshot(testContext(t), "symptoms")
	require.NoError(t, err)
	assert.True(t, snapshot.LastSyncedAt.Equal(synced))
}

func TestGetNeverPopulated(t *testing.T) {
	c := New(storage.NewMemoryStore())
	got, err := c.Get(testContext(t), "vitals")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStoreOverwrites(t *testing.T) {
	c := New(storage.NewMemoryStore())
	require.NoError(t, c.Store(testContext(t), "vitals", []document.Doc{{"id": "v-1"}, {"id": "v-2"}}))
	require.NoError(t, c.Store(testContext(t), "vitals", []document.Doc{{"id": "v-3"}}))
	got, err := c.Get(testContext(t), "vitals")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v-3", got[0]["id"])
}

func TestCollectionsAreIndependent(t *testing.T) {
	c := New(storage.NewMemoryStore())
	require.NoError(t, c.Store(testContext(t), "vitals", []document.Doc{{"id": "v-1"}}))
	got, err := c.Get(testContext(t), "periods")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdateAndClear(t *testing.T) {
	c := New(storage.NewMemoryStore())
	require.NoError(t, c.Update(testContext(t), "symptoms", func(records []document.Doc) []document.Doc {
		return append(records, document.Doc{"id": "offline_1"})
	}))
	got, err := c.Get(testContext(t), "symptoms")
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, c.Clear(testContext(t), "symptoms"))
	got, err = c.Get(testContext(t), "symptoms")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCorruptSnapshotReadsAsEmpty(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Set(testContext(t), "cache:symptoms", "]["))
	got, err := New(store).Get(testContext(t), "symptoms")
	require.NoError(t, err)
	assert.Empty(t, got)
}
