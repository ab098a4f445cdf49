package remote

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"healthtrack/syncd/internal/document"
)

func TestPermanentClassification(t *testing.T) {
	base := errors.New("malformed")
	wrapped := fmt.Errorf("apply: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))
	assert.True(t, errors.Is(wrapped, base))
	assert.False(t, IsPermanent(base))
	assert.Nil(t, Permanent(nil))
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	id, err := store.Create(testContext(t), "medications", document.Doc{"name": "aspirin", "startedAt": at})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, store.Update(testContext(t), "medications", id, document.Doc{"isActive": false}))
	got, err := store.Get(testContext(t), "medications", id)
	require.NoError(t, err)
	assert.Equal(t, "aspirin", got["name"])
	assert.Equal(t, false, got["isActive"])
	assert.Equal(t, id, got["id"])
	assert.IsType(t, time.Time{}, got["startedAt"])

	docs, err := store.List(testContext(t), "medications")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.NoError(t, store.Delete(testContext(t), "medications", id))
	assert.ErrorIs(t, store.Delete(testContext(t), "medications", id), ErrNotFound)
	err = store.Update(testContext(t), "medications", id, document.Doc{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsPermanent(err), "retrying an update of a missing record cannot succeed")
}

func TestMemoryStoreListOrderAndDuplicates(t *testing.T) {
	store := NewMemoryStore()
	for _, id := range []string{"c", "a", "b"} {
		_, err := store.Create(testContext(t), "vitals", document.Doc{"id": id})
		require.NoError(t, err)
	}
	docs, err := store.List(testContext(t), "vitals")
	require.NoError(t, err)
	var ids []string
	for _, doc := range docs {
		ids = append(ids, doc["id"].(string))
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	_, err = store.Create(testContext(t), "vitals", document.Doc{"id": "a"})
	assert.True(t, IsPermanent(err))
}

func TestMongoNativeConversion(t *testing.T) {
	at := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	native := toNative(document.Doc{"loggedAt": at, "nested": map[string]any{"at": at}, "n": 1})
	assert.Equal(t, primitive.NewDateTimeFromTime(at), native["loggedAt"])
	assert.Equal(t, primitive.NewDateTimeFromTime(at), native["nested"].(map[string]any)["at"])

	oid := primitive.NewObjectID()
	doc := fromNative(bson.M{
		"_id":      oid,
		"loggedAt": primitive.NewDateTimeFromTime(at),
		"severity": int32(4),
		"tags":     bson.A{"a", primitive.NewDateTimeFromTime(at)},
		"meta":     bson.D{{Key: "source", Value: "camera"}},
	})
	assert.Equal(t, oid.Hex(), doc["id"])
	assert.True(t, doc["loggedAt"].(time.Time).Equal(at))
	assert.Equal(t, int64(4), doc["severity"])
	assert.Equal(t, "a", doc["tags"].([]any)[0])
	assert.IsType(t, time.Time{}, doc["tags"].([]any)[1])
	assert.Equal(t, "camera", doc["meta"].(map[string]any)["source"])
}

func TestMongoIDMapping(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid, mongoID(oid.Hex()))
	assert.Equal(t, "custom-id", mongoID("custom-id"))
	assert.Equal(t, oid.Hex(), idString(oid))
	assert.Equal(t, "x", idString("x"))
}
