package vectorindex

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxOutboxAttempts(t *testing.T) {
	assert.Equal(t, 10, maxOutboxAttempts)
}

func TestPartitionUpsertEntries(t *testing.T) {
	idReady1 := uuid.New()
	idMissing := uuid.New()
	idReady2 := uuid.New()

	entries := []outboxEntry{
		{ID: 1, DocumentID: idReady1, Operation: "upsert"},
		{ID: 2, DocumentID: idMissing, Operation: "upsert"},
		{ID: 3, DocumentID: idReady2, Operation: "upsert"},
	}
	docs := []documentForIndex{
		{ID: idReady1, TopicID: uuid.New(), Slug: "a", Status: "published", Embedding: []float32{0.1}},
		{ID: idReady2, TopicID: uuid.New(), Slug: "b", Status: "published", Embedding: []float32{0.2}},
	}

	readyEntries, readyDocs, pendingEntries := partitionUpsertEntries(entries, docs)

	assert.Len(t, readyEntries, 2)
	assert.Len(t, readyDocs, 2)
	assert.Len(t, pendingEntries, 1)

	assert.Equal(t, idReady1, readyEntries[0].DocumentID)
	assert.Equal(t, idReady2, readyEntries[1].DocumentID)
	assert.Equal(t, idReady1, readyDocs[0].ID)
	assert.Equal(t, idReady2, readyDocs[1].ID)
	assert.Equal(t, idMissing, pendingEntries[0].DocumentID)
}

func TestPartitionUpsertEntries_AllMissing(t *testing.T) {
	idA, idB, idC := uuid.New(), uuid.New(), uuid.New()

	entries := []outboxEntry{
		{ID: 1, DocumentID: idA, Operation: "upsert"},
		{ID: 2, DocumentID: idB, Operation: "upsert"},
		{ID: 3, DocumentID: idC, Operation: "upsert"},
	}
	unrelated := uuid.New()
	docs := []documentForIndex{
		{ID: unrelated, TopicID: uuid.New(), Slug: "x", Status: "published", Embedding: []float32{0.5}},
	}

	readyEntries, readyDocs, pendingEntries := partitionUpsertEntries(entries, docs)

	assert.Empty(t, readyEntries)
	assert.Empty(t, readyDocs)
	require.Len(t, pendingEntries, 3)
	assert.Equal(t, idA, pendingEntries[0].DocumentID)
	assert.Equal(t, idB, pendingEntries[1].DocumentID)
	assert.Equal(t, idC, pendingEntries[2].DocumentID)
}

func TestPartitionUpsertEntries_AllReady(t *testing.T) {
	id1, id2, id3 := uuid.New(), uuid.New(), uuid.New()

	entries := []outboxEntry{
		{ID: 10, DocumentID: id1, Operation: "upsert"},
		{ID: 11, DocumentID: id2, Operation: "upsert"},
		{ID: 12, DocumentID: id3, Operation: "upsert"},
	}
	docs := []documentForIndex{
		{ID: id1, TopicID: uuid.New(), Embedding: []float32{0.1}},
		{ID: id2, TopicID: uuid.New(), Embedding: []float32{0.2}},
		{ID: id3, TopicID: uuid.New(), Embedding: []float32{0.3}},
	}

	readyEntries, readyDocs, pendingEntries := partitionUpsertEntries(entries, docs)

	assert.Len(t, readyEntries, 3)
	assert.Len(t, readyDocs, 3)
	assert.Empty(t, pendingEntries)
}

func TestPartitionUpsertEntries_EmptyInputs(t *testing.T) {
	readyEntries, readyDocs, pendingEntries := partitionUpsertEntries(nil, nil)
	assert.Empty(t, readyEntries)
	assert.Empty(t, readyDocs)
	assert.Empty(t, pendingEntries)
}

func TestNewOutboxWorker_Defaults(t *testing.T) {
	w := NewOutboxWorker(nil, nil, nil, 0, 0)
	require.NotNil(t, w)
	assert.NotNil(t, w.done)
	assert.NotNil(t, w.drainCh)
}
