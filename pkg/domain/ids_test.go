package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDeterministicIDSeparatorPreventsCollisions(t *testing.T) {
	assert.NotEqual(t, DeterministicID("ab", "c"), DeterministicID("a", "bc"))
	assert.Equal(t, DeterministicID("a", "b"), DeterministicID("a", "b"))
}

func TestDataIDIsTenantScoped(t *testing.T) {
	hash := ContentHash([]byte("same bytes"))
	t1, t2 := uuid.New(), uuid.New()
	assert.NotEqual(t, DataID(t1, hash), DataID(t2, hash))
	assert.Equal(t, DataID(t1, hash), DataID(t1, hash))
}

func TestChunkIDChangesWithPositionAndText(t *testing.T) {
	dataID := uuid.New()
	assert.NotEqual(t, ChunkID(dataID, 0, "text"), ChunkID(dataID, 1, "text"))
	assert.NotEqual(t, ChunkID(dataID, 0, "text"), ChunkID(dataID, 0, "other"))
}

func TestEntityIDSeparatesTypes(t *testing.T) {
	tid := uuid.New()
	assert.NotEqual(t, EntityID(tid, "mercury", "Product"), EntityID(tid, "mercury", "Location"))
}

func TestCollectionName(t *testing.T) {
	tid := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	did := uuid.MustParse("66666666-7777-8888-9999-aaaaaaaaaaaa")

	name := CollectionName(tid, did, "DocumentChunk", "text")
	assert.Equal(t, "111111112222_666666667777_documentchunk_text", name)

	long := CollectionName(tid, did, strings.Repeat("VeryLongNodeType", 10), "field")
	assert.LessOrEqual(t, len(long), 63)

	odd := CollectionName(tid, did, "My Type!", "field")
	assert.NotContains(t, odd, " ")
	assert.NotContains(t, odd, "!")
}

func TestContentHashIsStable(t *testing.T) {
	assert.Equal(t, ContentHash([]byte("abc")), ContentHash([]byte("abc")))
	assert.Len(t, ContentHash([]byte("abc")), 64)
}
