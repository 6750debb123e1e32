package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/cognify/pkg/domain"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		v, ok := s.vectors[txt]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }

func entity(name, typ string, conf float64) domain.Entity {
	return domain.Entity{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(typ+"/"+name)),
		Name:       name,
		Type:       typ,
		Aliases:    []string{name},
		Confidence: conf,
		Version:    1,
	}
}

func TestResolveExactNormalizedMatch(t *testing.T) {
	a := entity("Dr. Ada Lovelace", "Person", 0.9)
	b := entity("ada lovelace", "Person", 0.7)

	res, err := New(Config{}).Resolve(context.Background(), []domain.Entity{a, b}, nil)
	require.NoError(t, err)

	require.Len(t, res.Entities, 1)
	assert.Equal(t, 1, res.Merged)
	// The higher-confidence entity survives and absorbs the alias.
	got := res.Entities[0]
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Contains(t, got.Aliases, "ada lovelace")
	assert.Equal(t, a.ID, res.AliasOf[b.ID])
}

func TestResolveNeverCrossesTypes(t *testing.T) {
	a := entity("Mercury", "Product", 0.8)
	b := entity("Mercury", "Location", 0.8)

	res, err := New(Config{}).Resolve(context.Background(), []domain.Entity{a, b}, nil)
	require.NoError(t, err)

	assert.Len(t, res.Entities, 2)
	assert.Zero(t, res.Merged)
}

func TestResolveFuzzyMatch(t *testing.T) {
	a := entity("Microsoft Corporation", "Organization", 0.8)
	b := entity("Microsoft Corporaton", "Organization", 0.6) // typo

	res, err := New(Config{}).Resolve(context.Background(), []domain.Entity{a, b}, nil)
	require.NoError(t, err)

	assert.Len(t, res.Entities, 1)
	assert.Equal(t, 1, res.Merged)
}

func TestResolveAliasMatch(t *testing.T) {
	a := entity("International Business Machines", "Organization", 0.8)
	a.Aliases = append(a.Aliases, "IBM")
	b := entity("IBM", "Organization", 0.7)

	res, err := New(Config{}).Resolve(context.Background(), []domain.Entity{a, b}, nil)
	require.NoError(t, err)

	assert.Len(t, res.Entities, 1)
	assert.Equal(t, 1, res.Merged)
}

func TestResolveCJKContainment(t *testing.T) {
	a := entity("阿里巴巴集团", "Organization", 0.8)
	b := entity("阿里巴巴", "Organization", 0.7)

	res, err := New(Config{}).Resolve(context.Background(), []domain.Entity{a, b}, nil)
	require.NoError(t, err)

	assert.Len(t, res.Entities, 1)
}

func TestResolveCJKFamilyPrefix(t *testing.T) {
	// A bare family name merges with the full name; a different family name
	// does not.
	a := entity("张", "Person", 0.6)
	b := entity("张伟", "Person", 0.9)
	c := entity("李伟", "Person", 0.8)

	res, err := New(Config{}).Resolve(context.Background(), []domain.Entity{a, b, c}, nil)
	require.NoError(t, err)

	require.Len(t, res.Entities, 2)
	assert.Equal(t, b.ID, res.AliasOf[a.ID])
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "acme", "acme", 1},
		{"empty", "", "acme", 0},
		{"cjk containment", "阿里巴巴", "阿里巴巴集团", cjkContainment},
		{"cjk family prefix", "张", "张伟", cjkFamilyPrefix},
		{"word containment floor", "big blue", "big blue company", wordContainment},
		{"substring without boundary", "rust", "trust", 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, nameSimilarity(tt.a, tt.b), 0.001)
		})
	}
}

func TestResolveRewritesRelationsAndDropsSelfLoops(t *testing.T) {
	a := entity("Acme Inc.", "Organization", 0.9)
	b := entity("Acme", "Organization", 0.5)
	c := entity("Ada Lovelace", "Person", 0.9)

	rels := []domain.Relation{
		{SourceID: c.ID, TargetID: b.ID, Type: "works_at", Weight: 0.6, Confidence: 0.6},
		{SourceID: c.ID, TargetID: a.ID, Type: "works_at", Weight: 0.9, Confidence: 0.7},
		// Becomes a self-loop once a and b merge.
		{SourceID: b.ID, TargetID: a.ID, Type: "related_to", Weight: 0.5, Confidence: 0.5},
	}

	res, err := New(Config{}).Resolve(context.Background(), []domain.Entity{a, b, c}, rels)
	require.NoError(t, err)

	require.Len(t, res.Relations, 1)
	assert.Equal(t, 1, res.Dropped)
	rel := res.Relations[0]
	assert.Equal(t, c.ID, rel.SourceID)
	assert.Equal(t, a.ID, rel.TargetID)
	// Duplicate keys keep the best weight and confidence.
	assert.Equal(t, 0.9, rel.Weight)
	assert.Equal(t, 0.7, rel.Confidence)
}

func TestResolveEmbeddingRescue(t *testing.T) {
	a := entity("Big Blue", "Organization", 0.8)
	a.Description = "nickname for IBM"
	b := entity("Big Blue Company", "Organization", 0.7)
	b.Description = "IBM"

	same := []float32{1, 0, 0}
	emb := &stubEmbedder{vectors: map[string][]float32{
		"Big Blue: nickname for IBM": same,
		"Big Blue Company: IBM":      same,
	}}

	// Thresholds chosen so fuzzy alone leaves these as near misses.
	res, err := New(Config{FuzzyThreshold: 0.95, Embedder: emb}).
		Resolve(context.Background(), []domain.Entity{a, b}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Entities, 1)
}

func TestResolveEmbeddingFailureIsNonFatal(t *testing.T) {
	a := entity("Big Blue", "Organization", 0.8)
	b := entity("Big Blue Company", "Organization", 0.7)
	emb := &stubEmbedder{err: errors.New("embedder down")}

	res, err := New(Config{FuzzyThreshold: 0.95, Embedder: emb}).
		Resolve(context.Background(), []domain.Entity{a, b}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Entities, 2)
}

func TestResolveIdempotent(t *testing.T) {
	entities := []domain.Entity{
		entity("Dr. Ada Lovelace", "Person", 0.9),
		entity("Ada Lovelace", "Person", 0.8),
		entity("Acme Inc.", "Organization", 0.9),
	}
	rels := []domain.Relation{
		{SourceID: entities[1].ID, TargetID: entities[2].ID, Type: "works_at", Weight: 0.8, Confidence: 0.8},
	}

	r := New(Config{})
	first, err := r.Resolve(context.Background(), entities, rels)
	require.NoError(t, err)
	require.Len(t, first.Entities, 2)

	second, err := r.Resolve(context.Background(), first.Entities, first.Relations)
	require.NoError(t, err)
	assert.Zero(t, second.Merged)
	assert.Zero(t, second.Dropped)
	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, first.Relations, second.Relations)
}

func TestResolveEmptyInput(t *testing.T) {
	res, err := New(Config{}).Resolve(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Entities)
	assert.Empty(t, res.Relations)
}

func TestUnionFind(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	uf := newUnionFind(ids)

	uf.union(ids[0], ids[1])
	uf.union(ids[2], ids[3])
	assert.Equal(t, uf.find(ids[0]), uf.find(ids[1]))
	assert.NotEqual(t, uf.find(ids[0]), uf.find(ids[2]))

	uf.union(ids[1], ids[2])
	assert.Equal(t, uf.find(ids[0]), uf.find(ids[3]))
	assert.Len(t, uf.sets(), 1)
}
