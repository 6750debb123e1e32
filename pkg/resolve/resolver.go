package resolve

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
)

const (
	// DefaultFuzzyThreshold merges entities whose normalized names are this
	// similar by edit distance.
	DefaultFuzzyThreshold = 0.85
	// DefaultEmbeddingThreshold merges near-miss pairs whose embeddings are
	// this close by cosine similarity.
	DefaultEmbeddingThreshold = 0.90

	// embeddingCandidateFloor is the fuzzy score below which a pair is not
	// even worth an embedding comparison.
	embeddingCandidateFloor = 0.6

	// blockingLimit switches fuzzy matching from full pairwise comparison to
	// prefix-blocked comparison for large type buckets.
	blockingLimit = 10_000

	// cjkContainment is the score given when one CJK name contains the
	// other, e.g. a person referred to by given name only.
	cjkContainment = 0.95
	// cjkFamilyPrefix is the score when one name is a single ideograph
	// matching the other's family-name prefix.
	cjkFamilyPrefix = 0.85

	// wordContainment is the score when one name contains the other on word
	// boundaries ("big blue" in "big blue company"). It sits inside the
	// embedding-rescue band so containment alone never merges.
	wordContainment = 0.7
)

// Config tunes one resolution pass.
type Config struct {
	FuzzyThreshold     float64
	EmbeddingThreshold float64
	// Embedder is optional; when nil the embedding pass is skipped.
	Embedder domain.Embedder
}

// Result is the resolved graph plus the merge bookkeeping.
type Result struct {
	Entities  []domain.Entity
	Relations []domain.Relation
	// AliasOf maps every merged entity id to its canonical survivor.
	AliasOf map[uuid.UUID]uuid.UUID
	Merged  int
	Dropped int // relations that became self-loops after merging
}

// Resolver merges duplicate entities. Matching never crosses entity types.
type Resolver struct {
	cfg Config
}

func New(cfg Config) *Resolver {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if cfg.EmbeddingThreshold <= 0 {
		cfg.EmbeddingThreshold = DefaultEmbeddingThreshold
	}
	return &Resolver{cfg: cfg}
}

// Resolve merges duplicates in entities and rewrites relations onto the
// canonical survivors. Running it over already-resolved output is a no-op.
func (r *Resolver) Resolve(ctx context.Context, entities []domain.Entity, relations []domain.Relation) (*Result, error) {
	if len(entities) == 0 {
		return &Result{Relations: dedupRelations(relations, nil).kept, AliasOf: map[uuid.UUID]uuid.UUID{}}, nil
	}

	byID := make(map[uuid.UUID]domain.Entity, len(entities))
	ids := make([]uuid.UUID, 0, len(entities))
	for _, e := range entities {
		if _, dup := byID[e.ID]; dup {
			byID[e.ID] = mergePair(byID[e.ID], e)
			continue
		}
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	uf := newUnionFind(ids)

	// Pass 1 and 2: exact normalized names, then aliases, bucketed per type.
	buckets := bucketByType(byID, ids)
	for _, bucket := range buckets {
		exactAndAliasPass(uf, byID, bucket)
	}

	// Pass 3: fuzzy matching, with an optional embedding rescue for pairs
	// just under the threshold.
	var nearMisses []candidatePair
	for _, bucket := range buckets {
		misses, err := r.fuzzyPass(ctx, uf, byID, bucket)
		if err != nil {
			return nil, err
		}
		nearMisses = append(nearMisses, misses...)
	}
	if r.cfg.Embedder != nil && len(nearMisses) > 0 {
		if err := r.embeddingPass(ctx, uf, byID, nearMisses); err != nil {
			return nil, err
		}
	}

	return r.canonicalize(uf, byID, relations), nil
}

func bucketByType(byID map[uuid.UUID]domain.Entity, ids []uuid.UUID) map[string][]uuid.UUID {
	buckets := make(map[string][]uuid.UUID)
	for _, id := range ids {
		t := byID[id].Type
		buckets[t] = append(buckets[t], id)
	}
	for _, bucket := range buckets {
		sortIDs(byID, bucket)
	}
	return buckets
}

// sortIDs orders a bucket by normalized name so passes are deterministic.
func sortIDs(byID map[uuid.UUID]domain.Entity, bucket []uuid.UUID) {
	sort.Slice(bucket, func(i, j int) bool {
		ni, nj := NormalizeName(byID[bucket[i]].Name), NormalizeName(byID[bucket[j]].Name)
		if ni != nj {
			return ni < nj
		}
		return bucket[i].String() < bucket[j].String()
	})
}

func exactAndAliasPass(uf *unionFind, byID map[uuid.UUID]domain.Entity, bucket []uuid.UUID) {
	byNorm := make(map[string]uuid.UUID, len(bucket))
	for _, id := range bucket {
		norm := NormalizeName(byID[id].Name)
		if prev, ok := byNorm[norm]; ok {
			uf.union(prev, id)
		} else {
			byNorm[norm] = id
		}
	}
	for _, id := range bucket {
		for _, alias := range byID[id].Aliases {
			if other, ok := byNorm[NormalizeName(alias)]; ok {
				uf.union(other, id)
			}
		}
	}
}

type candidatePair struct {
	a, b uuid.UUID
}

// fuzzyPass unions pairs whose normalized names clear the fuzzy threshold and
// collects near misses for the embedding pass. Large buckets are blocked on a
// three-rune prefix to bound the comparison count.
func (r *Resolver) fuzzyPass(ctx context.Context, uf *unionFind, byID map[uuid.UUID]domain.Entity, bucket []uuid.UUID) ([]candidatePair, error) {
	blocks := [][]uuid.UUID{bucket}
	if len(bucket) > blockingLimit {
		blocks = prefixBlocks(byID, bucket)
	}

	var misses []candidatePair
	for _, block := range blocks {
		for i := 0; i < len(block); i++ {
			if err := ctx.Err(); err != nil {
				return nil, domain.ErrCancelled
			}
			for j := i + 1; j < len(block); j++ {
				a, b := block[i], block[j]
				if uf.find(a) == uf.find(b) {
					continue
				}
				score := nameSimilarity(NormalizeName(byID[a].Name), NormalizeName(byID[b].Name))
				switch {
				case score >= r.cfg.FuzzyThreshold:
					uf.union(a, b)
				case score >= embeddingCandidateFloor:
					misses = append(misses, candidatePair{a: a, b: b})
				}
			}
		}
	}
	return misses, nil
}

func prefixBlocks(byID map[uuid.UUID]domain.Entity, bucket []uuid.UUID) [][]uuid.UUID {
	grouped := make(map[string][]uuid.UUID)
	for _, id := range bucket {
		runes := []rune(NormalizeName(byID[id].Name))
		n := 3
		if len(runes) < n {
			n = len(runes)
		}
		key := string(runes[:n])
		grouped[key] = append(grouped[key], id)
	}
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]uuid.UUID, 0, len(keys))
	for _, k := range keys {
		out = append(out, grouped[k])
	}
	return out
}

// nameSimilarity scores two normalized names. CJK names get containment and
// family-name rules since edit distance over short ideograph strings is too
// coarse; other scripts get a word-containment floor so "big blue" vs
// "big blue company" stays an embedding candidate.
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	short, long := a, b
	if len([]rune(short)) > len([]rune(long)) {
		short, long = long, short
	}
	if hasCJK(a) && hasCJK(b) {
		rs, rl := []rune(short), []rune(long)
		if len(rs) >= 2 && strings.Contains(long, short) {
			return cjkContainment
		}
		if len(rs) == 1 && rs[0] == rl[0] {
			return cjkFamilyPrefix
		}
	}
	score := levenshtein.Similarity(a, b, nil)
	if score < wordContainment && containsWord(long, short) {
		return wordContainment
	}
	return score
}

// containsWord reports whether long contains short on word boundaries.
func containsWord(long, short string) bool {
	return long == short ||
		strings.HasPrefix(long, short+" ") ||
		strings.HasSuffix(long, " "+short) ||
		strings.Contains(long, " "+short+" ")
}

// embeddingPass compares near-miss pairs by embedding "name: description"
// and unions pairs above the cosine threshold.
func (r *Resolver) embeddingPass(ctx context.Context, uf *unionFind, byID map[uuid.UUID]domain.Entity, pairs []candidatePair) error {
	need := make(map[uuid.UUID]struct{}, len(pairs)*2)
	for _, p := range pairs {
		need[p.a] = struct{}{}
		need[p.b] = struct{}{}
	}
	ids := make([]uuid.UUID, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	texts := make([]string, len(ids))
	for i, id := range ids {
		e := byID[id]
		texts[i] = e.Name
		if e.Description != "" {
			texts[i] = e.Name + ": " + e.Description
		}
	}

	vectors, err := r.cfg.Embedder.Embed(ctx, texts)
	if err != nil {
		// Embedding rescue is best effort; fuzzy results stand on their own.
		log.Warnf("embedding pass skipped: %v", err)
		return nil
	}
	byEntity := make(map[uuid.UUID][]float32, len(ids))
	for i, id := range ids {
		byEntity[id] = vectors[i]
	}

	for _, p := range pairs {
		if uf.find(p.a) == uf.find(p.b) {
			continue
		}
		if cosine(byEntity[p.a], byEntity[p.b]) >= r.cfg.EmbeddingThreshold {
			uf.union(p.a, p.b)
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// canonicalize picks one survivor per merge set, folds the rest into it and
// rewrites relations onto survivor ids.
func (r *Resolver) canonicalize(uf *unionFind, byID map[uuid.UUID]domain.Entity, relations []domain.Relation) *Result {
	res := &Result{AliasOf: make(map[uuid.UUID]uuid.UUID)}

	for _, members := range uf.sets() {
		rep := pickRepresentative(byID, members)
		canon := byID[rep]
		for _, id := range members {
			if id == rep {
				continue
			}
			canon = mergePair(canon, byID[id])
			res.AliasOf[id] = rep
			res.Merged++
		}
		res.Entities = append(res.Entities, canon)
	}
	sort.Slice(res.Entities, func(i, j int) bool {
		return res.Entities[i].ID.String() < res.Entities[j].ID.String()
	})

	d := dedupRelations(relations, res.AliasOf)
	res.Relations = d.kept
	res.Dropped = d.selfLoops
	return res
}

// pickRepresentative orders by confidence, then description length, then
// name, so the survivor is stable across runs.
func pickRepresentative(byID map[uuid.UUID]domain.Entity, members []uuid.UUID) uuid.UUID {
	best := members[0]
	for _, id := range members[1:] {
		a, b := byID[id], byID[best]
		switch {
		case a.Confidence != b.Confidence:
			if a.Confidence > b.Confidence {
				best = id
			}
		case len(a.Description) != len(b.Description):
			if len(a.Description) > len(b.Description) {
				best = id
			}
		case a.Name != b.Name:
			if a.Name < b.Name {
				best = id
			}
		case id.String() < best.String():
			best = id
		}
	}
	return best
}

// mergePair folds b into a: aliases and source chunks are set unions,
// confidence is the max, missing scalars fill in from b.
func mergePair(a, b domain.Entity) domain.Entity {
	a.Aliases = unionStrings(a.Aliases, append(b.Aliases, b.Name))
	a.SourceChunks = unionIDs(a.SourceChunks, b.SourceChunks)
	if b.Confidence > a.Confidence {
		a.Confidence = b.Confidence
	}
	if a.Description == "" {
		a.Description = b.Description
	}
	if a.Properties == nil && b.Properties != nil {
		a.Properties = b.Properties
	} else {
		for k, v := range b.Properties {
			if _, ok := a.Properties[k]; !ok {
				a.Properties[k] = v
			}
		}
	}
	if b.Version > a.Version {
		a.Version = b.Version
	}
	return a
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(a, b...) {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func unionIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	var out []uuid.UUID
	for _, id := range append(a, b...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

type dedupResult struct {
	kept      []domain.Relation
	selfLoops int
}

// dedupRelations rewrites endpoints through aliasOf, drops self-loops the
// merging created and keeps one relation per (source, target, type) with the
// best weight and confidence.
func dedupRelations(relations []domain.Relation, aliasOf map[uuid.UUID]uuid.UUID) dedupResult {
	canonical := func(id uuid.UUID) uuid.UUID {
		if to, ok := aliasOf[id]; ok {
			return to
		}
		return id
	}

	var res dedupResult
	merged := make(map[domain.RelationKey]domain.Relation, len(relations))
	var order []domain.RelationKey
	for _, rel := range relations {
		rel.SourceID = canonical(rel.SourceID)
		rel.TargetID = canonical(rel.TargetID)
		if rel.SourceID == rel.TargetID {
			res.selfLoops++
			continue
		}
		key := rel.Key()
		prev, ok := merged[key]
		if !ok {
			merged[key] = rel
			order = append(order, key)
			continue
		}
		if rel.Weight > prev.Weight {
			prev.Weight = rel.Weight
		}
		if rel.Confidence > prev.Confidence {
			prev.Confidence = rel.Confidence
		}
		merged[key] = prev
	}
	for _, key := range order {
		res.kept = append(res.kept, merged[key])
	}
	return res
}
