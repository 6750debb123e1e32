package retrieve

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
)

// DefaultRRFConstant dampens the influence of top ranks in reciprocal rank
// fusion.
const DefaultRRFConstant = 60

// Weighted pairs a retriever with its fusion weight. Priority breaks score
// ties; lower wins.
type Weighted struct {
	Retriever Retriever
	Weight    float64
	Priority  int
}

// Fused is the hybrid result. Degraded is set when some retrievers failed
// and the ranking was fused from the rest.
type Fused struct {
	Items    []domain.RetrievedItem
	Degraded bool
	Failed   []string
}

// Hybrid fans a query out to several retrievers concurrently and fuses their
// rankings with weighted reciprocal rank fusion.
type Hybrid struct {
	retrievers []Weighted
	k          float64
	reranker   Reranker
}

func NewHybrid(retrievers []Weighted, rrfConstant float64, reranker Reranker) *Hybrid {
	if rrfConstant <= 0 {
		rrfConstant = DefaultRRFConstant
	}
	return &Hybrid{retrievers: retrievers, k: rrfConstant, reranker: reranker}
}

func (h *Hybrid) Name() string { return "hybrid" }

func (h *Hybrid) Retrieve(ctx context.Context, q Query) (*Fused, error) {
	if len(h.retrievers) == 0 {
		return nil, fmt.Errorf("%w: hybrid has no retrievers", domain.ErrValidation)
	}

	results := make([]branch, len(h.retrievers))

	var wg sync.WaitGroup
	for i, w := range h.retrievers {
		i, w := i, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := w.Retriever.Retrieve(ctx, q)
			results[i] = branch{items: items, err: err}
		}()
	}
	wg.Wait()

	fused := &Fused{}
	succeeded := 0
	for i, res := range results {
		if res.err != nil {
			if domain.Cancelled(res.err) {
				return nil, res.err
			}
			name := h.retrievers[i].Retriever.Name()
			log.Warnf("retriever %s failed, fusing without it: %v", name, res.err)
			fused.Degraded = true
			fused.Failed = append(fused.Failed, name)
			continue
		}
		succeeded++
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("all retrievers failed: %w", results[0].err)
	}

	fused.Items = h.fuse(results, q.topK())

	if h.reranker != nil && len(fused.Items) > 0 {
		reranked, err := h.reranker.Rerank(ctx, q.Text, fused.Items)
		if err != nil {
			log.Warnf("reranker failed, keeping fused order: %v", err)
		} else {
			fused.Items = reranked
			if len(fused.Items) > q.topK() {
				fused.Items = fused.Items[:q.topK()]
			}
		}
	}
	return fused, nil
}

type branch struct {
	items []domain.RetrievedItem
	err   error
}

type fusedCandidate struct {
	item     domain.RetrievedItem
	score    float64
	priority int
}

// fuse computes weighted RRF over the successful branches: each item's fused
// score is the sum of weight/(k+rank) across the rankings that contain it.
func (h *Hybrid) fuse(results []branch, topK int) []domain.RetrievedItem {
	candidates := make(map[uuid.UUID]*fusedCandidate)
	var order []uuid.UUID

	for i, res := range results {
		if res.err != nil {
			continue
		}
		w := h.retrievers[i]
		for rank, item := range res.items {
			contribution := w.Weight / (h.k + float64(rank+1))
			c, seen := candidates[item.ID]
			if !seen {
				candidates[item.ID] = &fusedCandidate{item: item, score: contribution, priority: w.Priority}
				order = append(order, item.ID)
				continue
			}
			c.score += contribution
			if w.Priority < c.priority {
				c.item = item
				c.priority = w.Priority
			}
		}
	}

	out := make([]domain.RetrievedItem, 0, len(order))
	for _, id := range order {
		c := candidates[id]
		c.item.Score = c.score
		out = append(out, c.item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := candidates[out[i].ID], candidates[out[j].ID]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
