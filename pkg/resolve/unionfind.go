package resolve

import "github.com/google/uuid"

// unionFind is a disjoint-set forest over entity ids with path compression
// and union by size.
type unionFind struct {
	parent map[uuid.UUID]uuid.UUID
	size   map[uuid.UUID]int
}

func newUnionFind(ids []uuid.UUID) *unionFind {
	uf := &unionFind{
		parent: make(map[uuid.UUID]uuid.UUID, len(ids)),
		size:   make(map[uuid.UUID]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
		uf.size[id] = 1
	}
	return uf
}

func (uf *unionFind) find(id uuid.UUID) uuid.UUID {
	root := id
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[id] != root {
		uf.parent[id], id = root, uf.parent[id]
	}
	return root
}

func (uf *unionFind) union(a, b uuid.UUID) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}

// sets groups every id under its root.
func (uf *unionFind) sets() map[uuid.UUID][]uuid.UUID {
	out := make(map[uuid.UUID][]uuid.UUID)
	for id := range uf.parent {
		root := uf.find(id)
		out[root] = append(out[root], id)
	}
	return out
}
