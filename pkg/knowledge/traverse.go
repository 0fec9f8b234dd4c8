package knowledge

// neighborSetLocked returns the deduplicated union of object endpoints of
// outgoing relations and subject endpoints of incoming relations.
func (g *Graph) neighborSetLocked(id uint64) map[uint64]struct{} {
	neighbors := make(map[uint64]struct{})
	for _, rid := range g.subjectIndex[id] {
		if rel, ok := g.relations[rid]; ok {
			neighbors[rel.Object] = struct{}{}
		}
	}
	for _, rid := range g.objectIndex[id] {
		if rel, ok := g.relations[rid]; ok {
			neighbors[rel.Subject] = struct{}{}
		}
	}
	delete(neighbors, id)
	return neighbors
}

// Neighbors returns the direct neighbors of an entity over both edge
// directions.
func (g *Graph) Neighbors(id uint64) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.entities[id]; !ok {
		return nil
	}
	set := g.neighborSetLocked(id)
	out := make([]uint64, 0, len(set))
	for nb := range set {
		out = append(out, nb)
	}
	return out
}

// orderedNeighborsLocked visits subject-index edges then object-index edges
// so BFS expansion order is deterministic per entity.
func (g *Graph) orderedNeighborsLocked(id uint64) []uint64 {
	var out []uint64
	seen := make(map[uint64]struct{})
	push := func(nb uint64) {
		if nb == id {
			return
		}
		if _, dup := seen[nb]; dup {
			return
		}
		seen[nb] = struct{}{}
		out = append(out, nb)
	}
	for _, rid := range g.subjectIndex[id] {
		if rel, ok := g.relations[rid]; ok {
			push(rel.Object)
		}
	}
	for _, rid := range g.objectIndex[id] {
		if rel, ok := g.relations[rid]; ok {
			push(rel.Subject)
		}
	}
	return out
}

// BFS walks the graph breadth-first from start up to maxDepth hops, using
// both edge directions, and returns the visit order capped at maxCount.
func (g *Graph) BFS(start uint64, maxDepth, maxCount int) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.entities[start]; !ok || maxCount <= 0 {
		return nil
	}

	type item struct {
		id    uint64
		depth int
	}
	visited := map[uint64]struct{}{start: {}}
	queue := []item{{id: start, depth: 0}}
	order := []uint64{start}

	for len(queue) > 0 && len(order) < maxCount {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, nb := range g.orderedNeighborsLocked(cur.id) {
			if _, dup := visited[nb]; dup {
				continue
			}
			visited[nb] = struct{}{}
			order = append(order, nb)
			if len(order) >= maxCount {
				break
			}
			queue = append(queue, item{id: nb, depth: cur.depth + 1})
		}
	}
	return order
}

// ShortestPath returns the entity sequence from source to target inclusive,
// found by BFS with parent tracking, bounded by maxDepth hops. The second
// return is false when the target is unreachable.
func (g *Graph) ShortestPath(source, target uint64, maxDepth int) ([]uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.entities[source]; !ok {
		return nil, false
	}
	if _, ok := g.entities[target]; !ok {
		return nil, false
	}
	if source == target {
		return []uint64{source}, true
	}

	type item struct {
		id    uint64
		depth int
	}
	parent := map[uint64]uint64{source: source}
	queue := []item{{id: source, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, nb := range g.orderedNeighborsLocked(cur.id) {
			if _, seen := parent[nb]; seen {
				continue
			}
			parent[nb] = cur.id
			if nb == target {
				// Walk parents back to source and reverse.
				path := []uint64{target}
				for at := cur.id; ; at = parent[at] {
					path = append(path, at)
					if at == source {
						break
					}
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, true
			}
			queue = append(queue, item{id: nb, depth: cur.depth + 1})
		}
	}
	return nil, false
}

// Subgraph contains the entities within a radius of a center plus every
// relation connecting two included entities.
type Subgraph struct {
	EntityIDs   []uint64
	RelationIDs []uint64
}

// ExtractSubgraph collects the BFS neighborhood of center within radius and
// the relations whose endpoints are both inside it.
func (g *Graph) ExtractSubgraph(center uint64, radius, maxCount int) Subgraph {
	visited := g.BFS(center, radius, maxCount)
	if len(visited) == 0 {
		return Subgraph{}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	inSet := make(map[uint64]struct{}, len(visited))
	for _, id := range visited {
		inSet[id] = struct{}{}
	}

	var relIDs []uint64
	seen := make(map[uint64]struct{})
	for _, id := range visited {
		for _, rid := range g.subjectIndex[id] {
			rel, ok := g.relations[rid]
			if !ok {
				continue
			}
			if _, inside := inSet[rel.Object]; !inside {
				continue
			}
			if _, dup := seen[rid]; dup {
				continue
			}
			seen[rid] = struct{}{}
			relIDs = append(relIDs, rid)
		}
	}
	return Subgraph{EntityIDs: visited, RelationIDs: relIDs}
}
