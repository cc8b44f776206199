package index

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	pkgerrors "surgedb/pkg/errors"
)

const lockStripes = 64

// node is one entry in the graph arena. Nodes are addressed by stable
// internal ids so tombstoning never invalidates an in-flight traversal.
type node struct {
	id        string
	level     int
	neighbors [][]uint32
}

// HNSW is a hierarchical navigable small world graph over a collection's
// vectors. Deletion is a tombstone flag checked during result assembly;
// tombstoned nodes keep routing traffic until the graph is rebuilt from the
// store (checkpoint recovery).
type HNSW struct {
	opts   Options
	dist   func(a, b []float32) float32
	source VectorSource

	// mu guards the arena, the id map, the entry point and the rng.
	mu       sync.RWMutex
	nodes    []*node
	byID     map[string]uint32
	entry    uint32
	hasEntry bool
	maxLevel int
	rng      *rand.Rand

	// tombMu guards the tombstone set separately so searches checking
	// tombstones never contend with arena growth.
	tombMu     sync.RWMutex
	tombstones *roaring.Bitmap

	// nodeLocks stripe neighbor-list access by internal id.
	nodeLocks [lockStripes]sync.RWMutex

	levelMult float64
}

// NewHNSW creates an empty graph resolving vectors through source.
func NewHNSW(opts Options, source VectorSource) (*HNSW, error) {
	if opts.Dimension <= 0 {
		return nil, pkgerrors.ErrInvalidDimension
	}
	opts.fillDefaults()
	return &HNSW{
		opts:       opts,
		dist:       distFunc(opts.Metric),
		source:     source,
		byID:       make(map[string]uint32),
		rng:        rand.New(rand.NewSource(rand.Int63())),
		tombstones: roaring.New(),
		levelMult:  1 / math.Log(float64(opts.M)),
	}, nil
}

// Metric returns the configured distance metric.
func (h *HNSW) Metric() Metric { return h.opts.Metric }

// Len returns the number of live (non-tombstoned) entries.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// Contains reports whether id is live in the index.
func (h *HNSW) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byID[id]
	return ok
}

// Stats reports graph shape counters.
func (h *HNSW) Stats() (liveNodes, tombstoned, maxLevel int) {
	h.mu.RLock()
	liveNodes = len(h.byID)
	maxLevel = h.maxLevel
	h.mu.RUnlock()

	h.tombMu.RLock()
	tombstoned = int(h.tombstones.GetCardinality())
	h.tombMu.RUnlock()
	return
}

func (h *HNSW) lockFor(n uint32) *sync.RWMutex {
	return &h.nodeLocks[n%lockStripes]
}

func (h *HNSW) isTombstoned(n uint32) bool {
	h.tombMu.RLock()
	defer h.tombMu.RUnlock()
	return h.tombstones.Contains(n)
}

// vectorOf resolves the decoded vector behind an internal id. Returns nil
// when the backing record has been removed.
func (h *HNSW) vectorOf(n uint32) []float32 {
	h.mu.RLock()
	nd := h.nodes[n]
	h.mu.RUnlock()
	vec, ok := h.source.Vector(nd.id)
	if !ok {
		return nil
	}
	return vec
}

func (h *HNSW) randomLevel() int {
	return int(math.Floor(-math.Log(h.rng.Float64()) * h.levelMult))
}

// Add inserts id into the graph. An existing entry under the same id is
// tombstoned first, so no search ever returns the replaced node.
func (h *HNSW) Add(id string, vector []float32) error {
	if len(vector) != h.opts.Dimension {
		return &pkgerrors.DimensionError{Expected: h.opts.Dimension, Got: len(vector)}
	}

	h.mu.Lock()
	if old, ok := h.byID[id]; ok {
		h.tombMu.Lock()
		h.tombstones.Add(old)
		h.tombMu.Unlock()
	}
	level := h.randomLevel()
	nd := &node{
		id:        id,
		level:     level,
		neighbors: make([][]uint32, level+1),
	}
	internal := uint32(len(h.nodes))
	h.nodes = append(h.nodes, nd)
	h.byID[id] = internal

	if !h.hasEntry {
		h.entry = internal
		h.hasEntry = true
		h.maxLevel = level
		h.mu.Unlock()
		return nil
	}
	ep := h.entry
	maxLevel := h.maxLevel
	h.mu.Unlock()

	// Greedy descent through the upper layers.
	for layer := maxLevel; layer > level; layer-- {
		ep = h.greedyClosest(vector, ep, layer)
	}

	topLinked := level
	if topLinked > maxLevel {
		topLinked = maxLevel
	}
	for layer := topLinked; layer >= 0; layer-- {
		candidates := h.searchLayer(vector, []uint32{ep}, h.opts.EfConstruction, layer)
		m := h.opts.M
		if layer == 0 {
			m = h.opts.M * 2
		}
		selected := closestN(candidates, m)
		h.setNeighbors(internal, layer, selected)
		for _, it := range selected {
			h.linkBack(it.node, internal, layer)
		}
		if len(candidates) > 0 {
			ep = candidates[0].node
		}
	}

	if level > maxLevel {
		h.mu.Lock()
		if level > h.maxLevel {
			h.maxLevel = level
			h.entry = internal
		}
		h.mu.Unlock()
	}
	return nil
}

// Remove tombstones id. The node stays in the arena for routing until the
// graph is rebuilt; searches never return it.
func (h *HNSW) Remove(id string) error {
	h.mu.Lock()
	internal, ok := h.byID[id]
	if !ok {
		h.mu.Unlock()
		return pkgerrors.ErrVectorNotFound
	}
	delete(h.byID, id)
	h.mu.Unlock()

	h.tombMu.Lock()
	h.tombstones.Add(internal)
	h.tombMu.Unlock()
	return nil
}

// Search returns the k approximately nearest live ids, best first. When k
// exceeds the live count every live vector is returned.
func (h *HNSW) Search(query []float32, k int) ([]Result, error) {
	return h.SearchFiltered(query, k, nil)
}

// SearchFiltered returns up to k live ids accepted by the predicate. The
// candidate pool grows geometrically until k matches are found or the whole
// collection has been considered, so a sparse predicate never truncates the
// result while matches exist.
func (h *HNSW) SearchFiltered(query []float32, k int, accept func(id string) bool) ([]Result, error) {
	if len(query) != h.opts.Dimension {
		return nil, &pkgerrors.DimensionError{Expected: h.opts.Dimension, Got: len(query)}
	}
	if k <= 0 {
		return []Result{}, nil
	}

	live := h.Len()
	if live == 0 {
		return []Result{}, nil
	}

	pool := h.opts.EfSearch
	if pool < k {
		pool = k
	}
	for pool < live {
		results := h.searchOnce(query, k, pool, accept)
		if len(results) >= k {
			return results, nil
		}
		pool *= 2
	}
	return h.exhaustive(query, k, accept), nil
}

// searchOnce runs one graph traversal with the given candidate pool size and
// assembles up to k accepted live results.
func (h *HNSW) searchOnce(query []float32, k, ef int, accept func(id string) bool) []Result {
	h.mu.RLock()
	if !h.hasEntry {
		h.mu.RUnlock()
		return nil
	}
	ep := h.entry
	maxLevel := h.maxLevel
	h.mu.RUnlock()

	for layer := maxLevel; layer > 0; layer-- {
		ep = h.greedyClosest(query, ep, layer)
	}
	candidates := h.searchLayer(query, []uint32{ep}, ef, 0)
	return h.collect(candidates, k, accept)
}

// collect filters traversal output down to live accepted results, best first.
func (h *HNSW) collect(candidates []queueItem, k int, accept func(id string) bool) []Result {
	out := make([]Result, 0, k)
	for _, it := range candidates {
		if h.isTombstoned(it.node) {
			continue
		}
		h.mu.RLock()
		id := h.nodes[it.node].id
		current, live := h.byID[id]
		h.mu.RUnlock()
		if !live || current != it.node {
			continue
		}
		if accept != nil && !accept(id) {
			continue
		}
		out = append(out, Result{ID: id, Score: scoreFromDistance(h.opts.Metric, it.dist)})
		if len(out) == k {
			break
		}
	}
	return out
}

// exhaustive scans every live entry. Used when the requested pool covers the
// whole collection; it makes filtered search complete by construction.
func (h *HNSW) exhaustive(query []float32, k int, accept func(id string) bool) []Result {
	h.mu.RLock()
	ids := make([]string, 0, len(h.byID))
	for id := range h.byID {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	scored := make([]queueItem, 0, len(ids))
	idByPos := make([]string, 0, len(ids))
	for _, id := range ids {
		if accept != nil && !accept(id) {
			continue
		}
		vec, ok := h.source.Vector(id)
		if !ok {
			continue
		}
		scored = append(scored, queueItem{node: uint32(len(idByPos)), dist: h.dist(query, vec)})
		idByPos = append(idByPos, id)
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].dist < scored[j].dist })
	if k > len(scored) {
		k = len(scored)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{
			ID:    idByPos[scored[i].node],
			Score: scoreFromDistance(h.opts.Metric, scored[i].dist),
		}
	}
	return out
}

// greedyClosest walks one layer greedily toward the query.
func (h *HNSW) greedyClosest(query []float32, ep uint32, layer int) uint32 {
	best := ep
	bestVec := h.vectorOf(best)
	var bestDist float32 = math.MaxFloat32
	if bestVec != nil {
		bestDist = h.dist(query, bestVec)
	}
	for {
		improved := false
		for _, nb := range h.neighborsOf(best, layer) {
			vec := h.vectorOf(nb)
			if vec == nil {
				continue
			}
			if d := h.dist(query, vec); d < bestDist {
				best = nb
				bestDist = d
				improved = true
			}
		}
		if !improved {
			return best
		}
	}
}

// searchLayer is the standard HNSW beam search over one layer. It returns up
// to ef items ordered nearest first; tombstoned nodes participate as routing
// waypoints and are filtered by the caller.
func (h *HNSW) searchLayer(query []float32, eps []uint32, ef, layer int) []queueItem {
	visited := make(map[uint32]struct{}, ef*2)
	var frontier minQueue
	var results maxQueue

	for _, ep := range eps {
		vec := h.vectorOf(ep)
		if vec == nil {
			continue
		}
		d := h.dist(query, vec)
		visited[ep] = struct{}{}
		pushMin(&frontier, queueItem{node: ep, dist: d})
		pushMax(&results, queueItem{node: ep, dist: d})
	}

	for frontier.Len() > 0 {
		current := popMin(&frontier)
		if results.Len() >= ef && current.dist > results[0].dist {
			break
		}
		for _, nb := range h.neighborsOf(current.node, layer) {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			vec := h.vectorOf(nb)
			if vec == nil {
				continue
			}
			d := h.dist(query, vec)
			if results.Len() < ef || d < results[0].dist {
				pushMin(&frontier, queueItem{node: nb, dist: d})
				pushMax(&results, queueItem{node: nb, dist: d})
				if results.Len() > ef {
					popMax(&results)
				}
			}
		}
	}

	out := make([]queueItem, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = popMax(&results)
	}
	return out
}

func (h *HNSW) neighborsOf(n uint32, layer int) []uint32 {
	lock := h.lockFor(n)
	lock.RLock()
	defer lock.RUnlock()

	h.mu.RLock()
	nd := h.nodes[n]
	h.mu.RUnlock()
	if layer > nd.level {
		return nil
	}
	nbs := nd.neighbors[layer]
	out := make([]uint32, len(nbs))
	copy(out, nbs)
	return out
}

func (h *HNSW) setNeighbors(n uint32, layer int, items []queueItem) {
	nbs := make([]uint32, len(items))
	for i, it := range items {
		nbs[i] = it.node
	}
	lock := h.lockFor(n)
	lock.Lock()
	defer lock.Unlock()

	h.mu.RLock()
	nd := h.nodes[n]
	h.mu.RUnlock()
	nd.neighbors[layer] = nbs
}

// linkBack adds newcomer to n's neighbor list, pruning to the layer's
// connection budget by distance.
func (h *HNSW) linkBack(n, newcomer uint32, layer int) {
	maxConns := h.opts.M
	if layer == 0 {
		maxConns = h.opts.M * 2
	}

	nVec := h.vectorOf(n)

	lock := h.lockFor(n)
	lock.Lock()
	defer lock.Unlock()

	h.mu.RLock()
	nd := h.nodes[n]
	h.mu.RUnlock()
	if layer > nd.level {
		return
	}
	for _, existing := range nd.neighbors[layer] {
		if existing == newcomer {
			return
		}
	}
	nd.neighbors[layer] = append(nd.neighbors[layer], newcomer)
	if len(nd.neighbors[layer]) <= maxConns || nVec == nil {
		return
	}

	// Over budget: keep the closest connections.
	items := make([]queueItem, 0, len(nd.neighbors[layer]))
	for _, nb := range nd.neighbors[layer] {
		vec := h.vectorOf(nb)
		if vec == nil {
			continue
		}
		items = append(items, queueItem{node: nb, dist: h.dist(nVec, vec)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })
	if len(items) > maxConns {
		items = items[:maxConns]
	}
	pruned := make([]uint32, len(items))
	for i, it := range items {
		pruned[i] = it.node
	}
	nd.neighbors[layer] = pruned
}

// closestN keeps the n nearest items of an ascending-ordered candidate list.
func closestN(items []queueItem, n int) []queueItem {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
