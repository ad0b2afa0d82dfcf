package workflow

import (
	"container/heap"
)

// depNode is one DependencyGraph entry (§3, §4.C).
type depNode struct {
	taskID        string
	deps          map[string]struct{}
	remainingUnmet int
	priority      int
	seq           int64 // insertion order, for FIFO priority ties
	index         int   // readyHeap bookkeeping; -1 when not queued
}

// readyHeap orders ready tasks by ascending priority, breaking ties by
// insertion order (§4.C, §4.D tie-breaking rules).
type readyHeap []*depNode

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *readyHeap) Push(x interface{}) {
	n := x.(*depNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// dependencyGraph tracks per-task dependencies, the ready set, priority
// ordering and cycle detection (§4.C). It is not safe for concurrent
// mutation — the Registry owns a single mutex around every call (§5).
type dependencyGraph struct {
	nodes     map[string]*depNode
	completed map[string]struct{}
	ready     readyHeap
	nextSeq   int64
}

func newDependencyGraph() *dependencyGraph {
	g := &dependencyGraph{
		nodes:     make(map[string]*depNode),
		completed: make(map[string]struct{}),
	}
	heap.Init(&g.ready)
	return g
}

// add registers a new node. It fails with ErrDuplicateTask if id already
// exists, or ErrCycle if the id→deps closure is cyclic. On success, any
// dependency already in the completed set is pre-subtracted from
// remainingUnmet (§4.C: "allowing registration after some deps finish").
func (g *dependencyGraph) add(id string, deps []string, priority int) error {
	if _, exists := g.nodes[id]; exists {
		return ErrDuplicateTask
	}

	n := &depNode{
		taskID:   id,
		deps:     make(map[string]struct{}, len(deps)),
		priority: priority,
		seq:      g.nextSeq,
		index:    -1,
	}
	g.nextSeq++

	unmet := 0
	for _, d := range deps {
		n.deps[d] = struct{}{}
		if _, done := g.completed[d]; !done {
			unmet++
		}
	}
	n.remainingUnmet = unmet

	g.nodes[id] = n
	if g.wouldCycle(id) {
		delete(g.nodes, id)
		return ErrCycle
	}

	if n.remainingUnmet == 0 {
		heap.Push(&g.ready, n)
	}
	return nil
}

// wouldCycle runs a DFS with a recursion stack from id, following
// dependency edges (id depends on its deps, so a cycle exists if following
// dep edges leads back to id).
func (g *dependencyGraph) wouldCycle(start string) bool {
	visited := make(map[string]int) // 0=unvisited, 1=in-stack, 2=done
	var visit func(id string) bool
	visit = func(id string) bool {
		switch visited[id] {
		case 1:
			return true
		case 2:
			return false
		}
		visited[id] = 1
		if node, ok := g.nodes[id]; ok {
			for dep := range node.deps {
				if visit(dep) {
					return true
				}
			}
		}
		visited[id] = 2
		return false
	}
	return visit(start)
}

// findCycle returns a concrete cycle reachable from start, for deadlock
// diagnostics (§4.D scenario 5: "names at least one cycle"). It returns
// nil if no cycle is reachable.
func (g *dependencyGraph) findCycle(start string) []string {
	visited := make(map[string]int)
	var path []string
	var visit func(id string) []string
	visit = func(id string) []string {
		switch visited[id] {
		case 1:
			// Found the cycle: trim path to the repeated node.
			for i, p := range path {
				if p == id {
					cyc := append(append([]string(nil), path[i:]...), id)
					return cyc
				}
			}
			return []string{id}
		case 2:
			return nil
		}
		visited[id] = 1
		path = append(path, id)
		if node, ok := g.nodes[id]; ok {
			for dep := range node.deps {
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		visited[id] = 2
		return nil
	}
	return visit(start)
}

// markCompleted adds id to the completed set (idempotent), and promotes
// every dependent whose remainingUnmet reaches zero into the ready set
// (§4.C).
func (g *dependencyGraph) markCompleted(id string) {
	if _, already := g.completed[id]; already {
		return
	}
	g.completed[id] = struct{}{}

	if n, ok := g.nodes[id]; ok && n.index >= 0 {
		heap.Remove(&g.ready, n.index)
	}

	for _, n := range g.nodes {
		if _, has := n.deps[id]; !has {
			continue
		}
		if n.remainingUnmet <= 0 {
			continue
		}
		n.remainingUnmet--
		if n.remainingUnmet == 0 && n.index < 0 {
			heap.Push(&g.ready, n)
		}
	}
}

// readySnapshot returns the ready set ordered by ascending priority, ties
// broken by insertion order, without mutating the heap.
func (g *dependencyGraph) readySnapshot() []string {
	ordered := append(readyHeap(nil), g.ready...)
	// A shallow copy's Pop would corrupt indices shared with g.ready, so
	// sort a plain slice copy instead of heap-popping it.
	sortReady(ordered)
	out := make([]string, len(ordered))
	for i, n := range ordered {
		out[i] = n.taskID
	}
	return out
}

func sortReady(h readyHeap) {
	// Simple insertion sort: ready sets are small (bounded by workflow
	// fan-out), and this avoids aliasing heap.Interface's Push/Pop (which
	// mutate .index) against the snapshot copy.
	for i := 1; i < len(h); i++ {
		j := i
		for j > 0 && h.Less(j, j-1) {
			h[j], h[j-1] = h[j-1], h[j]
			j--
		}
	}
}

// remove evicts id from every structure, used on workflow teardown.
func (g *dependencyGraph) remove(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	if n.index >= 0 {
		heap.Remove(&g.ready, n.index)
	}
	delete(g.nodes, id)
	delete(g.completed, id)
}

// unmetDeps returns id's dependencies that are not yet in the completed
// set, used by the deadlock diagnostic and by rearm. It returns nil for an
// unregistered id.
func (g *dependencyGraph) unmetDeps(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	var out []string
	for d := range n.deps {
		if _, done := g.completed[d]; !done {
			out = append(out, d)
		}
	}
	return out
}
