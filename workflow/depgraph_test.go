package workflow

import "testing"

func TestDependencyGraphReadySnapshotOrdersByPriorityThenSeq(t *testing.T) {
	g := newDependencyGraph()
	mustAdd(t, g, "low-pri-first", nil, 5)
	mustAdd(t, g, "high-pri", nil, 1)
	mustAdd(t, g, "low-pri-second", nil, 5)

	got := g.readySnapshot()
	want := []string{"high-pri", "low-pri-first", "low-pri-second"}
	if !equalStrings(got, want) {
		t.Fatalf("readySnapshot() = %v, want %v", got, want)
	}
}

func TestDependencyGraphNodeReadyOnlyWhenDepsSatisfied(t *testing.T) {
	g := newDependencyGraph()
	mustAdd(t, g, "a", nil, 0)
	mustAdd(t, g, "b", []string{"a"}, 0)

	if got := g.readySnapshot(); !equalStrings(got, []string{"a"}) {
		t.Fatalf("before completion: readySnapshot() = %v, want [a]", got)
	}

	g.markCompleted("a")
	if got := g.readySnapshot(); !equalStrings(got, []string{"b"}) {
		t.Fatalf("after completion: readySnapshot() = %v, want [b]", got)
	}
}

func TestDependencyGraphAddDuplicateFails(t *testing.T) {
	g := newDependencyGraph()
	mustAdd(t, g, "a", nil, 0)
	if err := g.add("a", nil, 0); err != ErrDuplicateTask {
		t.Fatalf("add duplicate: err = %v, want ErrDuplicateTask", err)
	}
}

func TestDependencyGraphCycleRejected(t *testing.T) {
	g := newDependencyGraph()
	mustAdd(t, g, "a", []string{"c"}, 0)
	mustAdd(t, g, "b", []string{"a"}, 0)
	if err := g.add("c", []string{"b"}, 0); err != ErrCycle {
		t.Fatalf("add cyclic: err = %v, want ErrCycle", err)
	}
	if _, exists := g.nodes["c"]; exists {
		t.Fatalf("cyclic node must not remain registered after rejection")
	}
}

func TestDependencyGraphFindCycleReportsConcreteCycle(t *testing.T) {
	g := newDependencyGraph()
	// Build a->b->c->a by hand, bypassing add's rejection, to exercise the
	// diagnostic path a caller might hit after an external inconsistency.
	g.nodes["a"] = &depNode{taskID: "a", deps: map[string]struct{}{"b": {}}, index: -1}
	g.nodes["b"] = &depNode{taskID: "b", deps: map[string]struct{}{"c": {}}, index: -1}
	g.nodes["c"] = &depNode{taskID: "c", deps: map[string]struct{}{"a": {}}, index: -1}

	cyc := g.findCycle("a")
	if len(cyc) == 0 {
		t.Fatalf("findCycle returned no cycle for a->b->c->a")
	}
	seen := map[string]bool{}
	for _, id := range cyc {
		seen[id] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Fatalf("findCycle() = %v, missing %s", cyc, want)
		}
	}
}

func TestDependencyGraphMarkCompletedIdempotent(t *testing.T) {
	g := newDependencyGraph()
	mustAdd(t, g, "a", nil, 0)
	mustAdd(t, g, "b", []string{"a"}, 0)

	g.markCompleted("a")
	g.markCompleted("a") // must not double-decrement b's remainingUnmet
	if g.nodes["b"].remainingUnmet != 0 {
		t.Fatalf("b.remainingUnmet = %d, want 0", g.nodes["b"].remainingUnmet)
	}
	if got := g.readySnapshot(); !equalStrings(got, []string{"b"}) {
		t.Fatalf("readySnapshot() = %v, want [b]", got)
	}
}

func TestDependencyGraphRegistrationAfterDependencyAlreadyCompleted(t *testing.T) {
	g := newDependencyGraph()
	mustAdd(t, g, "a", nil, 0)
	g.markCompleted("a")

	mustAdd(t, g, "b", []string{"a"}, 0)
	if got := g.readySnapshot(); !equalStrings(got, []string{"b"}) {
		t.Fatalf("b registered after a completed must be immediately ready, got %v", got)
	}
}

func TestDependencyGraphUnmetDeps(t *testing.T) {
	g := newDependencyGraph()
	mustAdd(t, g, "a", nil, 0)
	mustAdd(t, g, "b", nil, 0)
	mustAdd(t, g, "c", []string{"a", "b"}, 0)

	g.markCompleted("a")
	unmet := g.unmetDeps("c")
	if !equalStrings(unmet, []string{"b"}) {
		t.Fatalf("unmetDeps(c) = %v, want [b]", unmet)
	}
}

func TestDependencyGraphRemove(t *testing.T) {
	g := newDependencyGraph()
	mustAdd(t, g, "a", nil, 0)
	g.remove("a")
	if _, exists := g.nodes["a"]; exists {
		t.Fatalf("a still present after remove")
	}
	if got := g.readySnapshot(); len(got) != 0 {
		t.Fatalf("readySnapshot() = %v, want empty after remove", got)
	}
}

func mustAdd(t *testing.T, g *dependencyGraph, id string, deps []string, priority int) {
	t.Helper()
	if err := g.add(id, deps, priority); err != nil {
		t.Fatalf("add(%s): %v", id, err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
