// Package depgraph implements the cycle-prevention and critical-dependency
// rules over the document dependency graph. It operates at the family-key
// level: two documents in the same family are the same node for cycle
// purposes, matching §4.3.2 of the lifecycle design.
//
// Cycle detection is iterative, not recursive, to bound stack use on large
// graphs (an explicit work-stack stands in for the call stack a recursive
// DFS would use).
package depgraph

import (
	"context"
	"fmt"

	"github.com/edms/lifecycle-core/internal/types"
)

// EdgeProvider is the narrow read interface depgraph needs from the
// persistence layer: active outbound edges for a family, expressed by
// family key so the graph traversal never has to resolve individual
// document versions.
type EdgeProvider interface {
	// ActiveFamilyEdges returns the family keys reachable by a single active
	// edge out of familyKey, restricted to types that participate in cycle
	// checks (every non-SUPERSEDES type; SUPERSEDES is system-emitted and
	// never forms a cycle with user-created edges by construction).
	ActiveFamilyEdges(ctx context.Context, familyKey string) ([]string, error)
}

// ErrSelfEdge is returned for a candidate edge whose endpoints are the same
// document, which the DB layer also enforces as a check constraint.
var ErrSelfEdge = fmt.Errorf("dependency cannot reference its own document")

// ErrCircularDependency is returned when adding edge from->to would close a
// cycle among family keys.
type ErrCircularDependency struct {
	FromFamily string
	ToFamily   string
	Path       []string
}

func (e *ErrCircularDependency) Error() string {
	return fmt.Sprintf("adding dependency %s -> %s would create a circular dependency via %v", e.FromFamily, e.ToFamily, e.Path)
}

// ValidateNewEdge runs the full four-layer discipline described in §4.3.2,
// layers 1-3 (layer 4, the periodic system audit, is CycleReport below).
// fromFamily/toFamily are the family keys of the two documents; fromDoc/toDoc
// are their document ids, used only for the self-edge check since the
// self-edge rule is per-document, not per-family (two different versions in
// the same family may legitimately both reference the same external family).
func ValidateNewEdge(ctx context.Context, edges EdgeProvider, fromDoc, toDoc, fromFamily, toFamily string) error {
	if fromDoc == toDoc {
		return ErrSelfEdge
	}
	if fromFamily == toFamily {
		// Same family, different versions: not a self-edge, but also not a
		// cross-family dependency; callers use SUPERSEDES for this case.
		return nil
	}
	// Layer 3: DFS from the target family; if the source family is
	// reachable, inserting the edge would close a cycle.
	reachable, path, err := reachableFamilies(ctx, edges, toFamily, fromFamily)
	if err != nil {
		return fmt.Errorf("cycle check: %w", err)
	}
	if reachable {
		return &ErrCircularDependency{FromFamily: fromFamily, ToFamily: toFamily, Path: path}
	}
	return nil
}

// reachableFamilies performs an iterative DFS over active family edges
// starting at start, reporting whether target is reachable and the path
// taken to reach it (for error messages).
func reachableFamilies(ctx context.Context, edges EdgeProvider, start, target string) (bool, []string, error) {
	type frame struct {
		family string
		path   []string
	}
	visited := map[string]bool{start: true}
	stack := []frame{{family: start, path: []string{start}}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.family == target {
			return true, cur.path, nil
		}

		next, err := edges.ActiveFamilyEdges(ctx, cur.family)
		if err != nil {
			return false, nil, err
		}
		for _, n := range next {
			if visited[n] {
				continue
			}
			visited[n] = true
			newPath := make([]string, len(cur.path), len(cur.path)+1)
			copy(newPath, cur.path)
			newPath = append(newPath, n)
			stack = append(stack, frame{family: n, path: newPath})
		}
	}
	return false, nil, nil
}

// CycleReport is the output of the periodic system audit (layer 4). It
// should always be empty; any populated cycle is a data-integrity incident.
type CycleReport struct {
	Cycles [][]string
}

// DetectAllCycles walks every family in families and reports any cycle
// found among active edges. Used by the scheduler's daily integrity task,
// not by the hot insert path (which only needs to check one candidate edge).
//
// Like reachableFamilies above, the DFS is iterative: an explicit frame
// stack carries the traversal state and `path` mirrors the gray (on-stack)
// chain, so graph depth never translates into call-stack depth. Gray nodes
// are exactly the members of `path`; hitting one through an edge is a back
// edge, i.e. a cycle.
func DetectAllCycles(ctx context.Context, edges EdgeProvider, families []string) (*CycleReport, error) {
	report := &CycleReport{}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(families))
	for _, f := range families {
		color[f] = white
	}

	type frame struct {
		family string
		next   []string
		idx    int
	}

	for _, root := range families {
		if color[root] != white {
			continue
		}
		rootNext, err := edges.ActiveFamilyEdges(ctx, root)
		if err != nil {
			return nil, err
		}
		color[root] = gray
		stack := []frame{{family: root, next: rootNext}}
		path := []string{root}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.idx >= len(top.next) {
				// All edges explored: the node leaves the gray chain.
				color[top.family] = black
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}
			n := top.next[top.idx]
			top.idx++
			switch color[n] {
			case gray:
				cycle := append(append([]string{}, path...), n)
				report.Cycles = append(report.Cycles, cycle)
			case white:
				childNext, err := edges.ActiveFamilyEdges(ctx, n)
				if err != nil {
					return nil, err
				}
				color[n] = gray
				stack = append(stack, frame{family: n, next: childNext})
				path = append(path, n)
			}
		}
	}
	return report, nil
}

// CriticalDependencyStatus is the subset of document status that satisfies
// a critical dependency's gating requirement (§4.3.3).
var CriticalDependencyStatus = map[types.Status]bool{
	types.StatusEffective:                true,
	types.StatusApprovedPendingEffective: true,
}

// UnmetCriticalDependency describes one outbound critical edge whose target
// does not yet satisfy the gating requirement.
type UnmetCriticalDependency struct {
	Dependency   *types.DocumentDependency
	TargetStatus types.Status
}

// CheckCriticalDependencies validates every active, is_critical=true
// outbound dependency of doc against the target document statuses supplied
// in targetStatus (keyed by the dependency's ToDocument id, already resolved
// by the caller via the family resolver where needed). It returns the full
// set of unmet dependencies so the engine can report all offenders at once,
// not just the first.
func CheckCriticalDependencies(deps []*types.DocumentDependency, targetStatus map[string]types.Status) []UnmetCriticalDependency {
	var unmet []UnmetCriticalDependency
	for _, d := range deps {
		if !d.IsActive || !d.IsCritical {
			continue
		}
		status, ok := targetStatus[d.ToDocument]
		if !ok || !CriticalDependencyStatus[status] {
			unmet = append(unmet, UnmetCriticalDependency{Dependency: d, TargetStatus: status})
		}
	}
	return unmet
}
