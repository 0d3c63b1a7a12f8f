package depgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEdges map[string][]string

func (f fakeEdges) ActiveFamilyEdges(_ context.Context, familyKey string) ([]string, error) {
	return f[familyKey], nil
}

func TestValidateNewEdgeRejectsSelfEdge(t *testing.T) {
	err := ValidateNewEdge(context.Background(), fakeEdges{}, "doc-1", "doc-1", "fam-a", "fam-a")
	require.ErrorIs(t, err, ErrSelfEdge)
}

func TestValidateNewEdgeAllowsSameFamilyDifferentVersions(t *testing.T) {
	err := ValidateNewEdge(context.Background(), fakeEdges{}, "doc-1", "doc-2", "fam-a", "fam-a")
	require.NoError(t, err)
}

func TestValidateNewEdgeRejects3HopCycle(t *testing.T) {
	// fam-a -> fam-b -> fam-c already exists. Adding fam-c -> fam-a would close the loop.
	edges := fakeEdges{
		"fam-a": {"fam-b"},
		"fam-b": {"fam-c"},
	}
	err := ValidateNewEdge(context.Background(), edges, "doc-c1", "doc-a1", "fam-c", "fam-a")
	require.Error(t, err)
	var cycleErr *ErrCircularDependency
	require.ErrorAs(t, err, &cycleErr)
}

func TestValidateNewEdgeAllowsAcyclicInsert(t *testing.T) {
	edges := fakeEdges{
		"fam-a": {"fam-b"},
	}
	err := ValidateNewEdge(context.Background(), edges, "doc-a1", "doc-c1", "fam-a", "fam-c")
	require.NoError(t, err)
}

func TestDetectAllCyclesFindsNothingOnAcyclicGraph(t *testing.T) {
	edges := fakeEdges{
		"fam-a": {"fam-b"},
		"fam-b": {"fam-c"},
	}
	report, err := DetectAllCycles(context.Background(), edges, []string{"fam-a", "fam-b", "fam-c"})
	require.NoError(t, err)
	require.Empty(t, report.Cycles)
}

func TestDetectAllCyclesFindsInjectedCycle(t *testing.T) {
	edges := fakeEdges{
		"fam-a": {"fam-b"},
		"fam-b": {"fam-c"},
		"fam-c": {"fam-a"},
	}
	report, err := DetectAllCycles(context.Background(), edges, []string{"fam-a", "fam-b", "fam-c"})
	require.NoError(t, err)
	require.NotEmpty(t, report.Cycles)
}
