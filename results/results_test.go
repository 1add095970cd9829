package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact_DropsRootsWithoutPaths(t *testing.T) {
	r := New([]LeakRoot{{ID: 0}, {ID: 1, Paths: []HeapPath{{"window", "a"}}}})
	out := r.Compact()
	roots := out.LeakRoots()
	require.Len(t, roots, 1)
	assert.Equal(t, 1, roots[0].ID)
}

func TestCompact_Idempotent(t *testing.T) {
	r := New([]LeakRoot{{ID: 2, Paths: []HeapPath{{"a"}}}})
	r.AddStack(2, Stack{Frames: []ResolvedFrame{{File: "x.js", Line: 1, Column: 2}}})
	r.AddStack(2, Stack{Frames: []ResolvedFrame{{File: "x.js", Line: 1, Column: 2}}}) // duplicate
	once := r.Compact()
	twice := once.Compact()
	assert.Equal(t, once.LeakRoots(), twice.LeakRoots())
	require.Len(t, once.LeakRoots()[0].Stacks, 1) // deduplicated
}

func TestToPathTree_MergesSharedPrefixes(t *testing.T) {
	roots := []LeakRoot{
		{ID: 0, Paths: []HeapPath{{"window", "app", "a"}}},
		{ID: 1, Paths: []HeapPath{{"window", "app", "b"}}},
	}
	tree := ToPathTree(roots)
	appNode := tree.Children["window"].Children["app"]
	require.NotNil(t, appNode)
	require.Len(t, appNode.Children, 2)
	assert.Equal(t, []int{0}, appNode.Children["a"].RootIDs)
	assert.Equal(t, []int{1}, appNode.Children["b"].RootIDs)
}

func TestToPathTree_Empty(t *testing.T) {
	tree := ToPathTree(nil)
	assert.Empty(t, tree.Children)
	assert.Empty(t, tree.RootIDs)
}
