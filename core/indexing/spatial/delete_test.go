package spatial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDelete_RemovesExactMatchOnly(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	r := unitRect(t, 0, 0)
	require.NoError(t, tree.Add(1, r))

	// Same rectangle, wrong id.
	found, err := tree.Delete(r, 2)
	require.NoError(t, err)
	require.False(t, found)

	// Same id, different rectangle.
	found, err = tree.Delete(unitRect(t, 10, 10), 1)
	require.NoError(t, err)
	require.False(t, found)

	require.EqualValues(t, 1, tree.Size())
	require.NoError(t, tree.CheckConsistency())

	found, err = tree.Delete(r, 1)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 0, tree.Size())

	entries, err := tree.Intersects(everything(t))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDelete_MissingEntryLeavesTreeUnchanged(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	for i := 0; i < 12; i++ {
		require.NoError(t, tree.Add(int64(i), unitRect(t, float64(i*2), 0)))
	}
	sizeBefore := tree.Size()
	heightBefore := tree.Height()

	found, err := tree.Delete(unitRect(t, 500, 500), 99)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, sizeBefore, tree.Size())
	require.Equal(t, heightBefore, tree.Height())
	require.NoError(t, tree.CheckConsistency())
}

// TestDelete_AfterSplit replays the five-square overflow scenario and removes
// one entry from the grown tree.
func TestDelete_AfterSplit(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Add(int64(i+1), unitRect(t, float64(i*3), 0)))
	}

	found, err := tree.Delete(unitRect(t, 6, 0), 3)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 4, tree.Size())
	require.NoError(t, tree.CheckConsistency())

	entries, err := tree.Intersects(everything(t))
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		require.NotEqual(t, int64(3), e.ID)
	}
}

// TestDelete_CondensationReinsertsOrphans shrinks leaves below the minimum
// fan-out so condensation has to detach them and reinsert their survivors.
func TestDelete_CondensationReinsertsOrphans(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	rects := make(map[int64]Rect)
	for i := int64(0); i < 20; i++ {
		r := unitRect(t, float64(i%5)*3, float64(i/5)*3)
		require.NoError(t, tree.Add(i, r))
		rects[i] = r
	}
	require.Greater(t, tree.Height(), int32(1))

	// Delete in insertion order; clustered leaves repeatedly underflow.
	for i := int64(0); i < 15; i++ {
		found, err := tree.Delete(rects[i], i)
		require.NoError(t, err)
		require.True(t, found, "entry %d should exist", i)
		delete(rects, i)
		require.NoError(t, tree.CheckConsistency())
	}
	require.EqualValues(t, 5, tree.Size())

	entries, err := tree.Intersects(everything(t))
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for _, e := range entries {
		want, ok := rects[e.ID]
		require.True(t, ok)
		require.True(t, want.Equal(e.Rect))
	}
}

// TestDelete_RootShrinks drains a two-level tree until a single leaf can hold
// the remainder, expecting the root to collapse back to height one.
func TestDelete_RootShrinks(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Add(int64(i+1), unitRect(t, float64(i*3), 0)))
	}
	require.EqualValues(t, 2, tree.Height())

	// Two leaves need at least four entries between them, so at three
	// entries the tree cannot stay at height two.
	for i := 0; i < 2; i++ {
		found, err := tree.Delete(unitRect(t, float64(i*3), 0), int64(i+1))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.EqualValues(t, 3, tree.Size())
	require.EqualValues(t, 1, tree.Height())
	require.NoError(t, tree.CheckConsistency())

	entries, err := tree.Intersects(everything(t))
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

// TestDelete_NodeIDReuse frees node ids through condensation and expects
// subsequent splits to reclaim them instead of growing the id space.
func TestDelete_NodeIDReuse(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, tree.Add(i, unitRect(t, float64(i*3), 0)))
	}
	for i := int64(0); i < 10; i++ {
		found, err := tree.Delete(unitRect(t, float64(i*3), 0), i)
		require.NoError(t, err)
		require.True(t, found)
	}
	highWater := tree.highestUsedNodeID

	for i := int64(0); i < 10; i++ {
		require.NoError(t, tree.Add(i, unitRect(t, float64(i*3), 0)))
	}
	require.LessOrEqual(t, tree.highestUsedNodeID, highWater,
		"rebuilding an equal-sized tree should reuse freed node ids")
	require.NoError(t, tree.CheckConsistency())
}
