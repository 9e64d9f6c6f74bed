package spatial

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newMemoryTree opens a 2D tree with the given fan-out over a fresh
// MemoryStore.
func newMemoryTree(t *testing.T, maxEntries, minEntries int) *RTree {
	t.Helper()
	tree, err := Open(NewMemoryStore(), Config{
		MinNodeEntries: minEntries,
		MaxNodeEntries: maxEntries,
		Dimensions:     2,
	}, zap.NewNop())
	require.NoError(t, err)
	return tree
}

// unitRect returns the unit square with its lower corner at (x, y).
func unitRect(t *testing.T, x, y float64) Rect {
	t.Helper()
	return mustRect(t, []float64{x, y}, []float64{x + 1, y + 1})
}

// everything is a query window covering all rectangles used by the tests.
func everything(t *testing.T) Rect {
	t.Helper()
	return mustRect(t, []float64{-1e6, -1e6}, []float64{1e6, 1e6})
}

func TestOpen_ValidatesConfiguration(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"max too small", Config{MinNodeEntries: 1, MaxNodeEntries: 1, Dimensions: 2}},
		{"min zero", Config{MinNodeEntries: 0, MaxNodeEntries: 4, Dimensions: 2}},
		{"min above half of max", Config{MinNodeEntries: 3, MaxNodeEntries: 4, Dimensions: 2}},
		{"negative dimensions", Config{MinNodeEntries: 2, MaxNodeEntries: 4, Dimensions: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(NewMemoryStore(), tc.cfg, zap.NewNop())
			require.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestOpen_EmptyTree(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	require.EqualValues(t, 0, tree.Size())
	require.EqualValues(t, 1, tree.Height())

	_, ok, err := tree.Bounds()
	require.NoError(t, err)
	require.False(t, ok, "empty index has no bounds")

	entries, err := tree.Intersects(everything(t))
	require.NoError(t, err)
	require.Empty(t, entries)

	entries, err = tree.Nearest(Point{0, 0}, math.Inf(1))
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, tree.CheckConsistency())
}

// TestAdd_SplitGrowsTree exercises the first overflow of a small tree: five
// disjoint unit squares with a fan-out of four force exactly one leaf split
// and a new root.
func TestAdd_SplitGrowsTree(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Add(int64(i+1), unitRect(t, float64(i*3), 0)))
	}

	require.EqualValues(t, 5, tree.Size())
	require.EqualValues(t, 2, tree.Height())

	it, err := tree.NewLevelIterator(2)
	require.NoError(t, err)
	root, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, root)
	require.Equal(t, 2, root.NumEntries(), "root holds exactly the two split halves")
	next, err := it.Next()
	require.NoError(t, err)
	require.Nil(t, next, "only one node at the root level")

	it, err = tree.NewLevelIterator(1)
	require.NoError(t, err)
	total, leaves := 0, 0
	for {
		n, err := it.Next()
		require.NoError(t, err)
		if n == nil {
			break
		}
		leaves++
		require.GreaterOrEqual(t, n.NumEntries(), 2)
		require.LessOrEqual(t, n.NumEntries(), 4)
		total += n.NumEntries()
	}
	require.Equal(t, 2, leaves)
	require.Equal(t, 5, total)

	require.NoError(t, tree.CheckConsistency())

	entries, err := tree.Intersects(everything(t))
	require.NoError(t, err)
	require.Len(t, entries, 5)
}

func TestAdd_RejectsDimensionMismatch(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	bad, err := NewRect([]float64{0, 0, 0}, []float64{1, 1, 1})
	require.NoError(t, err)
	require.ErrorIs(t, tree.Add(1, bad), ErrDimensionMismatch)
	require.EqualValues(t, 0, tree.Size())
}

func TestBounds_CoversAllEntries(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	require.NoError(t, tree.Add(1, mustRect(t, []float64{-2, 0}, []float64{-1, 1})))
	require.NoError(t, tree.Add(2, mustRect(t, []float64{5, 3}, []float64{7, 9})))

	bounds, ok, err := tree.Bounds()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, bounds.Equal(mustRect(t, []float64{-2, 0}, []float64{7, 9})))
}

// TestHeaderRoundTrip persists the tree header and reopens the same store,
// expecting the loaded tree to serve identical results.
func TestHeaderRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	tree, err := Open(store, Config{MinNodeEntries: 2, MaxNodeEntries: 4, Dimensions: 2}, zap.NewNop())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		require.NoError(t, tree.Add(int64(i), unitRect(t, float64(i%5)*2, float64(i/5)*2)))
	}
	require.NoError(t, tree.Save())

	// Reopen with a deliberately different fan-out; the persisted header
	// must win so the on-store geometry stays valid.
	reopened, err := Open(store, Config{MinNodeEntries: 4, MaxNodeEntries: 16, Dimensions: 2}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 4, reopened.Config().MaxNodeEntries)
	require.Equal(t, 2, reopened.Config().MinNodeEntries)
	require.Equal(t, tree.Size(), reopened.Size())
	require.Equal(t, tree.Height(), reopened.Height())

	entries, err := reopened.Intersects(everything(t))
	require.NoError(t, err)
	require.Len(t, entries, 20)
	require.NoError(t, reopened.CheckConsistency())
}

// TestRandomizedInsertDelete drives the tree through a large randomized
// workload, checking the structural invariants and result sets along the way.
func TestRandomizedInsertDelete(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree := newMemoryTree(t, 8, 4)

	rects := make(map[int64]Rect)
	for i := int64(0); i < 300; i++ {
		x := rng.Float64() * 100
		y := rng.Float64() * 100
		r := mustRect(t, []float64{x, y}, []float64{x + rng.Float64()*5, y + rng.Float64()*5})
		require.NoError(t, tree.Add(i, r))
		rects[i] = r
	}
	require.EqualValues(t, 300, tree.Size())
	require.NoError(t, tree.CheckConsistency())

	// Every indexed entry must be reachable through a window query.
	entries, err := tree.Intersects(everything(t))
	require.NoError(t, err)
	require.Len(t, entries, 300)

	// Containment results are always a subset of intersection results.
	for i := 0; i < 10; i++ {
		x := rng.Float64() * 100
		y := rng.Float64() * 100
		window := mustRect(t, []float64{x, y}, []float64{x + 20, y + 20})

		inter, err := tree.Intersects(window)
		require.NoError(t, err)
		interIDs := make(map[int64]bool, len(inter))
		for _, e := range inter {
			interIDs[e.ID] = true
		}

		contained, err := tree.Contains(window)
		require.NoError(t, err)
		for _, e := range contained {
			require.True(t, interIDs[e.ID], "contained entry %d missing from intersection results", e.ID)
			require.True(t, window.Contains(rects[e.ID]))
		}
	}

	// Delete half the entries in random order.
	var ids []int64
	for id := range rects {
		ids = append(ids, id)
	}
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	for _, id := range ids[:150] {
		found, err := tree.Delete(rects[id], id)
		require.NoError(t, err)
		require.True(t, found, "entry %d should exist", id)
		delete(rects, id)
	}
	require.EqualValues(t, 150, tree.Size())
	require.NoError(t, tree.CheckConsistency())

	entries, err = tree.Intersects(everything(t))
	require.NoError(t, err)
	require.Len(t, entries, 150)
	for _, e := range entries {
		want, ok := rects[e.ID]
		require.True(t, ok, "deleted entry %d still reachable", e.ID)
		require.True(t, want.Equal(e.Rect))
	}
}
