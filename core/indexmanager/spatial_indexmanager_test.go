package indexmanager

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
)

func newTestManager(t *testing.T) *SpatialIndexManager {
	t.Helper()
	tree, err := spatial.Open(spatial.NewMemoryStore(), spatial.Config{
		MinNodeEntries: 2,
		MaxNodeEntries: 4,
		Dimensions:     2,
	}, zap.NewNop())
	require.NoError(t, err)

	mgr, err := NewSpatialIndexManager(tree, zap.NewNop(), noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return mgr
}

func rect(t *testing.T, minX, minY, maxX, maxY float64) spatial.Rect {
	t.Helper()
	r, err := spatial.NewRect([]float64{minX, minY}, []float64{maxX, maxY})
	require.NoError(t, err)
	return r
}

func TestManager_InsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	require.NoError(t, mgr.Insert(ctx, 1, rect(t, 0, 0, 1, 1)))
	require.NoError(t, mgr.Insert(ctx, 2, rect(t, 5, 5, 6, 6)))
	require.EqualValues(t, 2, mgr.Size())

	entries, err := mgr.Search(ctx, rect(t, 0.5, 0.5, 2, 2))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 1, entries[0].ID)

	entries, err = mgr.Within(ctx, rect(t, 4, 4, 7, 7))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 2, entries[0].ID)

	entries, err = mgr.Nearest(ctx, spatial.Point{5.5, 5.5}, math.Inf(1))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, 2, entries[0].ID)

	found, err := mgr.Delete(ctx, 1, rect(t, 0, 0, 1, 1))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, mgr.Size())
	require.NoError(t, mgr.CheckConsistency())
}

func TestManager_BoundsAndClose(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	_, ok, err := mgr.Bounds()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.Insert(ctx, 1, rect(t, 1, 2, 3, 4)))
	bounds, ok, err := mgr.Bounds()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, bounds.Equal(rect(t, 1, 2, 3, 4)))

	require.NoError(t, mgr.Save())
	require.NoError(t, mgr.Close())
}

// TestManager_ConcurrentReaders runs window queries from many goroutines
// against a fixed index. Failures here surface as data races under -race.
func TestManager_ConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	for i := int64(0); i < 50; i++ {
		x := float64(i%10) * 2
		y := float64(i/10) * 2
		require.NoError(t, mgr.Insert(ctx, i, rect(t, x, y, x+1, y+1)))
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				entries, err := mgr.Search(ctx, rect(t, -1, -1, 100, 100))
				require.NoError(t, err)
				require.Len(t, entries, 50)
			}
		}()
	}
	wg.Wait()
}
