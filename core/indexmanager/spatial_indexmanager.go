// Package indexmanager wraps a spatial.RTree behind an exclusive lock so the
// index can be shared by concurrent callers, and reports operation counters
// through OpenTelemetry.
package indexmanager

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
)

// SpatialIndexManager serializes all mutating operations on the underlying
// R-tree. Read-only queries share a read lock; the tree keeps its scratch
// state call-local, so concurrent readers are safe as long as the node store
// supports concurrent reads.
type SpatialIndexManager struct {
	tree   *spatial.RTree
	logger *zap.Logger
	mu     sync.RWMutex

	insertCount metric.Int64Counter
	deleteCount metric.Int64Counter
	queryCount  metric.Int64Counter
}

// NewSpatialIndexManager wraps an opened tree. The meter may come from
// pkg/telemetry; a no-op meter works for tests.
func NewSpatialIndexManager(tree *spatial.RTree, logger *zap.Logger, meter metric.Meter) (*SpatialIndexManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SpatialIndexManager{
		tree:   tree,
		logger: logger,
	}

	var err error
	if m.insertCount, err = meter.Int64Counter("gojospatial.index.inserts",
		metric.WithDescription("Number of entries inserted into the spatial index")); err != nil {
		return nil, fmt.Errorf("failed to create insert counter: %w", err)
	}
	if m.deleteCount, err = meter.Int64Counter("gojospatial.index.deletes",
		metric.WithDescription("Number of entries removed from the spatial index")); err != nil {
		return nil, fmt.Errorf("failed to create delete counter: %w", err)
	}
	if m.queryCount, err = meter.Int64Counter("gojospatial.index.queries",
		metric.WithDescription("Number of spatial queries served")); err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}
	return m, nil
}

// Insert adds a data entry to the index.
func (m *SpatialIndexManager) Insert(ctx context.Context, id int64, rect spatial.Rect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.tree.Add(id, rect); err != nil {
		return fmt.Errorf("failed to insert entry %d: %w", id, err)
	}
	m.insertCount.Add(ctx, 1)
	m.logger.Debug("inserted spatial entry", zap.Int64("id", id))
	return nil
}

// Delete removes the entry exactly matching (id, rect). It returns true when
// an entry was found and removed.
func (m *SpatialIndexManager) Delete(ctx context.Context, id int64, rect spatial.Rect) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found, err := m.tree.Delete(rect, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete entry %d: %w", id, err)
	}
	if found {
		m.deleteCount.Add(ctx, 1)
	}
	return found, nil
}

// Search returns all entries intersecting the query rectangle.
func (m *SpatialIndexManager) Search(ctx context.Context, rect spatial.Rect) ([]spatial.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.queryCount.Add(ctx, 1)
	return m.tree.Intersects(rect)
}

// Within returns all entries fully contained by the query rectangle.
func (m *SpatialIndexManager) Within(ctx context.Context, rect spatial.Rect) ([]spatial.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.queryCount.Add(ctx, 1)
	return m.tree.Contains(rect)
}

// Nearest returns the entries closest to p within maxDistance.
func (m *SpatialIndexManager) Nearest(ctx context.Context, p spatial.Point, maxDistance float64) ([]spatial.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.queryCount.Add(ctx, 1)
	return m.tree.Nearest(p, maxDistance)
}

// Size returns the number of entries in the index.
func (m *SpatialIndexManager) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Size()
}

// Bounds returns the MBR of the whole index; ok is false when it is empty.
func (m *SpatialIndexManager) Bounds() (spatial.Rect, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Bounds()
}

// CheckConsistency runs the tree's structural verifier.
func (m *SpatialIndexManager) CheckConsistency() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.CheckConsistency()
}

// Save persists the tree header.
func (m *SpatialIndexManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Save()
}

// Close flushes the store and persists the header.
func (m *SpatialIndexManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Close()
}
