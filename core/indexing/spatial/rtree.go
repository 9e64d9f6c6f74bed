// Package spatial implements a disk-oriented R-tree: a balanced,
// height-bounded tree of bounding rectangles supporting insertion, deletion,
// range queries and nearest-neighbour search, with nodes paged through a
// pluggable NodeStore. Splits follow Guttman's quadratic algorithm.
//
// A tree instance performs no internal locking; see the indexmanager package
// for a facade that serializes writers.
package spatial

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const (
	// DefaultMaxNodeEntries and DefaultMinNodeEntries are reasonable
	// defaults for 2D workloads.
	DefaultMaxNodeEntries = 16
	DefaultMinNodeEntries = 8

	// DefaultDimensions is the dimensionality used when the config leaves
	// it zero.
	DefaultDimensions = 2
)

// Config carries the tunable parameters of an R-tree.
type Config struct {
	// MinNodeEntries is the minimum fan-out of a non-root node.
	// Must satisfy 1 <= MinNodeEntries <= MaxNodeEntries/2.
	MinNodeEntries int `yaml:"min_node_entries"`
	// MaxNodeEntries is the maximum fan-out of any node. Must be >= 2.
	MaxNodeEntries int `yaml:"max_node_entries"`
	// Dimensions is the dimensionality of all indexed rectangles.
	Dimensions int `yaml:"dimensions"`
}

// DefaultConfig returns the default R-tree parameters.
func DefaultConfig() Config {
	return Config{
		MinNodeEntries: DefaultMinNodeEntries,
		MaxNodeEntries: DefaultMaxNodeEntries,
		Dimensions:     DefaultDimensions,
	}
}

func (c *Config) validate() error {
	if c.Dimensions == 0 {
		c.Dimensions = DefaultDimensions
	}
	if c.Dimensions < 1 {
		return fmt.Errorf("%w: dimensions must be >= 1, got %d", ErrInvalidConfiguration, c.Dimensions)
	}
	if c.MaxNodeEntries < 2 {
		return fmt.Errorf("%w: max node entries must be >= 2, got %d", ErrInvalidConfiguration, c.MaxNodeEntries)
	}
	if c.MinNodeEntries < 1 || c.MinNodeEntries > c.MaxNodeEntries/2 {
		return fmt.Errorf("%w: min node entries must be in [1, %d], got %d",
			ErrInvalidConfiguration, c.MaxNodeEntries/2, c.MinNodeEntries)
	}
	return nil
}

// RTree is the R-tree index structure. All node access goes through the
// NodeStore; the tree holds only metadata and the node-id free list.
//
// The tree is not safe for concurrent use. Operations keep their scratch
// state (descent paths, split buffers) call-local, so read-only queries are
// reentrant when the store supports concurrent reads, but mutating calls must
// be serialized by the caller.
type RTree struct {
	store  NodeStore
	logger *zap.Logger
	cfg    Config

	rootID            NodeID
	height            int32
	size              int64
	highestUsedNodeID NodeID
	freeList          []NodeID
}

// Open creates a new R-tree on a fresh store, or loads the persisted tree
// state when the store already holds a header. Configuration is validated
// eagerly and Open fails before touching the store when it is invalid.
func Open(store NodeStore, cfg Config, logger *zap.Logger) (*RTree, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &RTree{
		store:  store,
		logger: logger,
		cfg:    cfg,
	}

	headerBytes, err := store.ReadHeader()
	if err != nil {
		if !errors.Is(err, ErrHeaderNotFound) {
			return nil, fmt.Errorf("failed to read index header: %w", err)
		}
		// Fresh backend: allocate a root leaf and persist the initial state.
		root := NewNode(t.allocateNodeID(), 1, cfg.MaxNodeEntries)
		if err := store.Put(root.id, root); err != nil {
			return nil, fmt.Errorf("failed to store initial root node: %w", err)
		}
		t.rootID = root.id
		t.height = 1
		if err := t.Save(); err != nil {
			return nil, err
		}
		logger.Info("initialized new r-tree",
			zap.Int32("root_node_id", int32(t.rootID)),
			zap.Int("max_node_entries", cfg.MaxNodeEntries),
			zap.Int("min_node_entries", cfg.MinNodeEntries))
		return t, nil
	}

	if err := t.decodeHeader(headerBytes); err != nil {
		return nil, fmt.Errorf("failed to decode index header: %w", err)
	}
	logger.Info("loaded r-tree",
		zap.Int32("root_node_id", int32(t.rootID)),
		zap.Int64("size", t.size),
		zap.Int32("height", t.height),
		zap.Int32("highest_used_node_id", int32(t.highestUsedNodeID)))
	return t, nil
}

// Size returns the number of data entries in the index.
func (t *RTree) Size() int64 { return t.size }

// Height returns the current tree height (1 for a tree that is just a root
// leaf).
func (t *RTree) Height() int32 { return t.height }

// Config returns the tree parameters in effect.
func (t *RTree) Config() Config { return t.cfg }

// Bounds returns the minimum bounding rectangle of all indexed entries.
// The second return value is false when the index is empty.
func (t *RTree) Bounds() (Rect, bool, error) {
	root, err := t.fetchNode(t.rootID)
	if err != nil {
		return Rect{}, false, err
	}
	mbr, ok := root.MBR()
	if !ok {
		return Rect{}, false, nil
	}
	return mbr.Copy(), true, nil
}

// Save writes the current tree header to the store.
func (t *RTree) Save() error {
	if err := t.store.WriteHeader(t.encodeHeader()); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}
	return nil
}

// Close flushes the store and persists the header.
func (t *RTree) Close() error {
	if err := t.store.Flush(); err != nil {
		return fmt.Errorf("failed to flush node store: %w", err)
	}
	if err := t.Save(); err != nil {
		return err
	}
	if err := t.store.Close(); err != nil {
		return fmt.Errorf("failed to close node store: %w", err)
	}
	t.logger.Info("closed r-tree", zap.Int64("size", t.size))
	return nil
}

// encodeHeader serializes the persisted header record: six big-endian int32
// fields followed by a scratch byte per entry slot (the entry-status buffer
// image, all zero at rest).
func (t *RTree) encodeHeader() []byte {
	buf := new(bytes.Buffer)
	for _, v := range []int32{
		int32(t.rootID),
		int32(t.cfg.MaxNodeEntries),
		int32(t.cfg.MinNodeEntries),
		int32(t.size),
		t.height,
		int32(t.highestUsedNodeID),
	} {
		binary.Write(buf, binary.BigEndian, v)
	}
	buf.Write(make([]byte, t.cfg.MaxNodeEntries))
	return buf.Bytes()
}

// decodeHeader restores tree state from a persisted header. Stored fan-out
// parameters take precedence over the configured ones so a reopened index
// keeps the geometry it was built with.
func (t *RTree) decodeHeader(data []byte) error {
	reader := bytes.NewReader(data)
	var rootID, maxEntries, minEntries, size, height, highest int32
	for _, p := range []*int32{&rootID, &maxEntries, &minEntries, &size, &height, &highest} {
		if err := binary.Read(reader, binary.BigEndian, p); err != nil {
			return fmt.Errorf("truncated header: %w", err)
		}
	}
	if maxEntries < 2 || minEntries < 1 || minEntries > maxEntries/2 {
		return fmt.Errorf("%w: persisted fan-out bounds [%d, %d]", ErrInvalidConfiguration, minEntries, maxEntries)
	}
	if int(maxEntries) != t.cfg.MaxNodeEntries || int(minEntries) != t.cfg.MinNodeEntries {
		t.logger.Warn("configured fan-out differs from persisted header, using persisted values",
			zap.Int("configured_max", t.cfg.MaxNodeEntries),
			zap.Int32("persisted_max", maxEntries))
	}
	t.rootID = NodeID(rootID)
	t.cfg.MaxNodeEntries = int(maxEntries)
	t.cfg.MinNodeEntries = int(minEntries)
	t.size = int64(size)
	t.height = height
	t.highestUsedNodeID = NodeID(highest)
	return nil
}

// --- Node id allocation ---

// allocateNodeID returns a reclaimed id from the free list when available,
// otherwise the next unused id.
func (t *RTree) allocateNodeID() NodeID {
	if n := len(t.freeList); n > 0 {
		id := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		return id
	}
	t.highestUsedNodeID++
	return t.highestUsedNodeID
}

// freeNodeID returns a node id to the free list for reuse by the next
// allocation.
func (t *RTree) freeNodeID(id NodeID) {
	t.freeList = append(t.freeList, id)
}

// fetchNode reads a node from the store.
func (t *RTree) fetchNode(id NodeID) (*Node, error) {
	n, err := t.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch node %d: %w", id, err)
	}
	return n, nil
}

// validateRect checks that a query or data rectangle matches the index
// dimensionality.
func (t *RTree) validateRect(r Rect) error {
	if r.Dims() != t.cfg.Dimensions {
		return fmt.Errorf("%w: got %d dimensions, index has %d", ErrDimensionMismatch, r.Dims(), t.cfg.Dimensions)
	}
	return nil
}

func (t *RTree) validatePoint(p Point) error {
	if len(p) != t.cfg.Dimensions {
		return fmt.Errorf("%w: got %d dimensions, index has %d", ErrDimensionMismatch, len(p), t.cfg.Dimensions)
	}
	return nil
}
