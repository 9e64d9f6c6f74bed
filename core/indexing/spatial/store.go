package spatial

import (
	"errors"
	"fmt"
	"sync"
)

// --- Error Definitions ---

var (
	ErrInvalidConfiguration = errors.New("invalid r-tree configuration")
	ErrDimensionMismatch    = errors.New("geometry dimensionality does not match index")
	ErrNodeNotFound         = errors.New("node not found in store")
	ErrHeaderNotFound       = errors.New("index header not found")
	ErrInconsistent         = errors.New("index consistency violation")
)

// NodeStore is the page store contract consumed by the R-tree. The tree owns
// node id allocation; a store only persists and retrieves node content by id.
// Get must fail with ErrNodeNotFound for ids it has never seen, and
// ReadHeader with ErrHeaderNotFound on a fresh backend.
type NodeStore interface {
	Get(id NodeID) (*Node, error)
	Put(id NodeID, n *Node) error
	ReadHeader() ([]byte, error)
	WriteHeader(data []byte) error
	Flush() error
	Close() error
}

// MemoryStore is a map-backed NodeStore. Nodes are deep-copied on both Get
// and Put so callers never alias store-owned state, mirroring the read/write
// boundary a paged backend imposes.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[NodeID]*Node
	header []byte
}

// NewMemoryStore creates an empty in-memory node store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[NodeID]*Node)}
}

func (s *MemoryStore) Get(id NodeID) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %d", ErrNodeNotFound, id)
	}
	return n.clone(), nil
}

func (s *MemoryStore) Put(id NodeID, n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = n.clone()
	return nil
}

func (s *MemoryStore) ReadHeader() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.header == nil {
		return nil, ErrHeaderNotFound
	}
	out := make([]byte, len(s.header))
	copy(out, s.header)
	return out, nil
}

func (s *MemoryStore) WriteHeader(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = make([]byte, len(data))
	copy(s.header, data)
	return nil
}

func (s *MemoryStore) Flush() error { return nil }

func (s *MemoryStore) Close() error { return nil }

// NumNodes returns the number of nodes currently held by the store.
func (s *MemoryStore) NumNodes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
