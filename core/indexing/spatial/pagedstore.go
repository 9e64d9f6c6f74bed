package spatial

import (
	"encoding/binary"
	"errors"
	"fmt"

	flushmanager "github.com/sushant-115/gojospatial/core/write_engine/flush_manager"
	"github.com/sushant-115/gojospatial/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojospatial/core/write_engine/page_manager"
	"go.uber.org/zap"
)

const (
	// indexHeaderPageID is the page holding the serialized tree header.
	// Page 0 belongs to the DiskManager's file header.
	indexHeaderPageID pagemanager.PageID = 1

	// DefaultPoolSize is the buffer pool capacity used when none is given.
	DefaultPoolSize = 128
)

// PagedStore is a NodeStore that persists one node per fixed-size page in a
// single database file, with reads and writes going through an LRU buffer
// pool. Node n lives at page n+1; page 1 holds the tree header.
type PagedStore struct {
	dm         *flushmanager.DiskManager
	bpm        *memtable.BufferPoolManager
	maxEntries int
	logger     *zap.Logger
	fresh      bool
}

// NewPagedStore opens or creates the database file at path. maxEntries bounds
// node fan-out and is used to validate that a full node fits in one page.
func NewPagedStore(path string, poolSize, maxEntries, dimensions int, logger *zap.Logger) (*PagedStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	// A full node must fit in a single page: 16 bytes of node header plus
	// id + min/max coordinates per entry.
	nodeSize := 16 + maxEntries*(8+16*dimensions)
	if nodeSize > flushmanager.DefaultPageSize {
		return nil, fmt.Errorf("%w: %d entries of %d dimensions need %d bytes, page size is %d",
			ErrInvalidConfiguration, maxEntries, dimensions, nodeSize, flushmanager.DefaultPageSize)
	}

	dm, err := flushmanager.NewDiskManager(path, flushmanager.DefaultPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk manager: %w", err)
	}
	created, err := dm.OpenOrCreateFile()
	if err != nil {
		return nil, fmt.Errorf("failed to open database file %s: %w", path, err)
	}
	bpm, err := memtable.NewBufferPoolManager(poolSize, dm, logger)
	if err != nil {
		dm.Close()
		return nil, err
	}

	logger.Info("opened paged node store",
		zap.String("path", path),
		zap.Bool("created", created),
		zap.Int("pool_size", poolSize))

	return &PagedStore{
		dm:         dm,
		bpm:        bpm,
		maxEntries: maxEntries,
		logger:     logger,
		fresh:      created,
	}, nil
}

func pageOf(id NodeID) pagemanager.PageID {
	return pagemanager.PageID(uint64(id) + 1)
}

func (s *PagedStore) Get(id NodeID) (*Node, error) {
	if id <= InvalidNodeID {
		return nil, fmt.Errorf("%w: node %d", ErrNodeNotFound, id)
	}
	page, err := s.bpm.FetchPage(pageOf(id))
	if err != nil {
		if errors.Is(err, flushmanager.ErrPageNotFound) {
			return nil, fmt.Errorf("%w: node %d", ErrNodeNotFound, id)
		}
		return nil, fmt.Errorf("failed to fetch page for node %d: %w", id, err)
	}
	n, err := deserializeNode(page.GetData(), s.maxEntries)
	if err != nil {
		s.bpm.UnpinPage(page.GetPageID(), false)
		return nil, fmt.Errorf("failed to deserialize node %d: %w", id, err)
	}
	s.bpm.UnpinPage(page.GetPageID(), false)
	if n.id != id {
		// The page exists but was never written for this node id, or holds a
		// node freed and not yet reused.
		return nil, fmt.Errorf("%w: node %d (page holds node %d)", ErrNodeNotFound, id, n.id)
	}
	return n, nil
}

func (s *PagedStore) Put(id NodeID, n *Node) error {
	if id <= InvalidNodeID {
		return fmt.Errorf("%w: cannot store node with id %d", ErrNodeNotFound, id)
	}
	data, err := n.serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize node %d: %w", id, err)
	}
	if len(data) > s.bpm.GetPageSize() {
		return fmt.Errorf("%w: node %d serializes to %d bytes, page size is %d",
			flushmanager.ErrInvalidPageData, id, len(data), s.bpm.GetPageSize())
	}
	page, err := s.bpm.FetchPageForWrite(pageOf(id))
	if err != nil {
		return fmt.Errorf("failed to fetch page for node %d: %w", id, err)
	}
	pageData := page.GetData()
	copy(pageData, data)
	// Zero the remainder so stale bytes from an evicted occupant never leak.
	for i := len(data); i < len(pageData); i++ {
		pageData[i] = 0
	}
	return s.bpm.UnpinPage(page.GetPageID(), true)
}

// ReadHeader returns the tree header bytes stored at the header page. The
// header is length-prefixed inside the page; a zero length means the store
// was never saved and ErrHeaderNotFound is returned.
func (s *PagedStore) ReadHeader() ([]byte, error) {
	if s.fresh {
		return nil, ErrHeaderNotFound
	}
	page, err := s.bpm.FetchPage(indexHeaderPageID)
	if err != nil {
		if errors.Is(err, flushmanager.ErrPageNotFound) {
			return nil, ErrHeaderNotFound
		}
		return nil, fmt.Errorf("failed to fetch index header page: %w", err)
	}
	defer s.bpm.UnpinPage(indexHeaderPageID, false)

	data := page.GetData()
	length := binary.BigEndian.Uint32(data[:4])
	if length == 0 {
		return nil, ErrHeaderNotFound
	}
	if int(length) > len(data)-4 {
		return nil, fmt.Errorf("%w: header length %d exceeds page", flushmanager.ErrInvalidPageData, length)
	}
	out := make([]byte, length)
	copy(out, data[4:4+length])
	return out, nil
}

func (s *PagedStore) WriteHeader(data []byte) error {
	page, err := s.bpm.FetchPageForWrite(indexHeaderPageID)
	if err != nil {
		return fmt.Errorf("failed to fetch index header page: %w", err)
	}
	pageData := page.GetData()
	if len(data)+4 > len(pageData) {
		s.bpm.UnpinPage(indexHeaderPageID, false)
		return fmt.Errorf("%w: header of %d bytes does not fit in page", flushmanager.ErrInvalidPageData, len(data))
	}
	binary.BigEndian.PutUint32(pageData[:4], uint32(len(data)))
	copy(pageData[4:], data)
	if err := s.bpm.UnpinPage(indexHeaderPageID, true); err != nil {
		return err
	}
	s.fresh = false
	return nil
}

// Flush writes every dirty page back to the file and syncs it.
func (s *PagedStore) Flush() error {
	return s.bpm.FlushAllPages()
}

// Close flushes all dirty pages and closes the underlying file.
func (s *PagedStore) Close() error {
	if err := s.bpm.FlushAllPages(); err != nil {
		return err
	}
	return s.dm.Close()
}
