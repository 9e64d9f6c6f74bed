package memtable

import (
	"container/list" // For LRU
	"errors"
	"fmt"
	"sync"

	flushmanager "github.com/sushant-115/gojospatial/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojospatial/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// BufferPoolManager manages in-memory pages (frames) and interacts with the
// DiskManager. It implements a simple LRU (Least Recently Used) eviction
// policy. Page allocation policy is owned by the caller: pages are addressed
// by ID and materialized on first write.
type BufferPoolManager struct {
	diskManager *flushmanager.DiskManager
	poolSize    int
	pages       []*pagemanager.Page        // Page frames
	pageTable   map[pagemanager.PageID]int // PageID to frame index
	lruList     *list.List                 // Doubly linked list for LRU tracking (stores frame indices)
	lruMap      map[int]*list.Element      // Frame index to LRU list element
	mu          sync.Mutex
	pageSize    int
	logger      *zap.Logger
}

// NewBufferPoolManager creates and initializes a new BufferPoolManager.
func NewBufferPoolManager(poolSize int, diskManager *flushmanager.DiskManager, logger *zap.Logger) (*BufferPoolManager, error) {
	if diskManager == nil {
		return nil, errors.New("NewBufferPoolManager: diskManager cannot be nil")
	}
	if poolSize < 1 {
		return nil, fmt.Errorf("NewBufferPoolManager: pool size must be positive, got %d", poolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bpm := &BufferPoolManager{
		diskManager: diskManager,
		poolSize:    poolSize,
		pages:       make([]*pagemanager.Page, poolSize),
		pageTable:   make(map[pagemanager.PageID]int),
		lruList:     list.New(),
		lruMap:      make(map[int]*list.Element),
		pageSize:    diskManager.GetPageSize(),
		logger:      logger,
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.InvalidPageID, bpm.pageSize)
	}
	logger.Debug("buffer pool initialized",
		zap.Int("pool_size", poolSize),
		zap.Int("page_size", bpm.pageSize))
	return bpm, nil
}

// FetchPage retrieves a page from the buffer pool. If not present, it reads it
// from disk. It pins the page and moves it to the front of the LRU list.
// Fetching a page that was never written returns flushmanager.ErrPageNotFound.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.fetchPageInternal(pageID, true)
}

// FetchPageForWrite behaves like FetchPage but materializes a zeroed frame
// when the page does not exist on disk yet, instead of failing. The caller is
// expected to overwrite the frame content and unpin it dirty.
func (bpm *BufferPoolManager) FetchPageForWrite(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.fetchPageInternal(pageID, false)
}

func (bpm *BufferPoolManager) fetchPageInternal(pageID pagemanager.PageID, mustExist bool) (*pagemanager.Page, error) {
	// 1. Check if page is already in the buffer pool
	if frameIdx, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameIdx]
		page.Pin()
		if page.GetLruElement() != nil {
			bpm.lruList.MoveToFront(page.GetLruElement())
		}
		return page, nil
	}

	// 2. Page not in pool, find a victim frame to replace
	frameIdx, err := bpm.getVictimFrameInternal()
	if err != nil {
		return nil, err
	}
	victimPage := bpm.pages[frameIdx]

	// 3. If victim page is dirty, flush it to disk
	if victimPage.IsDirty() && victimPage.GetPageID() != pagemanager.InvalidPageID {
		bpm.logger.Debug("flushing dirty victim page",
			zap.Uint64("page_id", uint64(victimPage.GetPageID())),
			zap.Int("frame", frameIdx))
		if err := bpm.diskManager.WritePage(victimPage.GetPageID(), victimPage.GetData()); err != nil {
			// If flush fails, we cannot reuse this frame safely.
			return nil, fmt.Errorf("failed to flush dirty victim page %d: %w", victimPage.GetPageID(), err)
		}
		victimPage.SetDirty(false)
	}

	// 4. Remove victim page from pageTable and LRU list
	if victimPage.GetPageID() != pagemanager.InvalidPageID {
		delete(bpm.pageTable, victimPage.GetPageID())
		if victimPage.GetLruElement() != nil {
			bpm.lruList.Remove(victimPage.GetLruElement())
			delete(bpm.lruMap, frameIdx)
		}
	}

	// 5. Reset victim page for new content
	victimPage.Reset()

	// 6. Load page data from disk, or hand out a zeroed frame for a new page
	if err := bpm.diskManager.ReadPage(pageID, victimPage.GetData()); err != nil {
		if !mustExist && errors.Is(err, flushmanager.ErrPageNotFound) {
			// New page: frame stays zeroed and the caller will fill it in.
		} else {
			return nil, err
		}
	}

	// 7. Update page metadata and track in buffer pool
	victimPage.SetPageID(pageID)
	victimPage.SetPinCount(1)
	victimPage.SetDirty(false)

	bpm.pageTable[pageID] = frameIdx
	victimPage.SetLruElement(bpm.lruList.PushFront(frameIdx))
	bpm.lruMap[frameIdx] = victimPage.GetLruElement()
	return victimPage, nil
}

// getVictimFrameInternal finds an unpinned page to evict.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) getVictimFrameInternal() (int, error) {
	// Prefer a completely free frame (never used, or reset)
	for i := 0; i < bpm.poolSize; i++ {
		if bpm.pages[i].GetPageID() == pagemanager.InvalidPageID {
			return i, nil
		}
	}

	// Otherwise scan the LRU list from the least recently used end
	for e := bpm.lruList.Back(); e != nil; e = e.Prev() {
		frameIdx := e.Value.(int)
		if bpm.pages[frameIdx].GetPinCount() == 0 {
			return frameIdx, nil
		}
	}

	return -1, flushmanager.ErrBufferPoolFull
}

// UnpinPage decrements the pin count for a page. If isDirty is true, it marks
// the page as dirty so eviction and FlushAllPages will write it back.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to unpin", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() == 0 {
		return fmt.Errorf("cannot unpin page %d with pin count 0", pageID)
	}
	page.Unpin()
	if isDirty {
		page.SetDirty(true)
	}
	return nil
}

// FlushPage flushes a specific page to disk if it is dirty.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to flush", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if !page.IsDirty() {
		return nil
	}
	if err := bpm.diskManager.WritePage(page.GetPageID(), page.GetData()); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", pageID, err)
	}
	page.SetDirty(false)
	return nil
}

// FlushAllPages flushes all dirty pages in the buffer pool to disk, then
// syncs the disk manager so the writes are durable.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	var firstErr error
	for i, page := range bpm.pages {
		if page.GetPageID() != pagemanager.InvalidPageID && page.IsDirty() {
			if err := bpm.diskManager.WritePage(page.GetPageID(), page.GetData()); err != nil {
				bpm.logger.Error("failed to flush page",
					zap.Uint64("page_id", uint64(page.GetPageID())),
					zap.Int("frame", i),
					zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			page.SetDirty(false)
		}
	}
	if err := bpm.diskManager.Sync(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (bpm *BufferPoolManager) GetPageSize() int { return bpm.pageSize }
