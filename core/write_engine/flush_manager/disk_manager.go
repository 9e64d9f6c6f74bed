package flushmanager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	pagemanager "github.com/sushant-115/gojospatial/core/write_engine/page_manager"
)

// --- Configuration & Constants ---

const (
	DefaultPageSize = 4096 // Bytes

	FileHeaderPageID pagemanager.PageID = 0 // Page ID for the database file header

	DBMagic uint32 = 0x6010DB5A // GojoSpatial

	// dbFileHeaderSize must be a fixed size that matches how it's written/read.
	dbFileHeaderSize = 64
)

// DBFileHeader defines the structure of the page file header stored at page 0.
// All fields have fixed sizes so binary.Read/Write behave consistently; the
// padding array keeps the struct at exactly dbFileHeaderSize bytes.
type DBFileHeader struct {
	Magic    uint32
	Version  uint32
	PageSize uint32
	NumPages uint64
	_        [dbFileHeaderSize - (3*4 + 8)]byte
}

// DiskManager performs page-granular I/O against a single database file.
// Page 0 is reserved for the file header; callers address pages 1..N.
type DiskManager struct {
	filePath string
	file     *os.File
	pageSize int
	numPages uint64 // Total pages in the file, header page included
	mu       sync.Mutex
}

// NewDiskManager creates a DiskManager for the given file path. The file is
// not opened until OpenOrCreateFile is called.
func NewDiskManager(filePath string, pageSize int) (*DiskManager, error) {
	if pageSize < dbFileHeaderSize {
		return nil, fmt.Errorf("%w: page size %d smaller than file header", ErrInvalidPageData, pageSize)
	}
	return &DiskManager{
		filePath: filePath,
		pageSize: pageSize,
	}, nil
}

// OpenOrCreateFile opens an existing database file or creates a new one.
// It returns true if a new file was created, false if an existing file was
// opened and its header validated.
func (dm *DiskManager) OpenOrCreateFile() (created bool, err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	_, statErr := os.Stat(dm.filePath)
	if os.IsNotExist(statErr) {
		file, err := os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return false, fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file

		header := DBFileHeader{
			Magic:    DBMagic,
			Version:  1,
			PageSize: uint32(dm.pageSize),
			NumPages: 1, // Header page occupies page 0
		}
		if err := dm.writeHeader(&header); err != nil {
			dm.file.Close()
			_ = os.Remove(dm.filePath)
			return false, fmt.Errorf("failed to write initial file header: %w", err)
		}
		dm.numPages = 1
		return true, nil
	} else if statErr != nil {
		return false, fmt.Errorf("%w: stating file %s: %v", ErrIO, dm.filePath, statErr)
	}

	file, err := os.OpenFile(dm.filePath, os.O_RDWR, 0666)
	if err != nil {
		return false, fmt.Errorf("%w: opening file %s: %v", ErrIO, dm.filePath, err)
	}
	dm.file = file

	var header DBFileHeader
	if err := dm.readHeader(&header); err != nil {
		dm.file.Close()
		return false, fmt.Errorf("failed to read database file header: %w", err)
	}
	if header.Magic != DBMagic {
		dm.file.Close()
		return false, fmt.Errorf("%w: bad magic number 0x%x in %s", ErrInvalidPageData, header.Magic, dm.filePath)
	}
	if header.PageSize != uint32(dm.pageSize) {
		dm.file.Close()
		return false, fmt.Errorf("%w: file has page size %d, configured %d", ErrPageSizeMismatch, header.PageSize, dm.pageSize)
	}

	fi, err := dm.file.Stat()
	if err != nil {
		dm.file.Close()
		return false, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
	}
	dm.numPages = uint64(fi.Size()) / uint64(dm.pageSize)
	if dm.numPages < 1 {
		dm.numPages = 1
	}
	return false, nil
}

// writeHeader serializes the DBFileHeader to the beginning of the file.
func (dm *DiskManager) writeHeader(header *DBFileHeader) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("%w: serializing file header: %v", ErrSerialization, err)
	}
	if _, err := dm.file.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("%w: writing file header: %v", ErrIO, err)
	}
	return dm.file.Sync()
}

// readHeader reads the DBFileHeader from the beginning of the file.
func (dm *DiskManager) readHeader(header *DBFileHeader) error {
	data := make([]byte, dbFileHeaderSize)
	n, err := dm.file.ReadAt(data, 0)
	if err != nil {
		if err == io.EOF && n < dbFileHeaderSize {
			return fmt.Errorf("%w: file too small for header", ErrInvalidPageData)
		}
		return fmt.Errorf("%w: reading file header: %v", ErrIO, err)
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, header); err != nil {
		return fmt.Errorf("%w: deserializing file header: %v", ErrDeserialization, err)
	}
	return nil
}

// ReadPage reads the page with the given ID into buf. It returns
// ErrPageNotFound when the page lies beyond the end of the file, so callers
// can distinguish "never written" from a genuine I/O failure.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", ErrIO)
	}
	if len(buf) != dm.pageSize {
		return fmt.Errorf("%w: buffer size %d does not match page size %d", ErrInvalidPageData, len(buf), dm.pageSize)
	}
	if uint64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: page %d beyond file end (%d pages)", ErrPageNotFound, pageID, dm.numPages)
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("%w: reading page %d: %v", ErrIO, pageID, err)
	}
	return nil
}

// WritePage writes buf to the page with the given ID, extending the file as
// needed. WriteAt beyond the current end grows the file with a zero gap, so
// sparse page IDs are safe.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", ErrIO)
	}
	if len(buf) != dm.pageSize {
		return fmt.Errorf("%w: buffer size %d does not match page size %d", ErrInvalidPageData, len(buf), dm.pageSize)
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: writing page %d: %v", ErrIO, pageID, err)
	}
	if uint64(pageID) >= dm.numPages {
		dm.numPages = uint64(pageID) + 1
	}
	return nil
}

// Sync flushes the file and persists the current page count in the header.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: file not open", ErrIO)
	}
	header := DBFileHeader{
		Magic:    DBMagic,
		Version:  1,
		PageSize: uint32(dm.pageSize),
		NumPages: dm.numPages,
	}
	if err := dm.writeHeader(&header); err != nil {
		return err
	}
	return dm.file.Sync()
}

// Close syncs and closes the underlying file.
func (dm *DiskManager) Close() error {
	if dm.file == nil {
		return nil
	}
	if err := dm.Sync(); err != nil {
		return err
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	err := dm.file.Close()
	dm.file = nil
	return err
}

func (dm *DiskManager) GetPageSize() int { return dm.pageSize }

// GetNumPages returns the number of pages currently in the file, header
// page included.
func (dm *DiskManager) GetNumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numPages
}
