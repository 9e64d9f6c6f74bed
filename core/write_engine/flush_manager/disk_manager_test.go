package flushmanager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	pagemanager "github.com/sushant-115/gojospatial/core/write_engine/page_manager"
)

func newTestDiskManager(t *testing.T, path string, pageSize int) (*DiskManager, bool) {
	t.Helper()
	dm, err := NewDiskManager(path, pageSize)
	require.NoError(t, err)
	created, err := dm.OpenOrCreateFile()
	require.NoError(t, err)
	return dm, created
}

func TestDiskManager_CreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	dm, created := newTestDiskManager(t, path, DefaultPageSize)
	require.True(t, created, "first open must create the file")
	require.EqualValues(t, 1, dm.GetNumPages(), "a new file holds only the header page")
	require.NoError(t, dm.Close())

	dm, created = newTestDiskManager(t, path, DefaultPageSize)
	require.False(t, created, "second open must find the existing file")
	require.NoError(t, dm.Close())
}

func TestDiskManager_WriteReadPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dm, _ := newTestDiskManager(t, path, DefaultPageSize)
	defer dm.Close()

	buf := make([]byte, DefaultPageSize)
	copy(buf, []byte("gojospatial page payload"))
	require.NoError(t, dm.WritePage(3, buf))

	// Writing past the end extends the file; the skipped pages read back
	// as zeroes rather than failing.
	require.EqualValues(t, 4, dm.GetNumPages())
	gap := make([]byte, DefaultPageSize)
	require.NoError(t, dm.ReadPage(2, gap))
	require.Equal(t, make([]byte, DefaultPageSize), gap)

	out := make([]byte, DefaultPageSize)
	require.NoError(t, dm.ReadPage(3, out))
	require.True(t, bytes.Equal(buf, out))
}

func TestDiskManager_ReadPageNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dm, _ := newTestDiskManager(t, path, DefaultPageSize)
	defer dm.Close()

	buf := make([]byte, DefaultPageSize)
	err := dm.ReadPage(5, buf)
	require.ErrorIs(t, err, ErrPageNotFound)
}

func TestDiskManager_RejectsWrongBufferSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dm, _ := newTestDiskManager(t, path, DefaultPageSize)
	defer dm.Close()

	short := make([]byte, DefaultPageSize-1)
	require.ErrorIs(t, dm.WritePage(1, short), ErrInvalidPageData)
	require.ErrorIs(t, dm.ReadPage(0, short), ErrInvalidPageData)
}

func TestDiskManager_PageCountSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dm, _ := newTestDiskManager(t, path, DefaultPageSize)

	buf := make([]byte, DefaultPageSize)
	for i := 1; i <= 5; i++ {
		buf[0] = byte(i)
		require.NoError(t, dm.WritePage(pagemanager.PageID(i), buf))
	}
	require.NoError(t, dm.Close())

	dm, created := newTestDiskManager(t, path, DefaultPageSize)
	defer dm.Close()
	require.False(t, created)
	require.EqualValues(t, 6, dm.GetNumPages())

	out := make([]byte, DefaultPageSize)
	require.NoError(t, dm.ReadPage(5, out))
	require.Equal(t, byte(5), out[0])
}

func TestDiskManager_RejectsPageSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dm, _ := newTestDiskManager(t, path, DefaultPageSize)
	require.NoError(t, dm.Close())

	other, err := NewDiskManager(path, DefaultPageSize*2)
	require.NoError(t, err)
	_, err = other.OpenOrCreateFile()
	require.ErrorIs(t, err, ErrPageSizeMismatch)
}

func TestDiskManager_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	dm, err := NewDiskManager(path, DefaultPageSize)
	require.NoError(t, err)
	_, err = dm.OpenOrCreateFile()
	require.NoError(t, err)

	require.NoError(t, dm.Close())

	// Corrupt the magic number directly in the closed file.
	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dm2, err := NewDiskManager(path, DefaultPageSize)
	require.NoError(t, err)
	_, err = dm2.OpenOrCreateFile()
	require.Error(t, err)
}
