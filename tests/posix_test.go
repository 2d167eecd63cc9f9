//go:build posix
// +build posix

package tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/objectfs/objectfs/internal/fuse"
	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
	"github.com/objectfs/objectfs/internal/openfile"
	reqpool "github.com/objectfs/objectfs/internal/pool"
)

// POSIXTestSuite mounts a real go-fuse filesystem backed by fakeStore
// (defined in fuse_test.go) at a temporary mount point and drives it
// through the standard os.* POSIX surface, the way a real client would.
type POSIXTestSuite struct {
	suite.Suite
	ctx        context.Context
	mountPoint string
	store      *fakeStore
	secondary  *reqpool.Pool
	filesystem *fuse.FileSystem
	manager    *fuse.MountManager
}

func TestPOSIXFunctionality(t *testing.T) {
	suite.Run(t, new(POSIXTestSuite))
}

func (s *POSIXTestSuite) SetupSuite() {
	s.ctx = context.Background()

	tmpDir, err := os.MkdirTemp("", "objectfs-posix-test-")
	require.NoError(s.T(), err)
	s.mountPoint = tmpDir

	s.store = newFakeStore()

	cache := metacache.New(metacache.Config{MaxEntries: 1024, Fetcher: s.store})
	s.secondary = reqpool.New(reqpool.Config{Name: "posix-secondary", Kind: reqpool.KindCompute, Size: 4})
	engine := openfile.New(openfile.Config{MaxConcurrency: 4}, cache, s.store, s.secondary)

	defaults := object.Defaults{Mode: 0o644, UID: uint32(os.Getuid()), GID: uint32(os.Getgid())}
	fuseConfig := &fuse.Config{
		MountPoint:  s.mountPoint,
		ReadOnly:    false,
		DefaultUID:  defaults.UID,
		DefaultGID:  defaults.GID,
		DefaultMode: 0o644,
		CacheTTL:    time.Minute,
	}

	s.filesystem = fuse.NewFileSystem(cache, engine, s.store, s.store, "https://bucket.example", defaults, fuseConfig)

	mountConfig := &fuse.MountConfig{
		MountPoint: s.mountPoint,
		Options: &fuse.MountOptions{
			FSName:   "objectfs-test",
			Subtype:  "s3",
			MaxRead:  128 * 1024,
			MaxWrite: 128 * 1024,
			Debug:    false,
		},
	}

	s.manager = fuse.NewMountManager(s.filesystem, mountConfig)

	s.T().Logf("POSIX test suite initialized with mount point: %s", s.mountPoint)
}

func (s *POSIXTestSuite) TearDownSuite() {
	if s.manager != nil && s.manager.IsMounted() {
		_ = s.manager.Unmount()
	}
	if s.secondary != nil {
		s.secondary.Shutdown()
	}
	if s.mountPoint != "" {
		os.RemoveAll(s.mountPoint)
	}
}

func (s *POSIXTestSuite) TestFilesystemMount() {
	t := s.T()

	err := s.manager.Mount(s.ctx)
	assert.NoError(t, err)
	assert.True(t, s.manager.IsMounted())

	_, err = os.Stat(s.mountPoint)
	assert.NoError(t, err)

	err = s.manager.Unmount()
	assert.NoError(t, err)
	assert.False(t, s.manager.IsMounted())
}

func (s *POSIXTestSuite) TestBasicFileOperations() {
	t := s.T()

	err := s.manager.Mount(s.ctx)
	require.NoError(t, err)
	defer s.manager.Unmount()

	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(s.mountPoint, "test-file.txt")
	testContent := []byte("Hello ObjectFS POSIX!\n")

	err = os.WriteFile(testFile, testContent, 0644)
	assert.NoError(t, err)

	readContent, err := os.ReadFile(testFile)
	assert.NoError(t, err)
	assert.Equal(t, testContent, readContent)

	info, err := os.Stat(testFile)
	assert.NoError(t, err)
	assert.Equal(t, int64(len(testContent)), info.Size())
	assert.Equal(t, "test-file.txt", info.Name())
	assert.False(t, info.IsDir())

	err = os.Remove(testFile)
	assert.NoError(t, err)

	_, err = os.Stat(testFile)
	assert.True(t, os.IsNotExist(err))
}

func (s *POSIXTestSuite) TestDirectoryOperations() {
	t := s.T()

	err := s.manager.Mount(s.ctx)
	require.NoError(t, err)
	defer s.manager.Unmount()

	time.Sleep(100 * time.Millisecond)

	testDir := filepath.Join(s.mountPoint, "test-directory")
	err = os.Mkdir(testDir, 0755)
	assert.NoError(t, err)

	info, err := os.Stat(testDir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "test-directory", info.Name())

	nestedDir := filepath.Join(testDir, "nested")
	err = os.Mkdir(nestedDir, 0755)
	assert.NoError(t, err)

	fileInDir := filepath.Join(testDir, "file-in-dir.txt")
	content := []byte("File in directory")
	err = os.WriteFile(fileInDir, content, 0644)
	assert.NoError(t, err)

	entries, err := os.ReadDir(testDir)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)

	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	assert.Contains(t, names, "nested")
	assert.Contains(t, names, "file-in-dir.txt")

	err = os.Remove(testDir)
	assert.Error(t, err)

	os.Remove(fileInDir)
	os.Remove(nestedDir)

	err = os.Remove(testDir)
	assert.NoError(t, err)
}

func (s *POSIXTestSuite) TestFilePermissions() {
	t := s.T()

	err := s.manager.Mount(s.ctx)
	require.NoError(t, err)
	defer s.manager.Unmount()

	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(s.mountPoint, "perm-test.txt")
	content := []byte("Permission test")

	err = os.WriteFile(testFile, content, 0600)
	assert.NoError(t, err)

	info, err := os.Stat(testFile)
	assert.NoError(t, err)
	t.Logf("file permissions: %v", info.Mode())

	err = os.Chmod(testFile, 0644)
	assert.NoError(t, err)

	info, err = os.Stat(testFile)
	assert.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	os.Remove(testFile)
}

func (s *POSIXTestSuite) TestFileSeekAndRandomAccess() {
	t := s.T()

	err := s.manager.Mount(s.ctx)
	require.NoError(t, err)
	defer s.manager.Unmount()

	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(s.mountPoint, "seek-test.txt")
	content := []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ")

	err = os.WriteFile(testFile, content, 0644)
	assert.NoError(t, err)

	file, err := os.Open(testFile)
	assert.NoError(t, err)
	defer file.Close()

	buffer := make([]byte, 5)

	_, err = file.Seek(10, 0)
	assert.NoError(t, err)

	n, err := file.Read(buffer)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("ABCDE"), buffer)

	_, err = file.Seek(-5, 2)
	assert.NoError(t, err)

	n, err = file.Read(buffer)
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("VWXYZ"), buffer)

	os.Remove(testFile)
}

func (s *POSIXTestSuite) TestConcurrentAccess() {
	t := s.T()

	err := s.manager.Mount(s.ctx)
	require.NoError(t, err)
	defer s.manager.Unmount()

	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(s.mountPoint, "concurrent-test.txt")
	baseContent := []byte("Base content for concurrent test\n")

	err = os.WriteFile(testFile, baseContent, 0644)
	assert.NoError(t, err)

	done := make(chan bool, 3)

	for i := 0; i < 3; i++ {
		go func(id int) {
			defer func() { done <- true }()

			content, err := os.ReadFile(testFile)
			assert.NoError(t, err)
			assert.Equal(t, baseContent, content)
		}(i)
	}

	for i := 0; i < 3; i++ {
		<-done
	}

	os.Remove(testFile)
}

func (s *POSIXTestSuite) TestFilesystemStats() {
	t := s.T()

	err := s.manager.Mount(s.ctx)
	require.NoError(t, err)
	defer s.manager.Unmount()

	time.Sleep(100 * time.Millisecond)

	testFile := filepath.Join(s.mountPoint, "stats-test.txt")
	content := []byte("Statistics test content")

	err = os.WriteFile(testFile, content, 0644)
	assert.NoError(t, err)

	_, err = os.ReadFile(testFile)
	assert.NoError(t, err)

	stats := s.manager.GetStats()
	assert.NotNil(t, stats)
	assert.Greater(t, stats.Lookups, int64(0))

	os.Remove(testFile)
}
