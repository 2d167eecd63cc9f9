package openfile

import (
	"os"

	"github.com/objectfs/objectfs/pkg/errors"
)

// stagingFile is the anonymous temp file an open-file entry downloads
// into and writes against. It is unlinked immediately after creation
// so it disappears on close or crash, per §4.6 step 3 — the directory
// entry is gone but the open file descriptor keeps the data alive for
// as long as the entry stays open.
type stagingFile struct {
	f *os.File
}

func newStagingFile(dir string) (*stagingFile, error) {
	f, err := os.CreateTemp(dir, "objectfs-staging-")
	if err != nil {
		return nil, errors.FromErrno("openfile", "create_staging", toErrno(err))
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, errors.FromErrno("openfile", "unlink_staging", toErrno(err))
	}
	return &stagingFile{f: f}, nil
}

func (s *stagingFile) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *stagingFile) WriteAt(p []byte, off int64) (int, error) {
	return s.f.WriteAt(p, off)
}

func (s *stagingFile) Truncate(size int64) error {
	return s.f.Truncate(size)
}

func (s *stagingFile) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *stagingFile) Close() error {
	return s.f.Close()
}
