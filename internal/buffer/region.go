package buffer

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// shmDir is where backing files for shared-memory regions live. Using a
// real directory (rather than POSIX shm_open's /dev/shm namespace
// directly) keeps the implementation portable to any filesystem while
// still giving every process the same path to mmap.
var shmDir = filepath.Join(os.TempDir(), "fieldcore-runtime", "shm")

// region is a single mmap'd shared-memory segment backed by a regular
// file, grounded on the mmap/unsafe.Pointer approach used to map device
// queues from a kernel fd, adapted here to a plain on-disk backing file
// since there is no kernel character device involved.
type region struct {
	name string
	data []byte
	file *os.File
}

// openRegion maps the region for name, creating and sizing the backing
// file to size bytes if it does not already exist. Pass create=false to
// require that the region already exists.
func openRegion(name string, size int, create bool) (*region, error) {
	if err := os.MkdirAll(shmDir, 0o755); err != nil {
		return nil, fmt.Errorf("buffer: create shm dir: %w", err)
	}
	path := filepath.Join(shmDir, name)

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("buffer: open region %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("buffer: stat region %s: %w", name, err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("buffer: truncate region %s: %w", name, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("buffer: mmap region %s: %w", name, err)
	}
	return &region{name: name, data: data, file: f}, nil
}

func (r *region) close() error {
	err := unix.Munmap(r.data)
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// unlinkRegion removes the backing file, matching the original's SharedMemory
// unlink on final close of a buffer nobody else references.
func unlinkRegion(name string) error {
	return os.Remove(filepath.Join(shmDir, name))
}

func lockPath(name string) string {
	return filepath.Join(shmDir, name+".lock")
}
