//go:build unix

package shm

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// attempts bounds how often open retries after losing a race with Destroy.
const attempts = 3

type fileRegion struct {
	id    string
	store *FileStore

	// mu serialises goroutines sharing this handle; flock only excludes
	// other open file descriptions.
	mu   sync.Mutex
	fd   int
	data []byte
}

func openFileRegion(path, id string, sizing *Sizing) (*fileRegion, error) {
	for range attempts {
		r, retry, err := tryOpenFileRegion(path, id, sizing)
		if !retry {
			return r, err
		}
	}
	return nil, unavailable(id, "open", errors.New("region destroyed while opening"))
}

// tryOpenFileRegion reports retry when the file it opened was destroyed
// before the lock was acquired.
func tryOpenFileRegion(path, id string, sizing *Sizing) (*fileRegion, bool, error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if sizing != nil {
		flags |= unix.O_CREAT
	}

	fd, err := unix.Open(path, flags, 0o600)
	if err != nil {
		if sizing == nil && errors.Is(err, unix.ENOENT) {
			return nil, false, ErrNotFound
		}
		return nil, false, unavailable(id, "open", err)
	}

	if err := flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return nil, false, unavailable(id, "lock", err)
	}

	r, retry, err := mapLocked(fd, id, sizing)
	_ = flock(fd, unix.LOCK_UN)
	if err != nil || retry {
		unix.Close(fd)
		return nil, retry, err
	}
	return r, false, nil
}

// mapLocked sizes, maps and initialises the region. The caller holds the
// file lock.
func mapLocked(fd int, id string, sizing *Sizing) (*fileRegion, bool, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, false, unavailable(id, "stat", err)
	}

	switch {
	case stat.Size == 0 && sizing == nil:
		// Created but never initialised; treat as absent for attach.
		return nil, false, ErrNotFound
	case stat.Size == 0:
		if err := unix.Ftruncate(fd, regionSize); err != nil {
			return nil, false, unavailable(id, "truncate", err)
		}
	case stat.Size != regionSize:
		return nil, false, unavailable(id, "open",
			fmt.Errorf("%w: file is %d bytes, want %d", errLayout, stat.Size, regionSize))
	}

	data, err := unix.Mmap(fd, 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, false, unavailable(id, "mmap", err)
	}

	if !initialized(data) {
		if sizing == nil {
			unix.Munmap(data)
			return nil, false, ErrNotFound
		}
		initRegion(data, id, *sizing)
	} else {
		if destroyed(data) {
			unix.Munmap(data)
			return nil, true, nil
		}
		stored, err := regionIdentifier(data)
		if err == nil && stored != id {
			err = fmt.Errorf("%w: region belongs to %q", errLayout, stored)
		}
		if err != nil {
			unix.Munmap(data)
			return nil, false, unavailable(id, "attach", err)
		}
	}

	return &fileRegion{id: id, fd: fd, data: data}, false, nil
}

func (r *fileRegion) Identifier() string {
	return r.id
}

func (r *fileRegion) WithLock(fn func(rec *Record) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		return ErrClosed
	}
	if err := flock(r.fd, unix.LOCK_EX); err != nil {
		return unavailable(r.id, "lock", err)
	}
	defer flock(r.fd, unix.LOCK_UN)

	if destroyed(r.data) {
		return ErrDestroyed
	}

	rec := decodeRecord(r.data)
	if err := fn(&rec); err != nil {
		return err
	}
	encodeRecord(r.data, rec)
	return nil
}

func (r *fileRegion) Close() error {
	if r.store != nil {
		r.store.forget(r)
	}
	return r.release()
}

// release unmaps and closes the handle. It is idempotent.
func (r *fileRegion) release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		return nil
	}

	var errs []error
	if err := unix.Munmap(r.data); err != nil {
		errs = append(errs, fmt.Errorf("shm: unmap %q: %w", r.id, err))
	}
	if err := unix.Close(r.fd); err != nil {
		errs = append(errs, fmt.Errorf("shm: close %q: %w", r.id, err))
	}
	r.data = nil
	r.fd = -1
	return errors.Join(errs...)
}

func destroyFile(path, id string) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("shm: destroy %q: %w", id, err)
	}
	defer unix.Close(fd)

	if err := flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("shm: destroy %q: %w", id, err)
	}
	defer flock(fd, unix.LOCK_UN)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err == nil && stat.Size == regionSize {
		if data, err := unix.Mmap(fd, 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED); err == nil {
			markDestroyed(data)
			unix.Munmap(data)
		}
	}

	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("shm: destroy %q: %w", id, err)
	}
	return nil
}

func readFileIdentifier(path string) (string, bool) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return "", false
	}
	defer unix.Close(fd)

	if err := flock(fd, unix.LOCK_SH); err != nil {
		return "", false
	}
	defer flock(fd, unix.LOCK_UN)

	buf := make([]byte, regionSize)
	n, err := unix.Pread(fd, buf, 0)
	if err != nil || n != regionSize || destroyed(buf) {
		return "", false
	}
	id, err := regionIdentifier(buf)
	if err != nil {
		return "", false
	}
	return id, true
}

func flock(fd, how int) error {
	for {
		err := unix.Flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}
