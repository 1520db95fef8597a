//go:build !unix

package shm

import "errors"

var errUnsupported = errors.New("memory-mapped state is not supported on this platform")

type fileRegion struct {
	id    string
	store *FileStore
}

func openFileRegion(_, id string, _ *Sizing) (*fileRegion, error) {
	return nil, unavailable(id, "open", errUnsupported)
}

func (r *fileRegion) Identifier() string { return r.id }

func (r *fileRegion) WithLock(func(*Record) error) error { return ErrClosed }

func (r *fileRegion) Close() error { return nil }

func (r *fileRegion) release() error { return nil }

func destroyFile(_, id string) error {
	return unavailable(id, "destroy", errUnsupported)
}

func readFileIdentifier(string) (string, bool) { return "", false }
