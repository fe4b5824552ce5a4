// Package coldtier implements the blob store's cold tier as immutable
// files on the local filesystem, one file per blob id.
//
// Adapted directly from the teacher's internal/store/filesystem: same
// fixed-root/validated-id path construction and O_CREATE|O_EXCL write, but
// Consume's delete-on-close semantics are dropped since cold blobs are not
// single-consume — Get simply reads, Delete removes.
package coldtier

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/dot-do/fsx/internal/domain"
)

// Store is a cold-tier blob backend rooted at a directory.
type Store struct {
	root string
}

// Open returns a filesystem-backed cold store rooted at dir. The directory
// must already exist.
func Open(dir string) (*Store, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("coldtier: root is not a directory")
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(id domain.BlobID) (string, error) {
	if !id.Valid() {
		return "", domain.NewError(domain.CodeInvalidArgument, "invalid blob id")
	}
	return filepath.Join(s.root, id.String()+".blob"), nil
}

// Put writes data under id, overwriting any existing file for that id (a
// content-addressed id is never reused for different bytes, but overwrite
// is tolerated for idempotent retry after a partial write).
func (s *Store) Put(id domain.BlobID, data []byte) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	// #nosec G304: p is built from a fixed root plus a validated content-addressed id.
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

// Get reads the bytes stored under id.
func (s *Store) Get(id domain.BlobID) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p) // #nosec G304 path constructed internally from validated id
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.NewError(domain.CodeNotFound, "no such blob in cold tier")
	}
	return data, err
}

// Delete removes id's file. Deleting an absent file is not an error.
func (s *Store) Delete(id domain.BlobID) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
