// Package warmtier implements the blob store's warm tier: an embedded
// badger key-value store reached through github.com/ipfs/go-ds-badger4,
// giving warm-tier blobs crash-safety independent of the sqlite metadata
// file.
//
// Grounded on gloudx-ues/datastore's datastorage wrapper around
// bds.NewDatastore.
package warmtier

import (
	"context"

	badger4 "github.com/ipfs/go-ds-badger4"
	ds "github.com/ipfs/go-datastore"

	"github.com/dot-do/fsx/internal/domain"
)

// Store is a warm-tier blob backend backed by an embedded badger database.
type Store struct {
	ds *badger4.Datastore
}

// Open returns a Store rooted at dir, creating the database if absent.
func Open(dir string) (*Store, error) {
	opts := badger4.DefaultOptions
	d, err := badger4.NewDatastore(dir, &opts)
	if err != nil {
		return nil, err
	}
	return &Store{ds: d}, nil
}

func key(id domain.BlobID) ds.Key { return ds.NewKey("/" + string(id)) }

// Put writes data under id's key.
func (s *Store) Put(ctx context.Context, id domain.BlobID, data []byte) error {
	return s.ds.Put(ctx, key(id), data)
}

// Get reads the bytes stored under id, or domain.CodeNotFound if absent.
func (s *Store) Get(ctx context.Context, id domain.BlobID) ([]byte, error) {
	data, err := s.ds.Get(ctx, key(id))
	if err == ds.ErrNotFound {
		return nil, domain.NewError(domain.CodeNotFound, "no such blob in warm tier")
	}
	return data, err
}

// Delete removes id's entry. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, id domain.BlobID) error {
	return s.ds.Delete(ctx, key(id))
}

// Close releases the underlying badger handle.
func (s *Store) Close() error { return s.ds.Close() }
