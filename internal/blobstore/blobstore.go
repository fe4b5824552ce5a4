// Package blobstore implements the content-addressed, reference-counted
// blob layer: hot bytes inline in the metadata store, warm bytes in an
// embedded badger store, cold bytes as files on the local filesystem.
//
// Grounded on the teacher's internal/store package: Store composes lower
// ports (here, three tier backends plus a metastore.BlobRows port) exactly
// the way the teacher's store.Store composed an Index and a BlobStorage.
package blobstore

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dot-do/fsx/internal/domain"
	"github.com/dot-do/fsx/internal/metastore"
)

// DefaultHotThresholdBytes is the default largest size (inclusive) at which
// a blob is stored inline (hot tier), per spec.md §4.2.
const DefaultHotThresholdBytes = 1 << 20 // 1 MiB

// BlobRows is the narrow metastore port the hot tier writes through; it
// lets blobstore depend on metadata row storage without owning the
// *metastore.Store or a *sql.Tx lifecycle itself. *metastore.Store already
// satisfies this interface.
type BlobRows interface {
	GetBlob(ctx context.Context, tx *sql.Tx, id domain.BlobID) (*metastore.BlobRow, error)
	InsertBlob(ctx context.Context, tx *sql.Tx, row *metastore.BlobRow) error
	IncRefBlob(ctx context.Context, tx *sql.Tx, id domain.BlobID) error
	DecRefBlob(ctx context.Context, tx *sql.Tx, id domain.BlobID) (int64, error)
	DeleteBlob(ctx context.Context, tx *sql.Tx, id domain.BlobID) error
	SetBlobTier(ctx context.Context, tx *sql.Tx, id domain.BlobID, tier domain.Tier, data []byte) error
}

// WarmStore is satisfied by *warmtier.Store (github.com/ipfs/go-ds-badger4
// backed). Kept as an interface so tests can substitute an in-memory fake.
type WarmStore interface {
	Put(ctx context.Context, id domain.BlobID, data []byte) error
	Get(ctx context.Context, id domain.BlobID) ([]byte, error)
	Delete(ctx context.Context, id domain.BlobID) error
	Close() error
}

// ColdStore is satisfied by *coldtier.Store (local filesystem).
type ColdStore interface {
	Put(id domain.BlobID, data []byte) error
	Get(id domain.BlobID) ([]byte, error)
	Delete(id domain.BlobID) error
}

// Metrics is the minimal counter interface the store depends on, mirroring
// fsengine.Metrics and watch.Metrics.
type Metrics interface {
	Inc(name string, labels map[string]string, delta int64)
}

// noopMetrics discards counter events when no sink is configured.
type noopMetrics struct{}

func (noopMetrics) Inc(string, map[string]string, int64) {}

// Store is the blobstore.Put/Get/IncRef/DecRef/MoveTier/VerifyIntegrity
// facade described in spec.md §4.2.
type Store struct {
	rows BlobRows
	warm WarmStore // nil if warm storage unavailable
	cold ColdStore

	hotThreshold int64
	cache        *lru.Cache[domain.BlobID, []byte]
	nowMs        func() int64
	metrics      Metrics
}

// Option configures a Store at construction.
type Option func(*Store)

// WithHotThreshold overrides DefaultHotThresholdBytes.
func WithHotThreshold(bytes int64) Option {
	return func(s *Store) { s.hotThreshold = bytes }
}

// WithNowFunc overrides the clock used for blob creation timestamps; tests
// use this to avoid depending on wall-clock time.
func WithNowFunc(f func() int64) Option {
	return func(s *Store) { s.nowMs = f }
}

// WithMetrics wires a counter sink (the metrics.Manager, or a test double).
func WithMetrics(m Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns a Store. warm may be nil, in which case tier selection always
// falls back to hot. cacheSize bounds the read-through LRU cache fronting
// warm/cold Get calls.
func New(rows BlobRows, warm WarmStore, cold ColdStore, cacheSize int, opts ...Option) (*Store, error) {
	cache, err := lru.New[domain.BlobID, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("blobstore: new cache: %w", err)
	}
	s := &Store{
		rows:         rows,
		warm:         warm,
		cold:         cold,
		hotThreshold: DefaultHotThresholdBytes,
		cache:        cache,
		metrics:      noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SelectTier implements the tier-selection rule from spec.md §4.2: size <=
// threshold -> hot; otherwise warm if available, else hot.
func (s *Store) SelectTier(size int64) domain.Tier {
	if size <= s.hotThreshold {
		return domain.TierHot
	}
	if s.warm != nil {
		return domain.TierWarm
	}
	return domain.TierHot
}

// Put derives the content-addressed id for content, and either increments
// an existing row's reference count or creates a new row with reference
// count 1, placing bytes according to tier (or the auto-selected tier if
// tier is empty).
func (s *Store) Put(ctx context.Context, tx *sql.Tx, content []byte, tier domain.Tier) (domain.BlobID, error) {
	id := domain.NewBlobID(content)
	existing, err := s.rows.GetBlob(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := s.rows.IncRefBlob(ctx, tx, id); err != nil {
			return "", err
		}
		s.metrics.Inc("blob_dedup_hits_total", map[string]string{"tier": string(existing.Tier)}, 1)
		return id, nil
	}

	if tier == "" {
		tier = s.SelectTier(int64(len(content)))
	}

	row := &metastore.BlobRow{
		ID:          id,
		Size:        int64(len(content)),
		Checksum:    id.Checksum(),
		Tier:        tier,
		RefCount:    1,
		CreatedAtMs: s.now(),
	}
	switch tier {
	case domain.TierHot:
		row.Data = content
	case domain.TierWarm:
		if s.warm == nil {
			return "", domain.NewError(domain.CodeUnavailable, "warm tier not configured")
		}
		if err := s.warm.Put(ctx, id, content); err != nil {
			return "", err
		}
	case domain.TierCold:
		if err := s.cold.Put(id, content); err != nil {
			return "", err
		}
	default:
		return "", domain.NewError(domain.CodeInvalidArgument, "unknown tier: "+string(tier))
	}

	if err := s.rows.InsertBlob(ctx, tx, &metastore.BlobRow{
		ID: row.ID, Data: row.Data, Size: row.Size, Checksum: row.Checksum,
		Tier: row.Tier, RefCount: row.RefCount, CreatedAtMs: row.CreatedAtMs,
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the bytes for id, consulting the tier recorded on its row. It
// returns (nil, nil) if the blob is missing, per spec.md §4.2.
func (s *Store) Get(ctx context.Context, tx *sql.Tx, id domain.BlobID) ([]byte, error) {
	row, err := s.rows.GetBlob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	switch row.Tier {
	case domain.TierHot:
		return row.Data, nil
	case domain.TierWarm:
		if data, ok := s.cache.Get(id); ok {
			return data, nil
		}
		data, err := s.warm.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Add(id, data)
		return data, nil
	case domain.TierCold:
		if data, ok := s.cache.Get(id); ok {
			return data, nil
		}
		data, err := s.cold.Get(id)
		if err != nil {
			return nil, err
		}
		s.cache.Add(id, data)
		return data, nil
	default:
		return nil, domain.NewError(domain.CodeInvalidArgument, "unknown tier: "+string(row.Tier))
	}
}

// IncRef atomically increments id's reference count.
func (s *Store) IncRef(ctx context.Context, tx *sql.Tx, id domain.BlobID) error {
	return s.rows.IncRefBlob(ctx, tx, id)
}

// DecRef atomically decrements id's reference count. A count that reaches
// zero deletes the row and its warm/cold object.
func (s *Store) DecRef(ctx context.Context, tx *sql.Tx, id domain.BlobID, tier domain.Tier) error {
	n, err := s.rows.DecRefBlob(ctx, tx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if err := s.deleteObject(ctx, id, tier); err != nil {
		return err
	}
	s.cache.Remove(id)
	return s.rows.DeleteBlob(ctx, tx, id)
}

func (s *Store) deleteObject(ctx context.Context, id domain.BlobID, tier domain.Tier) error {
	switch tier {
	case domain.TierHot:
		return nil
	case domain.TierWarm:
		if s.warm == nil {
			return nil
		}
		return s.warm.Delete(ctx, id)
	case domain.TierCold:
		return s.cold.Delete(id)
	default:
		return nil
	}
}

// MoveTier writes bytes to the destination tier, updates the blobs.tier
// column, then deletes the source location. Hot->hot is an in-place
// overwrite. The tier column never lies about where bytes currently live.
func (s *Store) MoveTier(ctx context.Context, tx *sql.Tx, id domain.BlobID, bytes []byte, from, to domain.Tier) error {
	if from == to {
		return s.writeTier(ctx, tx, id, bytes, to)
	}
	if err := s.writeTier(ctx, tx, id, bytes, to); err != nil {
		return err
	}
	s.cache.Remove(id)
	return s.deleteObject(ctx, id, from)
}

func (s *Store) writeTier(ctx context.Context, tx *sql.Tx, id domain.BlobID, bytes []byte, to domain.Tier) error {
	switch to {
	case domain.TierHot:
		return s.rows.SetBlobTier(ctx, tx, id, to, bytes)
	case domain.TierWarm:
		if s.warm == nil {
			return domain.NewError(domain.CodeUnavailable, "warm tier not configured")
		}
		if err := s.warm.Put(ctx, id, bytes); err != nil {
			return err
		}
		return s.rows.SetBlobTier(ctx, tx, id, to, nil)
	case domain.TierCold:
		if err := s.cold.Put(id, bytes); err != nil {
			return err
		}
		return s.rows.SetBlobTier(ctx, tx, id, to, nil)
	default:
		return domain.NewError(domain.CodeInvalidArgument, "unknown tier: "+string(to))
	}
}

// VerifyIntegrity reads id's bytes and re-hashes them, reporting the stored
// checksum, the actual checksum, and whether they agree.
func (s *Store) VerifyIntegrity(ctx context.Context, tx *sql.Tx, id domain.BlobID) (stored, actual string, ok bool, err error) {
	row, err := s.rows.GetBlob(ctx, tx, id)
	if err != nil {
		return "", "", false, err
	}
	if row == nil {
		return "", "", false, domain.NewError(domain.CodeNotFound, "no such blob")
	}
	data, err := s.Get(ctx, tx, id)
	if err != nil {
		return "", "", false, err
	}
	actual, ok = domain.VerifyChecksum(id, data)
	return row.Checksum, actual, ok, nil
}

func (s *Store) now() int64 {
	if s.nowMs != nil {
		return s.nowMs()
	}
	return nowMillis()
}
