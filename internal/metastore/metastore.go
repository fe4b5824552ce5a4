// Package metastore implements the filesystem service's metadata index: a
// single-writer relational store of inodes and blob reference rows. It is
// lazily initialized — no DDL runs until the first operation touches the
// store.
//
// Grounded on the teacher's internal/store/sqlite/sqlite.go: same
// database/sql + mattn/go-sqlite3 shape, same CREATE TABLE IF NOT EXISTS
// idiom, extended with the files table, the full index set, and foreign
// key cascade required by the filesystem domain.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	// Import SQLite3 driver for database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/dot-do/fsx/internal/domain"
)

// SchemaVersion guards the on-disk layout. Bump when the schema changes.
const SchemaVersion = 1

// Store is the metadata index. It owns a single *sql.DB configured for
// single-writer WAL-mode access, per spec.md §5's "single-writer execution
// domain" requirement.
type Store struct {
	db *sql.DB

	initOnce sync.Once
	initErr  error
}

// Open returns a Store backed by the SQLite database at dsn. The DSN should
// carry the hardened pragmas the teacher's deployment used:
// "_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL".
// Schema creation is deferred to the first operation (Open does no I/O beyond
// opening the handle).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single writer: exactly one open connection, per the filesystem
	// service's single-writer actor requirement.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// ensureInit runs schema creation exactly once, lazily, on first touch.
func (s *Store) ensureInit(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.init(ctx)
	})
	return s.initErr
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
	id TEXT PRIMARY KEY,
	data BLOB,
	size INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	tier TEXT NOT NULL CHECK (tier IN ('hot','warm','cold')),
	ref_count INTEGER NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blobs_tier ON blobs(tier);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	parent_id INTEGER REFERENCES files(id) ON DELETE CASCADE,
	type TEXT NOT NULL CHECK (type IN ('file','directory','symlink')),
	mode INTEGER NOT NULL,
	uid INTEGER NOT NULL DEFAULT 0,
	gid INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	blob_id TEXT REFERENCES blobs(id),
	symlink_target TEXT,
	tier TEXT NOT NULL DEFAULT 'hot' CHECK (tier IN ('hot','warm','cold')),
	atime_ms INTEGER NOT NULL,
	mtime_ms INTEGER NOT NULL,
	ctime_ms INTEGER NOT NULL,
	birthtime_ms INTEGER NOT NULL,
	nlink INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_files_parent ON files(parent_id);
CREATE INDEX IF NOT EXISTS idx_files_tier ON files(tier);
`

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("metastore: enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("metastore: create schema: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_meta").Scan(&count); err != nil {
		return fmt.Errorf("metastore: read schema_meta: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_meta(version) VALUES (?)", SchemaVersion); err != nil {
			return fmt.Errorf("metastore: seed schema_meta: %w", err)
		}
	}

	return s.ensureRoot(ctx)
}

// ensureRoot inserts the root directory row (mode 0o755, nlink 2) if absent.
func (s *Store) ensureRoot(ctx context.Context) error {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE path = '/'").Scan(&exists); err != nil {
		return fmt.Errorf("metastore: check root: %w", err)
	}
	if exists > 0 {
		return nil
	}
	const q = `INSERT INTO files
		(path, name, parent_id, type, mode, uid, gid, size, blob_id, symlink_target, tier,
		 atime_ms, mtime_ms, ctime_ms, birthtime_ms, nlink)
		VALUES ('/', '/', NULL, 'directory', 493, 0, 0, 0, NULL, NULL, 'hot', 0, 0, 0, 0, 2)`
	_, err := s.db.ExecContext(ctx, q)
	if err != nil {
		return fmt.Errorf("metastore: insert root: %w", err)
	}
	return nil
}

// DB exposes the underlying handle to callers (fsengine) that need to open
// transactions directly. ensureInit must have already run; BeginTx below is
// the usual entry point.
func (s *Store) DB() *sql.DB { return s.db }

// BeginTx starts a transaction after guaranteeing schema initialization.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, err
	}
	return s.db.BeginTx(ctx, nil)
}

func scanInode(row interface{ Scan(...any) error }) (*domain.Inode, error) {
	var (
		n             domain.Inode
		parentID      sql.NullInt64
		blobID        sql.NullString
		symlinkTarget sql.NullString
	)
	if err := row.Scan(
		&n.ID, &n.Path, &n.Name, &parentID, &n.Type, &n.Mode, &n.UID, &n.GID, &n.Size,
		&blobID, &symlinkTarget, &n.Tier, &n.ATimeMs, &n.MTimeMs, &n.CTimeMs, &n.BirthTimeMs, &n.NLink,
	); err != nil {
		return nil, err
	}
	if parentID.Valid {
		v := parentID.Int64
		n.ParentID = &v
	}
	if blobID.Valid {
		id := domain.BlobID(blobID.String)
		n.BlobID = &id
	}
	if symlinkTarget.Valid {
		n.SymlinkTarget = &symlinkTarget.String
	}
	return &n, nil
}

const inodeColumns = `id, path, name, parent_id, type, mode, uid, gid, size, blob_id, symlink_target, tier, atime_ms, mtime_ms, ctime_ms, birthtime_ms, nlink`

// GetByPath returns the inode at path, or domain.CodeNotFound.
func (s *Store) GetByPath(ctx context.Context, tx *sql.Tx, path string) (*domain.Inode, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+inodeColumns+" FROM files WHERE path = ?", path)
	n, err := scanInode(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewPathError(domain.CodeNotFound, "no such file or directory", path)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// GetByID returns the inode with the given row id.
func (s *Store) GetByID(ctx context.Context, tx *sql.Tx, id int64) (*domain.Inode, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+inodeColumns+" FROM files WHERE id = ?", id)
	n, err := scanInode(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.CodeNotFound, "no such inode")
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Children returns the direct children of the directory inode parentID,
// ordered by name.
func (s *Store) Children(ctx context.Context, tx *sql.Tx, parentID int64) ([]*domain.Inode, error) {
	rows, err := tx.QueryContext(ctx, "SELECT "+inodeColumns+" FROM files WHERE parent_id = ? ORDER BY name", parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Inode
	for rows.Next() {
		n, err := scanInode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CountChildren reports how many rows reference parentID as their parent.
func (s *Store) CountChildren(ctx context.Context, tx *sql.Tx, parentID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE parent_id = ?", parentID).Scan(&n)
	return n, err
}

// Insert creates a new inode row and returns its assigned ID.
func (s *Store) Insert(ctx context.Context, tx *sql.Tx, n *domain.Inode) (int64, error) {
	const q = `INSERT INTO files
		(path, name, parent_id, type, mode, uid, gid, size, blob_id, symlink_target, tier,
		 atime_ms, mtime_ms, ctime_ms, birthtime_ms, nlink)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	var blobID any
	if n.BlobID != nil {
		blobID = string(*n.BlobID)
	}
	res, err := tx.ExecContext(ctx, q, n.Path, n.Name, n.ParentID, string(n.Type), n.Mode, n.UID, n.GID, n.Size,
		blobID, n.SymlinkTarget, string(n.Tier), n.ATimeMs, n.MTimeMs, n.CTimeMs, n.BirthTimeMs, n.NLink)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Update replaces every mutable column of an existing inode row.
func (s *Store) Update(ctx context.Context, tx *sql.Tx, n *domain.Inode) error {
	const q = `UPDATE files SET
		path=?, name=?, parent_id=?, mode=?, uid=?, gid=?, size=?, blob_id=?, symlink_target=?,
		tier=?, atime_ms=?, mtime_ms=?, ctime_ms=?, nlink=?
		WHERE id=?`
	var blobID any
	if n.BlobID != nil {
		blobID = string(*n.BlobID)
	}
	_, err := tx.ExecContext(ctx, q, n.Path, n.Name, n.ParentID, n.Mode, n.UID, n.GID, n.Size,
		blobID, n.SymlinkTarget, string(n.Tier), n.ATimeMs, n.MTimeMs, n.CTimeMs, n.NLink, n.ID)
	return err
}

// Delete removes the inode row with the given id.
func (s *Store) Delete(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	return err
}

// RewritePathPrefix updates the path column of every row under oldPrefix
// (inclusive) by replacing oldPrefix with newPrefix, used by Rename on a
// directory subtree.
func (s *Store) RewritePathPrefix(ctx context.Context, tx *sql.Tx, oldPrefix, newPrefix string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE files SET path = ? || substr(path, ?) WHERE path = ? OR path LIKE ? ESCAPE '\'`,
		newPrefix, len(oldPrefix)+1, oldPrefix, escapeLike(oldPrefix)+"/%",
	)
	return err
}

func escapeLike(s string) string {
	r := []byte{}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}

// --- blob rows -------------------------------------------------------------

// BlobRow mirrors one row of the blobs table.
type BlobRow struct {
	ID          domain.BlobID
	Data        []byte
	Size        int64
	Checksum    string
	Tier        domain.Tier
	RefCount    int64
	CreatedAtMs int64
}

// GetBlob returns the blob row for id, or nil if absent.
func (s *Store) GetBlob(ctx context.Context, tx *sql.Tx, id domain.BlobID) (*BlobRow, error) {
	row := tx.QueryRowContext(ctx,
		"SELECT id, data, size, checksum, tier, ref_count, created_at_ms FROM blobs WHERE id = ?", string(id))
	var b BlobRow
	var idStr string
	var tier string
	var data []byte
	if err := row.Scan(&idStr, &data, &b.Size, &b.Checksum, &tier, &b.RefCount, &b.CreatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	b.ID = domain.BlobID(idStr)
	b.Tier = domain.Tier(tier)
	b.Data = data
	return &b, nil
}

// InsertBlob creates a new blob row with reference count 1.
func (s *Store) InsertBlob(ctx context.Context, tx *sql.Tx, b *BlobRow) error {
	const q = `INSERT INTO blobs (id, data, size, checksum, tier, ref_count, created_at_ms)
		VALUES (?,?,?,?,?,?,?)`
	_, err := tx.ExecContext(ctx, q, string(b.ID), b.Data, b.Size, b.Checksum, string(b.Tier), b.RefCount, b.CreatedAtMs)
	return err
}

// IncRefBlob atomically increments a blob's reference count.
func (s *Store) IncRefBlob(ctx context.Context, tx *sql.Tx, id domain.BlobID) error {
	_, err := tx.ExecContext(ctx, "UPDATE blobs SET ref_count = ref_count + 1 WHERE id = ?", string(id))
	return err
}

// DecRefBlob atomically decrements a blob's reference count and reports the
// resulting count.
func (s *Store) DecRefBlob(ctx context.Context, tx *sql.Tx, id domain.BlobID) (int64, error) {
	if _, err := tx.ExecContext(ctx, "UPDATE blobs SET ref_count = ref_count - 1 WHERE id = ?", string(id)); err != nil {
		return 0, err
	}
	var n int64
	err := tx.QueryRowContext(ctx, "SELECT ref_count FROM blobs WHERE id = ?", string(id)).Scan(&n)
	return n, err
}

// DeleteBlob removes the blob row (the caller is responsible for removing
// the warm/cold object beforehand or after, per the tier's delete order).
func (s *Store) DeleteBlob(ctx context.Context, tx *sql.Tx, id domain.BlobID) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", string(id))
	return err
}

// SetBlobTier updates the tier column after a moveTier write lands.
func (s *Store) SetBlobTier(ctx context.Context, tx *sql.Tx, id domain.BlobID, tier domain.Tier, data []byte) error {
	_, err := tx.ExecContext(ctx, "UPDATE blobs SET tier = ?, data = ? WHERE id = ?", string(tier), data, string(id))
	return err
}

// OrphanBlobs returns up to limit blob rows with ref_count = 0 whose
// created_at_ms is at or before olderThanMs, ordered by creation time
// ascending, per the orphan cleanup scheduler's selection rule.
func (s *Store) OrphanBlobs(ctx context.Context, olderThanMs int64, limit int) ([]BlobRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, size, checksum, tier, ref_count, created_at_ms FROM blobs
		 WHERE ref_count = 0 AND created_at_ms <= ? ORDER BY created_at_ms ASC LIMIT ?`,
		olderThanMs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BlobRow
	for rows.Next() {
		var b BlobRow
		var idStr, tier string
		if err := rows.Scan(&idStr, &b.Data, &b.Size, &b.Checksum, &tier, &b.RefCount, &b.CreatedAtMs); err != nil {
			return nil, err
		}
		b.ID = domain.BlobID(idStr)
		b.Tier = domain.Tier(tier)
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountOrphans reports the number of zero-refcount blob rows, regardless of
// grace period — used by the orphan cleanup scheduler's shouldRun check.
func (s *Store) CountOrphans(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs WHERE ref_count = 0").Scan(&n)
	return n, err
}

// DedupStats computes the deduplication summary from spec.md §8 scenario 1.
func (s *Store) DedupStats(ctx context.Context) (domain.DedupStats, error) {
	var stats domain.DedupStats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(ref_count), 0), COALESCE(SUM((ref_count - 1) * size), 0)
		FROM blobs WHERE ref_count > 0`)
	if err := row.Scan(&stats.TotalBlobs, &stats.TotalRefs, &stats.SavedBytes); err != nil {
		return stats, err
	}
	if stats.TotalBlobs > 0 {
		stats.DedupRatio = float64(stats.TotalRefs) / float64(stats.TotalBlobs)
	}
	return stats, nil
}
