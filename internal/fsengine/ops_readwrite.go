package fsengine

import (
	"context"

	"github.com/dot-do/fsx/internal/domain"
)

// WriteFlags controls Write's create/exclusive semantics, per spec.md §4.4.
type WriteFlags struct {
	Create    bool
	Exclusive bool
}

// Read returns the full contents of the file at path, following a trailing
// symlink (bounded at MaxSymlinkHops). Reading updates the inode's access
// time.
func (e *Engine) Read(ctx context.Context, p string) ([]byte, error) {
	return e.readRange(ctx, p, 0, -1)
}

// ReadRange returns the inclusive [start, end] byte window of the file at
// path. end == -1 means "to EOF".
func (e *Engine) ReadRange(ctx context.Context, p string, start, end int64) ([]byte, error) {
	return e.readRange(ctx, p, start, end)
}

func (e *Engine) readRange(ctx context.Context, p string, start, end int64) ([]byte, error) {
	opStart := e.now()
	p, err := e.validate(p)
	if err != nil {
		return nil, err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer t.rollback()

	n, err := e.resolve(t, p, MaxSymlinkHops)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return nil, domain.NewPathError(domain.CodeIsDirectory, "is a directory", p)
	}
	var data []byte
	if n.BlobID != nil {
		data, err = e.blobs.Get(ctx, t.Tx, *n.BlobID)
		if err != nil {
			return nil, err
		}
	}
	n.ATimeMs = e.nowMs()
	if err := e.meta.Update(ctx, t.Tx, n); err != nil {
		return nil, err
	}
	if err := t.commit(); err != nil {
		return nil, err
	}
	e.recordOp("read", opStart)

	if end < 0 || end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}
	if start < 0 {
		start = 0
	}
	if start > end || len(data) == 0 {
		return []byte{}, nil
	}
	return data[start : end+1], nil
}

// Write replaces the full contents of the file at path with data. The
// write is always content-addressed: the new blob is put before the old
// one is decRef'd, so a crash mid-write leaves the old blob live (spec.md
// §4.4).
func (e *Engine) Write(ctx context.Context, p string, data []byte, flags WriteFlags) error {
	start := e.now()
	p, err := e.validate(p)
	if err != nil {
		return err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer t.rollback()

	existing, err := e.meta.GetByPath(ctx, t.Tx, p)
	notFound := isNotFound(err)
	if err != nil && !notFound {
		return err
	}
	if notFound && !flags.Create {
		return domain.NewPathError(domain.CodeNotFound, "no such file or directory", p)
	}
	if !notFound && flags.Exclusive {
		return domain.NewPathError(domain.CodeAlreadyExists, "file already exists", p)
	}

	tier := e.blobs.SelectTier(int64(len(data)))
	newID, err := e.blobs.Put(ctx, t.Tx, data, tier)
	if err != nil {
		return err
	}

	now := e.nowMs()
	if notFound {
		parent, err := e.meta.GetByPath(ctx, t.Tx, dirname(p))
		if err != nil {
			return err
		}
		n := &domain.Inode{
			Path: p, Name: basename(p), ParentID: &parent.ID, Type: domain.TypeFile,
			Mode: 0o644, Size: int64(len(data)), BlobID: &newID, Tier: tier,
			ATimeMs: now, MTimeMs: now, CTimeMs: now, BirthTimeMs: now, NLink: 1,
		}
		if _, err := e.meta.Insert(ctx, t.Tx, n); err != nil {
			return err
		}
	} else {
		oldID := existing.BlobID
		existing.BlobID = &newID
		existing.Size = int64(len(data))
		existing.Tier = tier
		existing.MTimeMs = now
		existing.CTimeMs = now
		if err := e.meta.Update(ctx, t.Tx, existing); err != nil {
			return err
		}
		if oldID != nil && *oldID != newID {
			if err := e.blobs.DecRef(ctx, t.Tx, *oldID, existing.Tier); err != nil {
				return err
			}
		}
	}
	if err := t.commit(); err != nil {
		return err
	}
	eventType := domain.EventModify
	if notFound {
		eventType = domain.EventCreate
	}
	e.sink.QueueEvent(domain.ChangeEvent{
		Type: eventType, Path: p, EmittedAtMs: now,
		Size: int64(len(data)), HasSize: true,
	})
	e.recordOp("write", start)
	e.maybeRunBackgroundCleanup(ctx)
	return nil
}

// Append reads the existing blob, concatenates data, stores the result as
// a new blob, and swaps the inode's blob id.
func (e *Engine) Append(ctx context.Context, p string, data []byte) error {
	existing, err := e.Read(ctx, p)
	if err != nil && !isNotFound(err) {
		return err
	}
	combined := append(append([]byte(nil), existing...), data...)
	return e.Write(ctx, p, combined, WriteFlags{Create: true})
}

// Truncate resizes the file at path to length bytes, content-addressing
// the resulting (possibly padded or shortened) bytes like any other write.
func (e *Engine) Truncate(ctx context.Context, p string, length int64) error {
	data, err := e.Read(ctx, p)
	if err != nil {
		return err
	}
	switch {
	case length <= int64(len(data)):
		data = data[:length]
	default:
		padded := make([]byte, length)
		copy(padded, data)
		data = padded
	}
	return e.Write(ctx, p, data, WriteFlags{})
}

// Unlink removes the inode at path and decRefs its blob, if any.
func (e *Engine) Unlink(ctx context.Context, p string) error {
	start := e.now()
	p, err := e.validate(p)
	if err != nil {
		return err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer t.rollback()

	n, err := e.meta.GetByPath(ctx, t.Tx, p)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return domain.NewPathError(domain.CodeIsDirectory, "is a directory", p)
	}
	if err := e.meta.Delete(ctx, t.Tx, n.ID); err != nil {
		return err
	}
	if n.BlobID != nil {
		if err := e.blobs.DecRef(ctx, t.Tx, *n.BlobID, n.Tier); err != nil {
			return err
		}
	}
	if err := t.commit(); err != nil {
		return err
	}
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventDelete, Path: p, EmittedAtMs: e.nowMs()})
	e.recordOp("unlink", start)
	e.maybeRunBackgroundCleanup(ctx)
	return nil
}

func isNotFound(err error) bool {
	code, ok := domain.CodeOf(err)
	return ok && code == domain.CodeNotFound
}
