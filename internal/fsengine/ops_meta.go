package fsengine

import (
	"context"

	"github.com/dot-do/fsx/internal/domain"
)

// Stat returns the inode at path, following a trailing symlink.
func (e *Engine) Stat(ctx context.Context, p string) (*domain.Inode, error) {
	start := e.now()
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
	if err := t.commit(); err != nil {
		return nil, err
	}
	e.recordOp("stat", start)
	return n, nil
}

// Lstat returns the inode at path without following a trailing symlink.
func (e *Engine) Lstat(ctx context.Context, p string) (*domain.Inode, error) {
	start := e.now()
	p, err := e.validate(p)
	if err != nil {
		return nil, err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer t.rollback()

	n, err := e.meta.GetByPath(ctx, t.Tx, p)
	if err != nil {
		return nil, err
	}
	if err := t.commit(); err != nil {
		return nil, err
	}
	e.recordOp("lstat", start)
	return n, nil
}

// Exists reports whether path resolves to an inode (following symlinks).
func (e *Engine) Exists(ctx context.Context, p string) (bool, error) {
	_, err := e.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if code, ok := domain.CodeOf(err); ok && code == domain.CodeNotFound {
		return false, nil
	}
	return false, err
}

// Access is a lightweight existence check; fine-grained permission bits
// are not modeled beyond the mode field, so Access simply reports whether
// the target exists.
func (e *Engine) Access(ctx context.Context, p string) error {
	ok, err := e.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewPathError(domain.CodeNotFound, "no such file or directory", p)
	}
	return nil
}

// Realpath resolves path through all symlink hops and returns the final
// absolute path.
func (e *Engine) Realpath(ctx context.Context, p string) (string, error) {
	start := e.now()
	p, err := e.validate(p)
	if err != nil {
		return "", err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return "", err
	}
	defer t.rollback()

	n, err := e.resolve(t, p, MaxSymlinkHops)
	if err != nil {
		return "", err
	}
	if err := t.commit(); err != nil {
		return "", err
	}
	e.recordOp("realpath", start)
	return n.Path, nil
}

// DedupStats reports deduplication effectiveness across every stored blob,
// per spec.md §8 scenario 1's getDedupStats contract.
func (e *Engine) DedupStats(ctx context.Context) (domain.DedupStats, error) {
	start := e.now()
	stats, err := e.meta.DedupStats(ctx)
	if err != nil {
		return domain.DedupStats{}, err
	}
	e.recordOp("getDedupStats", start)
	return stats, nil
}

// Chmod updates an inode's mode bits.
func (e *Engine) Chmod(ctx context.Context, p string, mode uint32) error {
	return e.mutateInode(ctx, p, func(n *domain.Inode) {
		n.Mode = mode
		n.CTimeMs = e.nowMs()
	})
}

// Chown updates an inode's uid/gid.
func (e *Engine) Chown(ctx context.Context, p string, uid, gid uint32) error {
	return e.mutateInode(ctx, p, func(n *domain.Inode) {
		n.UID = uid
		n.GID = gid
		n.CTimeMs = e.nowMs()
	})
}

// Utimes updates an inode's access and modification times.
func (e *Engine) Utimes(ctx context.Context, p string, atimeMs, mtimeMs int64) error {
	return e.mutateInode(ctx, p, func(n *domain.Inode) {
		n.ATimeMs = atimeMs
		n.MTimeMs = mtimeMs
	})
}

// mutateInode loads the inode at path (without following symlinks — these
// are attribute operations, which act on the link itself), applies mutate,
// persists, and emits a modify event.
func (e *Engine) mutateInode(ctx context.Context, p string, mutate func(*domain.Inode)) error {
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
	mutate(n)
	if err := e.meta.Update(ctx, t.Tx, n); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventModify, Path: p, EmittedAtMs: e.nowMs()})
	e.recordOp("setattr", start)
	return nil
}

// resolve loads the inode at p, following up to maxHops symlink targets.
func (e *Engine) resolve(t *tx, p string, hopsLeft int) (*domain.Inode, error) {
	n, err := e.meta.GetByPath(t.ctx, t.Tx, p)
	if err != nil {
		return nil, err
	}
	if !n.IsSymlink() {
		return n, nil
	}
	if hopsLeft <= 0 {
		return nil, domain.NewPathError(domain.CodeTooManyLinks, "too many levels of symbolic links", p)
	}
	target := *n.SymlinkTarget
	next := target
	if !isAbs(target) {
		next = joinPath(dirname(p), target)
	}
	resolved, err := e.validate(next)
	if err != nil {
		return nil, err
	}
	return e.resolve(t, resolved, hopsLeft-1)
}

func isAbs(p string) bool { return len(p) > 0 && p[0] == '/' }

func joinPath(dir, rel string) string {
	if dir == "/" {
		return "/" + rel
	}
	return dir + "/" + rel
}
