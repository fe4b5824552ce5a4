package fsengine

import (
	"context"

	"github.com/dot-do/fsx/internal/domain"
)

// Mkdir creates a directory at path. With recursive, missing ancestor
// directories are created as needed, each with the same mode as the leaf.
func (e *Engine) Mkdir(ctx context.Context, p string, mode uint32, recursive bool) error {
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

	if err := e.mkdirTx(ctx, t, p, mode, recursive); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventCreate, Path: p, EmittedAtMs: e.nowMs(), IsDirectory: true})
	e.recordOp("mkdir", start)
	return nil
}

func (e *Engine) mkdirTx(ctx context.Context, t *tx, p string, mode uint32, recursive bool) error {
	if _, err := e.meta.GetByPath(ctx, t.Tx, p); err == nil {
		return domain.NewPathError(domain.CodeAlreadyExists, "file already exists", p)
	} else if !isNotFound(err) {
		return err
	}

	parentPath := dirname(p)
	parent, err := e.meta.GetByPath(ctx, t.Tx, parentPath)
	if isNotFound(err) {
		if !recursive {
			return domain.NewPathError(domain.CodeNotFound, "no such file or directory", parentPath)
		}
		if err := e.mkdirTx(ctx, t, parentPath, mode, true); err != nil {
			return err
		}
		parent, err = e.meta.GetByPath(ctx, t.Tx, parentPath)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	if !parent.IsDir() {
		return domain.NewPathError(domain.CodeNotDirectory, "not a directory", parentPath)
	}

	now := e.nowMs()
	n := &domain.Inode{
		Path: p, Name: basename(p), ParentID: &parent.ID, Type: domain.TypeDirectory,
		Mode: mode, Tier: domain.TierHot, ATimeMs: now, MTimeMs: now, CTimeMs: now, BirthTimeMs: now, NLink: 2,
	}
	_, err = e.meta.Insert(ctx, t.Tx, n)
	return err
}

// ReaddirOptions controls Readdir's output shape.
type ReaddirOptions struct {
	Recursive bool
	WithTypes bool
}

// Readdir lists the children of the directory at path.
func (e *Engine) Readdir(ctx context.Context, p string, opts ReaddirOptions) ([]*domain.Inode, error) {
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

	dir, err := e.resolve(t, p, MaxSymlinkHops)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, domain.NewPathError(domain.CodeNotDirectory, "not a directory", p)
	}
	out, err := e.listChildren(ctx, t, dir.ID, opts.Recursive)
	if err != nil {
		return nil, err
	}
	if err := t.commit(); err != nil {
		return nil, err
	}
	e.recordOp("readdir", start)
	return out, nil
}

func (e *Engine) listChildren(ctx context.Context, t *tx, parentID int64, recursive bool) ([]*domain.Inode, error) {
	children, err := e.meta.Children(ctx, t.Tx, parentID)
	if err != nil {
		return nil, err
	}
	out := append([]*domain.Inode(nil), children...)
	if recursive {
		for _, c := range children {
			if c.IsDir() {
				sub, err := e.listChildren(ctx, t, c.ID, true)
				if err != nil {
					return nil, err
				}
				out = append(out, sub...)
			}
		}
	}
	return out, nil
}

// Rmdir removes the empty directory at path; with recursive, it walks and
// removes every descendant depth-first, decrementing contained blobs.
func (e *Engine) Rmdir(ctx context.Context, p string, recursive bool) error {
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
	if !n.IsDir() {
		return domain.NewPathError(domain.CodeNotDirectory, "not a directory", p)
	}
	count, err := e.meta.CountChildren(ctx, t.Tx, n.ID)
	if err != nil {
		return err
	}
	if count > 0 && !recursive {
		return domain.NewPathError(domain.CodeNotEmpty, "directory not empty", p)
	}
	if recursive {
		if err := e.removeSubtree(ctx, t, n); err != nil {
			return err
		}
	} else if err := e.meta.Delete(ctx, t.Tx, n.ID); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventDelete, Path: p, EmittedAtMs: e.nowMs(), IsDirectory: true})
	e.recordOp("rmdir", start)
	return nil
}

// removeSubtree walks n's children depth-first (idempotent under retry:
// each step is its own delete/decRef keyed on a row that either exists or
// doesn't), removing every row and decrementing every contained blob.
func (e *Engine) removeSubtree(ctx context.Context, t *tx, n *domain.Inode) error {
	if n.IsDir() {
		children, err := e.meta.Children(ctx, t.Tx, n.ID)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := e.removeSubtree(ctx, t, c); err != nil {
				return err
			}
		}
	} else if n.BlobID != nil {
		if err := e.blobs.DecRef(ctx, t.Tx, *n.BlobID, n.Tier); err != nil {
			return err
		}
	}
	return e.meta.Delete(ctx, t.Tx, n.ID)
}

// Rm removes the inode at path, whatever its type; recursive+force mirrors
// rm -rf semantics (missing targets are not an error when force is set).
func (e *Engine) Rm(ctx context.Context, p string, recursive, force bool) error {
	exists, err := e.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		if force {
			return nil
		}
		return domain.NewPathError(domain.CodeNotFound, "no such file or directory", p)
	}
	n, err := e.Lstat(ctx, p)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return e.Rmdir(ctx, p, recursive)
	}
	return e.Unlink(ctx, p)
}

// Rename atomically re-parents the inode at oldPath to newPath, rewriting
// every descendant's path for a directory source. overwrite controls
// whether an existing target is replaced.
func (e *Engine) Rename(ctx context.Context, oldPath, newPath string, overwrite bool) error {
	start := e.now()
	oldPath, err := e.validate(oldPath)
	if err != nil {
		return err
	}
	newPath, err = e.validate(newPath)
	if err != nil {
		return err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer t.rollback()

	src, err := e.meta.GetByPath(ctx, t.Tx, oldPath)
	if err != nil {
		return err
	}
	if target, err := e.meta.GetByPath(ctx, t.Tx, newPath); err == nil {
		if !overwrite {
			return domain.NewPathError(domain.CodeAlreadyExists, "file already exists", newPath)
		}
		if target.BlobID != nil {
			if err := e.blobs.DecRef(ctx, t.Tx, *target.BlobID, target.Tier); err != nil {
				return err
			}
		}
		if err := e.meta.Delete(ctx, t.Tx, target.ID); err != nil {
			return err
		}
	} else if !isNotFound(err) {
		return err
	}

	newParent, err := e.meta.GetByPath(ctx, t.Tx, dirname(newPath))
	if err != nil {
		return err
	}
	src.Path = newPath
	src.Name = basename(newPath)
	src.ParentID = &newParent.ID
	src.CTimeMs = e.nowMs()
	if err := e.meta.Update(ctx, t.Tx, src); err != nil {
		return err
	}
	if src.IsDir() {
		if err := e.meta.RewritePathPrefix(ctx, t.Tx, oldPath, newPath); err != nil {
			return err
		}
	}
	if err := t.commit(); err != nil {
		return err
	}
	now := e.nowMs()
	isDir := src.IsDir()
	// A subscriber watching the source subtree needs to learn it is gone;
	// a subscriber watching the destination needs to learn it arrived and
	// where it came from. OldPath on the destination event is what lets a
	// watcher correlate the two without guessing.
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventRename, Path: oldPath, OldPath: oldPath, EmittedAtMs: now, IsDirectory: isDir})
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventRename, Path: newPath, OldPath: oldPath, EmittedAtMs: now, IsDirectory: isDir})
	e.recordOp("rename", start)
	return nil
}

// CopyFile copies a regular file's content-addressed blob to a new inode
// via incRef, never rehashing the source bytes.
func (e *Engine) CopyFile(ctx context.Context, srcPath, dstPath string, preserveMeta bool) error {
	start := e.now()
	srcPath, err := e.validate(srcPath)
	if err != nil {
		return err
	}
	dstPath, err = e.validate(dstPath)
	if err != nil {
		return err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer t.rollback()

	if err := e.copyFileTx(ctx, t, srcPath, dstPath, preserveMeta); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventCreate, Path: dstPath, EmittedAtMs: e.nowMs()})
	e.recordOp("copyFile", start)
	return nil
}

func (e *Engine) copyFileTx(ctx context.Context, t *tx, srcPath, dstPath string, preserveMeta bool) error {
	src, err := e.meta.GetByPath(ctx, t.Tx, srcPath)
	if err != nil {
		return err
	}
	if !src.IsFile() {
		return domain.NewPathError(domain.CodeIsDirectory, "is a directory", srcPath)
	}
	parent, err := e.meta.GetByPath(ctx, t.Tx, dirname(dstPath))
	if err != nil {
		return err
	}
	now := e.nowMs()
	n := &domain.Inode{
		Path: dstPath, Name: basename(dstPath), ParentID: &parent.ID, Type: domain.TypeFile,
		Mode: 0o644, Size: src.Size, BlobID: src.BlobID, Tier: src.Tier,
		ATimeMs: now, MTimeMs: now, CTimeMs: now, BirthTimeMs: now, NLink: 1,
	}
	if preserveMeta {
		n.Mode = src.Mode
		n.UID = src.UID
		n.GID = src.GID
	}
	if _, err := e.meta.Insert(ctx, t.Tx, n); err != nil {
		return err
	}
	if src.BlobID != nil {
		if err := e.blobs.IncRef(ctx, t.Tx, *src.BlobID); err != nil {
			return err
		}
	}
	return nil
}

// CopyDir recursively copies a directory subtree; file entries reuse the
// source's blob id via incRef rather than rehashing, per spec.md §4.4.
func (e *Engine) CopyDir(ctx context.Context, srcPath, dstPath string, preserveMeta bool) error {
	start := e.now()
	srcPath, err := e.validate(srcPath)
	if err != nil {
		return err
	}
	dstPath, err = e.validate(dstPath)
	if err != nil {
		return err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer t.rollback()

	if err := e.copyDirTx(ctx, t, srcPath, dstPath, preserveMeta); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventCreate, Path: dstPath, EmittedAtMs: e.nowMs(), IsDirectory: true})
	e.recordOp("copyDir", start)
	return nil
}

func (e *Engine) copyDirTx(ctx context.Context, t *tx, srcPath, dstPath string, preserveMeta bool) error {
	src, err := e.meta.GetByPath(ctx, t.Tx, srcPath)
	if err != nil {
		return err
	}
	if !src.IsDir() {
		return domain.NewPathError(domain.CodeNotDirectory, "not a directory", srcPath)
	}
	if err := e.mkdirTx(ctx, t, dstPath, src.Mode, true); err != nil {
		return err
	}
	children, err := e.meta.Children(ctx, t.Tx, src.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		childDst := dstPath + "/" + c.Name
		if c.IsDir() {
			if err := e.copyDirTx(ctx, t, c.Path, childDst, preserveMeta); err != nil {
				return err
			}
		} else if c.IsFile() {
			if err := e.copyFileTx(ctx, t, c.Path, childDst, preserveMeta); err != nil {
				return err
			}
		} else {
			if err := e.symlinkTx(ctx, t, *c.SymlinkTarget, childDst); err != nil {
				return err
			}
		}
	}
	return nil
}

// Symlink creates a symlink at linkPath pointing at target, stored
// verbatim without existence validation; dangling symlinks are permitted
// by design.
func (e *Engine) Symlink(ctx context.Context, target, linkPath string) error {
	start := e.now()
	linkPath, err := e.validate(linkPath)
	if err != nil {
		return err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer t.rollback()
	if err := e.symlinkTx(ctx, t, target, linkPath); err != nil {
		return err
	}
	if err := t.commit(); err != nil {
		return err
	}
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventCreate, Path: linkPath, EmittedAtMs: e.nowMs()})
	e.recordOp("symlink", start)
	return nil
}

func (e *Engine) symlinkTx(ctx context.Context, t *tx, target, linkPath string) error {
	parent, err := e.meta.GetByPath(ctx, t.Tx, dirname(linkPath))
	if err != nil {
		return err
	}
	now := e.nowMs()
	n := &domain.Inode{
		Path: linkPath, Name: basename(linkPath), ParentID: &parent.ID, Type: domain.TypeSymlink,
		Mode: 0o777, SymlinkTarget: &target, Tier: domain.TierHot,
		ATimeMs: now, MTimeMs: now, CTimeMs: now, BirthTimeMs: now, NLink: 1,
	}
	_, err = e.meta.Insert(ctx, t.Tx, n)
	return err
}

// Readlink returns a symlink's stored target string verbatim.
func (e *Engine) Readlink(ctx context.Context, p string) (string, error) {
	n, err := e.Lstat(ctx, p)
	if err != nil {
		return "", err
	}
	if !n.IsSymlink() {
		return "", domain.NewPathError(domain.CodeInvalidArgument, "not a symbolic link", p)
	}
	return *n.SymlinkTarget, nil
}

// Link creates a hard link: a second inode row sharing the same blob id
// (if any), mode/uid/gid/size, with nlink+1 on both rows.
func (e *Engine) Link(ctx context.Context, existingPath, linkPath string) error {
	start := e.now()
	existingPath, err := e.validate(existingPath)
	if err != nil {
		return err
	}
	linkPath, err = e.validate(linkPath)
	if err != nil {
		return err
	}
	t, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer t.rollback()

	src, err := e.meta.GetByPath(ctx, t.Tx, existingPath)
	if err != nil {
		return err
	}
	if src.IsDir() {
		return domain.NewPathError(domain.CodeIsDirectory, "is a directory", existingPath)
	}
	parent, err := e.meta.GetByPath(ctx, t.Tx, dirname(linkPath))
	if err != nil {
		return err
	}
	now := e.nowMs()
	src.NLink++
	if err := e.meta.Update(ctx, t.Tx, src); err != nil {
		return err
	}
	n := &domain.Inode{
		Path: linkPath, Name: basename(linkPath), ParentID: &parent.ID, Type: src.Type,
		Mode: src.Mode, UID: src.UID, GID: src.GID, Size: src.Size, BlobID: src.BlobID, Tier: src.Tier,
		ATimeMs: now, MTimeMs: now, CTimeMs: now, BirthTimeMs: now, NLink: src.NLink,
	}
	if _, err := e.meta.Insert(ctx, t.Tx, n); err != nil {
		return err
	}
	if src.BlobID != nil {
		if err := e.blobs.IncRef(ctx, t.Tx, *src.BlobID); err != nil {
			return err
		}
	}
	if err := t.commit(); err != nil {
		return err
	}
	e.sink.QueueEvent(domain.ChangeEvent{Type: domain.EventCreate, Path: linkPath, EmittedAtMs: now})
	e.recordOp("link", start)
	return nil
}

// maybeRunBackgroundCleanup lets any mutation path opportunistically
// trigger the orphan cleanup scheduler, per spec.md §4.4.
func (e *Engine) maybeRunBackgroundCleanup(ctx context.Context) {
	if e.cleanup == nil {
		return
	}
	e.cleanup.MaybeRunBackground(ctx)
}
