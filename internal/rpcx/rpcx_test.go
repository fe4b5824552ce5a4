package rpcx

import (
	"context"
	"errors"

	"github.com/dot-do/fsx/internal/domain"
	"github.com/dot-do/fsx/internal/fsengine"
	"github.com/dot-do/fsx/internal/watch"
)

// fakeEngine is a test double for Engine recording the last call it
// received and returning configurable results, mirroring the teacher's
// fakeServicePort test doubles in internal/httpx.
type fakeEngine struct {
	lastMethod string
	lastArgs   []any

	statResult  *domain.Inode
	statErr     error
	readResult  []byte
	readErr     error
	readRangeFn func(start, end int64) ([]byte, error)
	dedupStats  domain.DedupStats
	dedupErr    error
	err         error // returned by every void-result method when set

	handle      *fsengine.Handle
	readStream  *fsengine.ReadStream
	writeStream *fsengine.WriteStream
}

func (f *fakeEngine) Mkdir(ctx context.Context, path string, mode uint32, recursive bool) error {
	f.lastMethod = "mkdir"
	f.lastArgs = []any{path, mode, recursive}
	return f.err
}

func (f *fakeEngine) Readdir(ctx context.Context, path string, opts ReaddirOptions) ([]*domain.Inode, error) {
	f.lastMethod = "readdir"
	f.lastArgs = []any{path, opts}
	if f.err != nil {
		return nil, f.err
	}
	return []*domain.Inode{{Path: path + "/child", Name: "child", Type: domain.TypeFile}}, nil
}

func (f *fakeEngine) Rmdir(ctx context.Context, path string, recursive bool) error {
	f.lastMethod = "rmdir"
	f.lastArgs = []any{path, recursive}
	return f.err
}

func (f *fakeEngine) Rm(ctx context.Context, path string, recursive, force bool) error {
	f.lastMethod = "rm"
	f.lastArgs = []any{path, recursive, force}
	return f.err
}

func (f *fakeEngine) Rename(ctx context.Context, oldPath, newPath string, overwrite bool) error {
	f.lastMethod = "rename"
	f.lastArgs = []any{oldPath, newPath, overwrite}
	return f.err
}

func (f *fakeEngine) CopyFile(ctx context.Context, srcPath, dstPath string, preserveMeta bool) error {
	f.lastMethod = "copyFile"
	f.lastArgs = []any{srcPath, dstPath, preserveMeta}
	return f.err
}

func (f *fakeEngine) CopyDir(ctx context.Context, srcPath, dstPath string, preserveMeta bool) error {
	f.lastMethod = "copyDir"
	f.lastArgs = []any{srcPath, dstPath, preserveMeta}
	return f.err
}

func (f *fakeEngine) Symlink(ctx context.Context, target, linkPath string) error {
	f.lastMethod = "symlink"
	f.lastArgs = []any{target, linkPath}
	return f.err
}

func (f *fakeEngine) Readlink(ctx context.Context, path string) (string, error) {
	f.lastMethod = "readlink"
	f.lastArgs = []any{path}
	if f.err != nil {
		return "", f.err
	}
	return "/target", nil
}

func (f *fakeEngine) Link(ctx context.Context, existingPath, linkPath string) error {
	f.lastMethod = "link"
	f.lastArgs = []any{existingPath, linkPath}
	return f.err
}

func (f *fakeEngine) Stat(ctx context.Context, path string) (*domain.Inode, error) {
	f.lastMethod = "stat"
	f.lastArgs = []any{path}
	if f.statErr != nil {
		return nil, f.statErr
	}
	if f.statResult != nil {
		return f.statResult, nil
	}
	return &domain.Inode{Path: path, Name: path, Type: domain.TypeFile}, nil
}

func (f *fakeEngine) Lstat(ctx context.Context, path string) (*domain.Inode, error) {
	return f.Stat(ctx, path)
}

func (f *fakeEngine) Exists(ctx context.Context, path string) (bool, error) {
	f.lastMethod = "exists"
	f.lastArgs = []any{path}
	return f.err == nil, nil
}

func (f *fakeEngine) Access(ctx context.Context, path string) error {
	f.lastMethod = "access"
	f.lastArgs = []any{path}
	return f.err
}

func (f *fakeEngine) Realpath(ctx context.Context, path string) (string, error) {
	f.lastMethod = "realpath"
	f.lastArgs = []any{path}
	if f.err != nil {
		return "", f.err
	}
	return path, nil
}

func (f *fakeEngine) Chmod(ctx context.Context, path string, mode uint32) error {
	f.lastMethod = "chmod"
	f.lastArgs = []any{path, mode}
	return f.err
}

func (f *fakeEngine) Chown(ctx context.Context, path string, uid, gid uint32) error {
	f.lastMethod = "chown"
	f.lastArgs = []any{path, uid, gid}
	return f.err
}

func (f *fakeEngine) Utimes(ctx context.Context, path string, atimeMs, mtimeMs int64) error {
	f.lastMethod = "utimes"
	f.lastArgs = []any{path, atimeMs, mtimeMs}
	return f.err
}

func (f *fakeEngine) Read(ctx context.Context, path string) ([]byte, error) {
	f.lastMethod = "read"
	f.lastArgs = []any{path}
	return f.readResult, f.readErr
}

func (f *fakeEngine) ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	f.lastMethod = "readRange"
	f.lastArgs = []any{path, start, end}
	if f.readRangeFn != nil {
		return f.readRangeFn(start, end)
	}
	return f.readResult, f.readErr
}

func (f *fakeEngine) Write(ctx context.Context, path string, data []byte, flags WriteFlags) error {
	f.lastMethod = "write"
	f.lastArgs = []any{path, data, flags}
	return f.err
}

func (f *fakeEngine) Append(ctx context.Context, path string, data []byte) error {
	f.lastMethod = "append"
	f.lastArgs = []any{path, data}
	return f.err
}

func (f *fakeEngine) Truncate(ctx context.Context, path string, length int64) error {
	f.lastMethod = "truncate"
	f.lastArgs = []any{path, length}
	return f.err
}

func (f *fakeEngine) Open(ctx context.Context, path string) (*fsengine.Handle, error) {
	f.lastMethod = "open"
	f.lastArgs = []any{path}
	return f.handle, f.err
}

func (f *fakeEngine) CreateReadStream(ctx context.Context, path string, opts fsengine.ReadStreamOptions) (*fsengine.ReadStream, error) {
	f.lastMethod = "createReadStream"
	f.lastArgs = []any{path, opts}
	if f.err != nil {
		return nil, f.err
	}
	if f.readStream != nil {
		return f.readStream, nil
	}
	if opts.Ranged && f.readRangeFn != nil {
		data, err := f.readRangeFn(opts.Start, opts.End)
		if err != nil {
			return nil, err
		}
		return fsengine.NewReadStream(data), nil
	}
	return fsengine.NewReadStream(f.readResult), nil
}

func (f *fakeEngine) CreateWriteStream(ctx context.Context, path string, flags WriteFlags) (*fsengine.WriteStream, error) {
	f.lastMethod = "createWriteStream"
	f.lastArgs = []any{path, flags}
	return f.writeStream, f.err
}

func (f *fakeEngine) Unlink(ctx context.Context, path string) error {
	f.lastMethod = "unlink"
	f.lastArgs = []any{path}
	return f.err
}

func (f *fakeEngine) DedupStats(ctx context.Context) (domain.DedupStats, error) {
	f.lastMethod = "getDedupStats"
	return f.dedupStats, f.dedupErr
}

// fakeBroadcaster records Accept/Touch/ResetMissedPongs/Remove calls.
type fakeBroadcaster struct {
	acceptErr error
	accepted  []string
	removed   []string
	touched   []string
}

func (f *fakeBroadcaster) Accept(id string, conn watch.Conn) error {
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepted = append(f.accepted, id)
	return nil
}

func (f *fakeBroadcaster) Touch(sub string)             { f.touched = append(f.touched, sub) }
func (f *fakeBroadcaster) ResetMissedPongs(sub string)  {}
func (f *fakeBroadcaster) Remove(sub string)            { f.removed = append(f.removed, sub) }

// fakeIndex records Subscribe/Unsubscribe/UnsubscribeAll calls.
type fakeIndex struct {
	subscribeErr error
	subscribed   []string
	unsubscribed []string
}

func (f *fakeIndex) Subscribe(sub, pattern string, recursive bool) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, pattern)
	return nil
}

func (f *fakeIndex) Unsubscribe(sub, pattern string) { f.unsubscribed = append(f.unsubscribed, pattern) }
func (f *fakeIndex) UnsubscribeAll(sub string)        {}

var errBoom = errors.New("boom")

func newTestHandler(eng *fakeEngine, bc *fakeBroadcaster, idx *fakeIndex) *Handler {
	return New(eng, bc, idx, Config{})
}
