package fsengine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dot-do/fsx/internal/blobstore"
	"github.com/dot-do/fsx/internal/domain"
	"github.com/dot-do/fsx/internal/metastore"
)

type fakeSink struct{ events []domain.ChangeEvent }

func (f *fakeSink) QueueEvent(e domain.ChangeEvent) { f.events = append(f.events, e) }

func newTestEngine(t *testing.T) (*Engine, *fakeSink) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_journal_mode=WAL&_foreign_keys=on"
	meta, err := metastore.Open(dsn)
	if err != nil {
		t.Fatalf("metastore.Open: %v", err)
	}
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := blobstore.New(meta, nil, nil, 16)
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	sink := &fakeSink{}
	clock := time.Unix(0, 0)
	e := New(meta, blobs, "/", WithEventSink(sink), WithClock(func() time.Time { return clock }))
	return e, sink
}

func TestWriteThenRead(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/a.txt", []byte("hello"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := e.Read(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteDedupTwoFiles(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/a.txt", []byte("hello"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := e.Write(ctx, "/b.txt", []byte("hello"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write b: %v", err)
	}
	stats, err := e.meta.DedupStats(ctx)
	if err != nil {
		t.Fatalf("DedupStats: %v", err)
	}
	if stats.TotalBlobs != 1 || stats.TotalRefs != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SavedBytes != 5 {
		t.Fatalf("expected saved bytes 5, got %d", stats.SavedBytes)
	}
}

func TestCopyFileSharesBlobID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/a.txt", []byte("hello"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.CopyFile(ctx, "/a.txt", "/b.txt", false); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	a, err := e.Lstat(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Lstat a: %v", err)
	}
	b, err := e.Lstat(ctx, "/b.txt")
	if err != nil {
		t.Fatalf("Lstat b: %v", err)
	}
	if *a.BlobID != *b.BlobID {
		t.Fatalf("expected shared blob id, got %s vs %s", *a.BlobID, *b.BlobID)
	}
	got, err := e.Read(ctx, "/b.txt")
	if err != nil || string(got) != "hello" {
		t.Fatalf("Read b: %q %v", got, err)
	}
}

func TestRangeRead(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/f", []byte("Hello, World!"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := e.ReadRange(ctx, "/f", 7, 11)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if string(got) != "World" {
		t.Fatalf("got %q", got)
	}
}

func TestAppendConcatenatesBytes(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/a.txt", []byte("hello"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Append(ctx, "/a.txt", []byte(" world")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := e.Read(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestAppendCreatesMissingFile(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Append(ctx, "/new.txt", []byte("first")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := e.Read(ctx, "/new.txt")
	if err != nil || string(got) != "first" {
		t.Fatalf("Read: %q %v", got, err)
	}
}

func TestTruncateShrinksAndPadsWithZeroBytes(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/a.txt", []byte("hello world"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Truncate(ctx, "/a.txt", 5); err != nil {
		t.Fatalf("Truncate shrink: %v", err)
	}
	got, err := e.Read(ctx, "/a.txt")
	if err != nil || string(got) != "hello" {
		t.Fatalf("Read after shrink: %q %v", got, err)
	}
	if err := e.Truncate(ctx, "/a.txt", 8); err != nil {
		t.Fatalf("Truncate grow: %v", err)
	}
	got, err = e.Read(ctx, "/a.txt")
	if err != nil {
		t.Fatalf("Read after grow: %v", err)
	}
	want := []byte("hello\x00\x00\x00")
	if string(got) != string(want) {
		t.Fatalf("expected zero-padded bytes %q, got %q", want, got)
	}
}

func TestUnlinkThenOrphanCleanupGracePeriod(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/x.txt", []byte("hi"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Unlink(ctx, "/x.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	cleaner := NewOrphanCleaner(e, CleanupConfig{MinOrphanCount: 1, MinOrphanAgeMs: 60_000, BatchSize: 100, Async: false})
	n, err := cleaner.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 cleaned within grace period, got %d", n)
	}

	cleaner2 := NewOrphanCleaner(e, CleanupConfig{MinOrphanCount: 1, MinOrphanAgeMs: 0, BatchSize: 100, Async: false})
	n, err = cleaner2.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce after grace: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cleaned after grace period, got %d", n)
	}
}

func TestRenameRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/p", []byte("data"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Rename(ctx, "/p", "/q", false); err != nil {
		t.Fatalf("Rename p->q: %v", err)
	}
	if err := e.Rename(ctx, "/q", "/p", false); err != nil {
		t.Fatalf("Rename q->p: %v", err)
	}
	got, err := e.Read(ctx, "/p")
	if err != nil || string(got) != "data" {
		t.Fatalf("expected original state restored: %q %v", got, err)
	}
}

func TestRenameDirectoryRewritesDescendantPaths(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Mkdir(ctx, "/a", 0o755, false); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := e.Write(ctx, "/a/f.txt", []byte("x"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Rename(ctx, "/a", "/z", false); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := e.Stat(ctx, "/z/f.txt"); err != nil {
		t.Fatalf("expected /z/f.txt to exist: %v", err)
	}
}

func TestRmdirNotEmptyWithoutRecursive(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Mkdir(ctx, "/d", 0o755, false); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := e.Write(ctx, "/d/f.txt", []byte("x"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err := e.Rmdir(ctx, "/d", false)
	if code, ok := domain.CodeOf(err); !ok || code != domain.CodeNotEmpty {
		t.Fatalf("expected NotEmpty, got %v", err)
	}
	if err := e.Rmdir(ctx, "/d", true); err != nil {
		t.Fatalf("recursive Rmdir: %v", err)
	}
}

func TestHardLinkSharesBlobAndIncrementsNLink(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/a", []byte("data"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.Link(ctx, "/a", "/b"); err != nil {
		t.Fatalf("Link: %v", err)
	}
	a, err := e.Lstat(ctx, "/a")
	if err != nil {
		t.Fatalf("Lstat a: %v", err)
	}
	if a.NLink != 2 {
		t.Fatalf("expected nlink 2 on source, got %d", a.NLink)
	}
}

func TestSymlinkChainDepthBoundary(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Write(ctx, "/target", []byte("leaf"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	prev := "/target"
	for i := 0; i < 40; i++ {
		link := "/link" + itoa(i)
		if err := e.Symlink(ctx, prev, link); err != nil {
			t.Fatalf("Symlink %d: %v", i, err)
		}
		prev = link
	}
	if _, err := e.Read(ctx, prev); err != nil {
		t.Fatalf("expected 40-hop chain to resolve: %v", err)
	}

	if err := e.Symlink(ctx, prev, "/linkTooMany"); err != nil {
		t.Fatalf("Symlink overflow: %v", err)
	}
	_, err := e.Read(ctx, "/linkTooMany")
	if code, ok := domain.CodeOf(err); !ok || code != domain.CodeTooManyLinks {
		t.Fatalf("expected TooManyLinks, got %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestRmdirRecursiveDecrementsBlobRefs(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Mkdir(ctx, "/d", 0o755, false); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := e.Write(ctx, "/d/a.txt", []byte("shared"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	if err := e.Write(ctx, "/other.txt", []byte("shared"), WriteFlags{Create: true}); err != nil {
		t.Fatalf("Write other: %v", err)
	}
	if err := e.Rmdir(ctx, "/d", true); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	got, err := e.Read(ctx, "/other.txt")
	if err != nil || string(got) != "shared" {
		t.Fatalf("expected sibling reference to survive: %q %v", got, err)
	}
}
