package fsengine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dot-do/fsx/internal/domain"
)

// handleCounter mints the monotonic ids backing Open, per SPEC_FULL.md's
// resolution of the teacher's random-fd-on-every-close behavior: a
// well-defined, never-reused counter instead of a random number.
var handleCounter atomic.Uint64

// Handle is the simple read/write/stat/truncate/sync/close handle returned
// by Open, per spec.md §4.4. A Handle buffers its file's full contents in
// memory; Sync and Close are the only points at which it touches the Blob
// Store, materializing one new content-addressed blob and decRef'ing
// whatever blob it replaces. Two handles open on the same path do not
// coordinate: the last one to Sync or Close wins, each producing its own
// blob and decRef'ing what it replaced.
type Handle struct {
	id     uint64
	engine *Engine
	path   string

	mu     sync.Mutex
	buf    []byte
	dirty  bool
	closed bool
}

// ID returns the handle's monotonic identifier.
func (h *Handle) ID() uint64 { return h.id }

// Open returns a Handle over the file at path. If the file does not exist,
// the handle starts empty and the file is created by the first Sync or
// Close that follows a Write or Truncate on the handle; a handle closed
// without either leaves no file behind.
func (e *Engine) Open(ctx context.Context, p string) (*Handle, error) {
	start := e.now()
	p, err := e.validate(p)
	if err != nil {
		return nil, err
	}
	data, err := e.Read(ctx, p)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	h := &Handle{
		id:     handleCounter.Add(1),
		engine: e,
		path:   p,
		buf:    append([]byte(nil), data...),
	}
	e.recordOp("open", start)
	return h, nil
}

// Read returns the handle's current in-memory contents.
func (h *Handle) Read(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, domain.NewPathError(domain.CodeInvalidArgument, "handle is closed", h.path)
	}
	return append([]byte(nil), h.buf...), nil
}

// Write replaces the handle's in-memory contents. Nothing reaches the Blob
// Store until Sync or Close, per spec.md §4.4's "simple handle" framing.
func (h *Handle) Write(ctx context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.NewPathError(domain.CodeInvalidArgument, "handle is closed", h.path)
	}
	h.buf = append([]byte(nil), data...)
	h.dirty = true
	return nil
}

// Truncate resizes the handle's in-memory contents to length bytes,
// zero-padding on growth, matching the standalone Truncate operation.
func (h *Handle) Truncate(ctx context.Context, length int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.NewPathError(domain.CodeInvalidArgument, "handle is closed", h.path)
	}
	switch {
	case length <= int64(len(h.buf)):
		h.buf = h.buf[:length]
	default:
		padded := make([]byte, length)
		copy(padded, h.buf)
		h.buf = padded
	}
	h.dirty = true
	return nil
}

// Stat returns the current inode for the handle's path.
func (h *Handle) Stat(ctx context.Context) (*domain.Inode, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, domain.NewPathError(domain.CodeInvalidArgument, "handle is closed", h.path)
	}
	return h.engine.Stat(ctx, h.path)
}

// Sync flushes pending writes to the Blob Store without closing the handle.
func (h *Handle) Sync(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked(ctx)
}

// Close flushes any pending writes and marks the handle unusable. Calling
// Close more than once is a no-op, matching the teacher's idempotent-Close
// convention (internal/store/filesystem's single-consume reader).
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	err := h.flushLocked(ctx)
	h.closed = true
	return err
}

func (h *Handle) flushLocked(ctx context.Context) error {
	if !h.dirty {
		return nil
	}
	if err := h.engine.Write(ctx, h.path, h.buf, WriteFlags{Create: true}); err != nil {
		return err
	}
	h.dirty = false
	return nil
}
