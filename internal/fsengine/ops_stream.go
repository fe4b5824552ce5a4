package fsengine

import (
	"context"
	"io"

	"github.com/dot-do/fsx/internal/domain"
)

// DefaultHighWaterMark is the default chunk size a ReadStream/WriteStream
// buffers before yielding or flushing, matching Node's fs.createReadStream
// default (64 KiB) since this spec's open/createReadStream/createWriteStream
// trio is a direct POSIX-flavored descendant of that API.
const DefaultHighWaterMark = 64 * 1024

// ReadStreamOptions bounds a read stream's range. Ranged must be set to
// true for Start/End to take effect, so a zero-value ReadStreamOptions
// reads the whole file rather than ambiguously meaning "range [0, 0]".
// CreateReadStream does not consult HighWaterMark; the chunk size is the
// argument passed to ReadStream.Chunks.
type ReadStreamOptions struct {
	Ranged        bool
	Start         int64 // inclusive
	End           int64 // inclusive; -1 means "to EOF"
	HighWaterMark int64 // not consulted by CreateReadStream
}

// ReadStream emits a file's bytes in HighWaterMark-bounded chunks. It
// implements io.Reader so callers can use io.Copy/io.ReadAll directly, per
// spec.md §4.4's "read stream emits chunks bounded by the high-water mark;
// a range read stream slices at the boundary".
type ReadStream struct {
	data []byte
	pos  int
}

// CreateReadStream loads the (optionally range-bounded) contents of the
// file at path and returns a ReadStream over them. The bytes are read
// eagerly at open time — the Blob Store has no partial-read API — but
// Read still honors the high-water mark by handing back bounded chunks.
func (e *Engine) CreateReadStream(ctx context.Context, p string, opts ReadStreamOptions) (*ReadStream, error) {
	var data []byte
	var err error
	if opts.Ranged {
		data, err = e.ReadRange(ctx, p, opts.Start, opts.End)
	} else {
		data, err = e.Read(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	return &ReadStream{data: data}, nil
}

// NewReadStream wraps already-materialized bytes in a ReadStream. Exported
// for callers that already have the bytes in hand (and for test doubles
// mirroring the Engine port) and just need the chunking/io.Reader adapter
// CreateReadStream itself builds on.
func NewReadStream(data []byte) *ReadStream {
	return &ReadStream{data: data}
}

// Read implements io.Reader, handing back at most len(p) bytes per call
// (chunking is caller-driven by the size of the buffer it passes in, the
// idiomatic Go reading of a high-water mark).
func (rs *ReadStream) Read(p []byte) (int, error) {
	if rs.pos >= len(rs.data) {
		return 0, io.EOF
	}
	n := copy(p, rs.data[rs.pos:])
	rs.pos += n
	return n, nil
}

// Chunks drains the stream into HighWaterMark-bounded chunks (falling back
// to DefaultHighWaterMark), for callers that want the spec's chunk framing
// directly instead of the io.Reader adapter.
func (rs *ReadStream) Chunks(highWaterMark int64) [][]byte {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	var chunks [][]byte
	for pos := rs.pos; pos < len(rs.data); pos += int(highWaterMark) {
		end := pos + int(highWaterMark)
		if end > len(rs.data) {
			end = len(rs.data)
		}
		chunks = append(chunks, append([]byte(nil), rs.data[pos:end]...))
	}
	rs.pos = len(rs.data)
	return chunks
}

// WriteStream accumulates chunks and materializes a single blob on Close,
// per spec.md §4.4: "subsequent writers observe all-or-nothing semantics".
// Nothing is written to the file until Close succeeds.
type WriteStream struct {
	engine *Engine
	path   string
	flags  WriteFlags
	buf    []byte
	closed bool
}

// CreateWriteStream returns a WriteStream over path. flags carries the same
// create/exclusive semantics as Write; they are checked at Close time
// against the state of the file as it exists then.
func (e *Engine) CreateWriteStream(ctx context.Context, p string, flags WriteFlags) (*WriteStream, error) {
	p, err := e.validate(p)
	if err != nil {
		return nil, err
	}
	return &WriteStream{engine: e, path: p, flags: flags}, nil
}

// Write implements io.Writer, appending p to the stream's pending buffer.
// No bytes reach the Blob Store until Close.
func (ws *WriteStream) Write(p []byte) (int, error) {
	if ws.closed {
		return 0, domain.NewPathError(domain.CodeInvalidArgument, "stream is closed", ws.path)
	}
	ws.buf = append(ws.buf, p...)
	return len(p), nil
}

// Close materializes the accumulated bytes as a single blob via Write.
// Calling Close more than once is a no-op.
func (ws *WriteStream) Close(ctx context.Context) error {
	if ws.closed {
		return nil
	}
	ws.closed = true
	return ws.engine.Write(ctx, ws.path, ws.buf, ws.flags)
}
