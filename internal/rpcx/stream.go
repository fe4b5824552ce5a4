package rpcx

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dot-do/fsx/internal/domain"
	"github.com/dot-do/fsx/internal/fsengine"
)

// handleStream implements GET/PUT /fs/{path}: content-addressed streaming
// with an ETag, conditional requests, and byte-range support on GET (spec.md
// §6.2), and a chunked upload on PUT backed by CreateWriteStream (spec.md
// §4.4's "writes accumulate chunks and materialize a single blob on stream
// close").
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := strings.TrimPrefix(r.URL.Path, "/fs")
	if path == "" {
		path = "/"
	}

	if r.Method == http.MethodPut {
		h.handleStreamUpload(w, r, path)
		return
	}

	n, err := h.engine.Stat(ctx, path)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if n.IsDir() {
		h.writeError(ctx, w, domain.NewPathError(domain.CodeIsDirectory, "is a directory", path))
		return
	}

	etag := fmt.Sprintf(`"%d-%d"`, n.Size, n.MTimeMs)
	lastModified := httpDate(n.MTimeMs)

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if im := r.Header.Get("If-Match"); im != "" && im != etag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	w.Header().Set("Content-Type", contentTypeForPath(path))
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", lastModified)

	rangeHeader := r.Header.Get("Range")
	opts := fsengine.ReadStreamOptions{}
	status := http.StatusOK
	if rangeHeader != "" {
		start, end, ok := parseRange(rangeHeader, n.Size)
		if !ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", n.Size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		opts = fsengine.ReadStreamOptions{Ranged: true, Start: start, End: end}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, n.Size))
		status = http.StatusPartialContent
	} else {
		w.Header().Set("Accept-Ranges", "bytes")
	}

	stream, err := h.engine.CreateReadStream(ctx, path, opts)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	data := stream.Chunks(0)
	total := 0
	for _, c := range data {
		total += len(c)
	}
	w.Header().Set("Content-Length", strconv.Itoa(total))
	w.WriteHeader(status)
	for _, c := range data {
		_, _ = w.Write(c)
	}
}

// handleStreamUpload implements PUT /fs/{path}: the request body is copied
// into a CreateWriteStream in HighWaterMark-sized reads and materialized as
// a single blob when the body is fully drained, per spec.md §4.4.
func (h *Handler) handleStreamUpload(w http.ResponseWriter, r *http.Request, path string) {
	ctx := r.Context()
	ws, err := h.engine.CreateWriteStream(ctx, path, fsengine.WriteFlags{Create: true})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	buf := make([]byte, fsengine.DefaultHighWaterMark)
	if _, err := io.CopyBuffer(ws, r.Body, buf); err != nil {
		h.writeError(ctx, w, domain.NewPathError(domain.CodeInvalidArgument, "reading request body: "+err.Error(), path))
		return
	}
	if err := ws.Close(ctx); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseRange parses a single "bytes=..." range per spec.md §6.2's three
// shapes: start-end, start-, -suffix. Returns ok=false for an unsatisfiable
// or malformed range.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	// Only a single range is supported; reject multi-range requests.
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	startStr, endStr := parts[0], parts[1]

	switch {
	case startStr == "" && endStr != "":
		// suffix: last N bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		start = size - n
		end = size - 1
	case startStr != "" && endStr == "":
		s, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || s < 0 {
			return 0, 0, false
		}
		start = s
		end = size - 1
	case startStr != "" && endStr != "":
		s, err1 := strconv.ParseInt(startStr, 10, 64)
		e, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil || s < 0 || e < s {
			return 0, 0, false
		}
		start, end = s, e
	default:
		return 0, 0, false
	}

	if size == 0 || start >= size {
		return 0, 0, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true
}

// httpDate formats an epoch-milliseconds timestamp as an RFC 1123 HTTP date.
func httpDate(ms int64) string {
	return timeFromMs(ms).UTC().Format(http.TimeFormat)
}
