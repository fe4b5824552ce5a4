package rpcx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dot-do/fsx/internal/domain"
)

func statResult(path string, size int64, mtimeMs int64) *domain.Inode {
	return &domain.Inode{Path: path, Name: path, Type: domain.TypeFile, Size: size, MTimeMs: mtimeMs}
}

func Test_handleStream_fullReadSetsHeaders(t *testing.T) {
	eng := &fakeEngine{statResult: statResult("/a.txt", 5, 1000), readResult: []byte("hello")}
	h := newTestHandler(eng, &fakeBroadcaster{}, &fakeIndex{})

	req := httptest.NewRequest(http.MethodGet, "/fs/a.txt", nil)
	w := httptest.NewRecorder()
	h.handleStream(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", w.Body.String())
	}
	if w.Header().Get("ETag") != `"5-1000"` {
		t.Fatalf("unexpected etag %q", w.Header().Get("ETag"))
	}
	if w.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected Accept-Ranges: bytes")
	}
	if w.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
}

func Test_handleStream_directoryIsIsDirectoryError(t *testing.T) {
	eng := &fakeEngine{statResult: &domain.Inode{Path: "/d", Type: domain.TypeDirectory}}
	h := newTestHandler(eng, &fakeBroadcaster{}, &fakeIndex{})
	req := httptest.NewRequest(http.MethodGet, "/fs/d", nil)
	w := httptest.NewRecorder()
	h.handleStream(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func Test_handleStream_ifNoneMatchReturns304(t *testing.T) {
	eng := &fakeEngine{statResult: statResult("/a.txt", 5, 1000), readResult: []byte("hello")}
	h := newTestHandler(eng, &fakeBroadcaster{}, &fakeIndex{})
	req := httptest.NewRequest(http.MethodGet, "/fs/a.txt", nil)
	req.Header.Set("If-None-Match", `"5-1000"`)
	w := httptest.NewRecorder()
	h.handleStream(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
}

func Test_handleStream_ifMatchMismatchReturns412(t *testing.T) {
	eng := &fakeEngine{statResult: statResult("/a.txt", 5, 1000), readResult: []byte("hello")}
	h := newTestHandler(eng, &fakeBroadcaster{}, &fakeIndex{})
	req := httptest.NewRequest(http.MethodGet, "/fs/a.txt", nil)
	req.Header.Set("If-Match", `"stale"`)
	w := httptest.NewRecorder()
	h.handleStream(w, req)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", w.Code)
	}
}

func Test_handleStream_rangeRequestReturns206(t *testing.T) {
	eng := &fakeEngine{
		statResult: statResult("/a.txt", 11, 1000),
		readRangeFn: func(start, end int64) ([]byte, error) {
			full := []byte("hello world")
			return full[start : end+1], nil
		},
	}
	h := newTestHandler(eng, &fakeBroadcaster{}, &fakeIndex{})
	req := httptest.NewRequest(http.MethodGet, "/fs/a.txt", nil)
	req.Header.Set("Range", "bytes=0-4")
	w := httptest.NewRecorder()
	h.handleStream(w, req)
	if w.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "hello" {
		t.Fatalf("expected %q, got %q", "hello", w.Body.String())
	}
	if w.Header().Get("Content-Range") != "bytes 0-4/11" {
		t.Fatalf("unexpected content-range %q", w.Header().Get("Content-Range"))
	}
}

func Test_handleStream_unsatisfiableRangeReturns416(t *testing.T) {
	eng := &fakeEngine{statResult: statResult("/a.txt", 11, 1000)}
	h := newTestHandler(eng, &fakeBroadcaster{}, &fakeIndex{})
	req := httptest.NewRequest(http.MethodGet, "/fs/a.txt", nil)
	req.Header.Set("Range", "bytes=100-200")
	w := httptest.NewRecorder()
	h.handleStream(w, req)
	if w.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", w.Code)
	}
	if w.Header().Get("Content-Range") != "bytes */11" {
		t.Fatalf("unexpected content-range %q", w.Header().Get("Content-Range"))
	}
}

func Test_parseRange(t *testing.T) {
	cases := []struct {
		header           string
		size             int64
		wantStart, wantEnd int64
		wantOK           bool
	}{
		{"bytes=0-4", 11, 0, 4, true},
		{"bytes=5-", 11, 5, 10, true},
		{"bytes=-5", 11, 6, 10, true},
		{"bytes=-100", 11, 0, 10, true}, // suffix larger than size clamps to whole file
		{"bytes=100-200", 11, 0, 0, false},
		{"bytes=0-4,6-8", 11, 0, 0, false}, // multi-range rejected
		{"nonsense", 11, 0, 0, false},
		{"bytes=0-4", 0, 0, 0, false}, // empty file has no satisfiable range
	}
	for _, tc := range cases {
		start, end, ok := parseRange(tc.header, tc.size)
		if ok != tc.wantOK {
			t.Fatalf("header=%q size=%d: expected ok=%v, got %v", tc.header, tc.size, tc.wantOK, ok)
		}
		if ok && (start != tc.wantStart || end != tc.wantEnd) {
			t.Fatalf("header=%q: expected [%d,%d], got [%d,%d]", tc.header, tc.wantStart, tc.wantEnd, start, end)
		}
	}
}

func Test_contentTypeForPath(t *testing.T) {
	cases := map[string]string{
		"/a.json":      "application/json",
		"/a.PNG":       "image/png",
		"/noext":       "application/octet-stream",
		"/a.unknown":   "application/octet-stream",
		"/dir/b.html":  "text/html; charset=utf-8",
	}
	for path, want := range cases {
		if got := contentTypeForPath(path); got != want {
			t.Fatalf("path=%q: expected %q, got %q", path, want, got)
		}
	}
}
