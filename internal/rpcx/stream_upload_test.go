package rpcx

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dot-do/fsx/internal/blobstore"
	"github.com/dot-do/fsx/internal/fsengine"
	"github.com/dot-do/fsx/internal/metastore"
)

func base64Encode(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func base64Decode(t *testing.T, s string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	return string(raw)
}

// newRealTestHandler wires a Handler to a real Engine (metastore + blobstore
// backed), for the handful of behaviors — PUT upload materialization, open
// handles — that a *fakeEngine double cannot stand in for because the Blob
// Store actually needs to receive bytes.
func newRealTestHandler(t *testing.T) *Handler {
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
	clock := time.Unix(0, 0)
	eng := fsengine.New(meta, blobs, "/", fsengine.WithClock(func() time.Time { return clock }))
	return New(eng, &fakeBroadcaster{}, &fakeIndex{}, Config{})
}

func Test_handleStreamUpload_materializesOneBlobOnClose(t *testing.T) {
	h := newRealTestHandler(t)
	req := httptest.NewRequest(http.MethodPut, "/fs/upload.txt", bytes.NewBufferString("streamed content"))
	w := httptest.NewRecorder()
	h.handleStream(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/fs/upload.txt", nil)
	getW := httptest.NewRecorder()
	h.handleStream(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getW.Code)
	}
	if getW.Body.String() != "streamed content" {
		t.Fatalf("got %q", getW.Body.String())
	}
}

func Test_dispatch_openHandleReadWriteCloseRoundTrip(t *testing.T) {
	h := newRealTestHandler(t)
	ctx := context.Background()

	if _, err := h.dispatch(ctx, "write", map[string]any{
		"path": "/h.txt", "data": base64Encode("hello"), "create": true,
	}); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	opened, err := h.dispatch(ctx, "open", map[string]any{"path": "/h.txt"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	handleID := opened.(map[string]string)["handle"]
	if handleID == "" {
		t.Fatal("expected non-empty handle id")
	}

	readResult, err := h.dispatch(ctx, "handleRead", map[string]any{"handle": handleID})
	if err != nil {
		t.Fatalf("handleRead: %v", err)
	}
	if got := base64Decode(t, readResult.(map[string]string)["data"]); got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}

	if _, err := h.dispatch(ctx, "handleWrite", map[string]any{
		"handle": handleID, "data": base64Encode("goodbye"),
	}); err != nil {
		t.Fatalf("handleWrite: %v", err)
	}
	if _, err := h.dispatch(ctx, "handleClose", map[string]any{"handle": handleID}); err != nil {
		t.Fatalf("handleClose: %v", err)
	}

	final, err := h.dispatch(ctx, "read", map[string]any{"path": "/h.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := base64Decode(t, final.(map[string]string)["data"]); got != "goodbye" {
		t.Fatalf("expected %q, got %q", "goodbye", got)
	}

	if _, err := h.dispatch(ctx, "handleRead", map[string]any{"handle": handleID}); err == nil {
		t.Fatal("expected error reading from a closed/forgotten handle")
	}
}
