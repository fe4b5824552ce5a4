package rpcx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func Test_handleHealth_alwaysOK(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, &fakeBroadcaster{}, &fakeIndex{})
	w := httptest.NewRecorder()
	h.handleHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func Test_handleReady_noProbeIsReady(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, &fakeBroadcaster{}, &fakeIndex{})
	w := httptest.NewRecorder()
	h.handleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func Test_handleReady_failingProbeIs503(t *testing.T) {
	eng := &fakeEngine{}
	h := New(eng, &fakeBroadcaster{}, &fakeIndex{}, Config{
		Readiness: func(ctx context.Context) error { return errors.New("metastore unreachable") },
	})
	w := httptest.NewRecorder()
	h.handleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
