package rpcx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dot-do/fsx/internal/domain"
)

func Test_statusForCode(t *testing.T) {
	cases := map[domain.Code]int{
		domain.CodeNotFound:          http.StatusNotFound,
		domain.CodeAlreadyExists:     http.StatusConflict,
		domain.CodeNotDirectory:      http.StatusBadRequest,
		domain.CodeIsDirectory:       http.StatusBadRequest,
		domain.CodeNotEmpty:          http.StatusBadRequest,
		domain.CodeInvalidArgument:   http.StatusBadRequest,
		domain.CodeNameTooLong:       http.StatusBadRequest,
		domain.CodePermissionDenied:  http.StatusForbidden,
		domain.CodeTooManyLinks:      http.StatusLoopDetected,
		domain.CodeResourceExhausted: http.StatusServiceUnavailable,
		domain.CodeRateLimited:       http.StatusTooManyRequests,
		domain.CodeUnavailable:       http.StatusServiceUnavailable,
	}
	for code, want := range cases {
		if got := statusForCode(code); got != want {
			t.Fatalf("code=%s: expected %d, got %d", code, want, got)
		}
	}
	if got := statusForCode(domain.Code("SomethingElse")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", got)
	}
}

func Test_writeError_nonFsErrorIs500(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, &fakeBroadcaster{}, &fakeIndex{})
	w := httptest.NewRecorder()
	h.writeError(context.Background(), w, errBoom)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != "Internal" {
		t.Fatalf("expected Internal code, got %q", body.Code)
	}
}

func Test_writeError_fsErrorCarriesPathAndMessage(t *testing.T) {
	h := newTestHandler(&fakeEngine{}, &fakeBroadcaster{}, &fakeIndex{})
	w := httptest.NewRecorder()
	h.writeError(context.Background(), w, domain.NewPathError(domain.CodeNotFound, "no such file", "/x"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Path != "/x" || body.Message != "no such file" {
		t.Fatalf("unexpected body: %+v", body)
	}
}
