package rpcx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dot-do/fsx/internal/domain"
)

// errorBody is the wire shape for a typed RPC/HTTP error, per spec.md §6.1:
// {code, message, path?}.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// statusForCode maps a domain.Code to its HTTP status, per spec.md §7.
func statusForCode(code domain.Code) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyExists:
		return http.StatusConflict
	case domain.CodeNotDirectory, domain.CodeIsDirectory, domain.CodeNotEmpty, domain.CodeInvalidArgument, domain.CodeNameTooLong:
		return http.StatusBadRequest
	case domain.CodePermissionDenied:
		return http.StatusForbidden
	case domain.CodeTooManyLinks:
		return http.StatusLoopDetected
	case domain.CodeResourceExhausted:
		return http.StatusServiceUnavailable
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error body mapped from err, logging at a level
// keyed to severity the way the teacher's httpx.mapServiceError does.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	code, ok := domain.CodeOf(err)
	if !ok {
		slog.Error("unhandled rpc error", "cid", cid, "err", err)
		h.writeErrorBody(w, http.StatusInternalServerError, errorBody{Code: "Internal", Message: "internal error"})
		return
	}
	fe, _ := err.(*domain.FsError)
	status := statusForCode(code)
	if status >= 500 {
		slog.Error("rpc error", "cid", cid, "code", code)
	} else {
		slog.Info("rpc error", "cid", cid, "code", code)
	}
	body := errorBody{Code: string(code), Message: fe.Msg, Path: fe.Path}
	h.writeErrorBody(w, status, body)
}

func (h *Handler) writeErrorBody(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
