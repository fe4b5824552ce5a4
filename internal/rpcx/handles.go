package rpcx

import (
	"strconv"

	"github.com/dot-do/fsx/internal/domain"
	"github.com/dot-do/fsx/internal/fsengine"
)

// registerHandle stores h under its string id so later RPC calls
// (handleRead/handleWrite/handleStat/handleTruncate/handleSync/handleClose)
// can address it by id, the way a Node fs.open file descriptor is reused
// across subsequent syscalls.
func (h *Handler) registerHandle(handle *fsengine.Handle) string {
	id := strconv.FormatUint(handle.ID(), 10)
	h.handlesMu.Lock()
	h.handles[id] = handle
	h.handlesMu.Unlock()
	return id
}

func (h *Handler) lookupHandle(id string) (*fsengine.Handle, error) {
	h.handlesMu.Lock()
	handle, ok := h.handles[id]
	h.handlesMu.Unlock()
	if !ok {
		return nil, domain.NewError(domain.CodeNotFound, "no such open handle: "+id)
	}
	return handle, nil
}

func (h *Handler) forgetHandle(id string) {
	h.handlesMu.Lock()
	delete(h.handles, id)
	h.handlesMu.Unlock()
}

// handleParam extracts the "handle" string param and resolves it to the
// open *fsengine.Handle it names.
func (h *Handler) handleParam(params map[string]any) (*fsengine.Handle, error) {
	id, err := stringParam(params, "handle")
	if err != nil {
		return nil, err
	}
	return h.lookupHandle(id)
}
