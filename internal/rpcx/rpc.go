package rpcx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/dot-do/fsx/internal/domain"
)

// rpcRequest is the wire shape for POST /rpc, per spec.md §6.1: a method
// name and a parameter map.
type rpcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// handleRPC implements POST /rpc: decode {method, params}, dispatch to the
// matching Engine method, and encode the result (or a typed error).
func (h *Handler) handleRPC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cfg.MaxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBody)
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorBody(w, http.StatusBadRequest, errorBody{Code: string(domain.CodeInvalidArgument), Message: "malformed request body"})
		return
	}

	result, err := h.dispatch(ctx, req.Method, req.Params)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// param helpers extract typed values out of the loosely-typed params map,
// returning an InvalidArgument FsError on a missing or wrong-typed key.

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", domain.NewError(domain.CodeInvalidArgument, "missing param: "+key)
	}
	s, ok := v.(string)
	if !ok {
		return "", domain.NewError(domain.CodeInvalidArgument, "param not a string: "+key)
	}
	return s, nil
}

func optStringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}

func boolParam(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}

func numberParam(params map[string]any, key string) int64 {
	switch v := params[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// dispatch maps an RPC method name to the matching Engine call, per the
// operation surface in spec.md §4.4. Methods not named here return
// InvalidArgument.
func (h *Handler) dispatch(ctx context.Context, method string, params map[string]any) (any, error) {
	switch method {
	case "mkdir":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		mode := numberParam(params, "mode")
		if mode == 0 {
			mode = 0o755
		}
		return nil, h.engine.Mkdir(ctx, p, uint32(mode), boolParam(params, "recursive"))

	case "readdir":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		entries, err := h.engine.Readdir(ctx, p, ReaddirOptions{Recursive: boolParam(params, "recursive")})
		if err != nil {
			return nil, err
		}
		return entries, nil

	case "rmdir":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Rmdir(ctx, p, boolParam(params, "recursive"))

	case "rm":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Rm(ctx, p, boolParam(params, "recursive"), boolParam(params, "force"))

	case "rename":
		oldPath, err := stringParam(params, "oldPath")
		if err != nil {
			return nil, err
		}
		newPath, err := stringParam(params, "newPath")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Rename(ctx, oldPath, newPath, boolParam(params, "overwrite"))

	case "copyFile":
		src, err := stringParam(params, "srcPath")
		if err != nil {
			return nil, err
		}
		dst, err := stringParam(params, "dstPath")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.CopyFile(ctx, src, dst, boolParam(params, "preserveMeta"))

	case "copyDir":
		src, err := stringParam(params, "srcPath")
		if err != nil {
			return nil, err
		}
		dst, err := stringParam(params, "dstPath")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.CopyDir(ctx, src, dst, boolParam(params, "preserveMeta"))

	case "symlink":
		target, err := stringParam(params, "target")
		if err != nil {
			return nil, err
		}
		linkPath, err := stringParam(params, "linkPath")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Symlink(ctx, target, linkPath)

	case "readlink":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		target, err := h.engine.Readlink(ctx, p)
		if err != nil {
			return nil, err
		}
		return map[string]string{"target": target}, nil

	case "link":
		existing, err := stringParam(params, "existingPath")
		if err != nil {
			return nil, err
		}
		linkPath, err := stringParam(params, "linkPath")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Link(ctx, existing, linkPath)

	case "stat":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return h.engine.Stat(ctx, p)

	case "lstat":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return h.engine.Lstat(ctx, p)

	case "exists":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		ok, err := h.engine.Exists(ctx, p)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"exists": ok}, nil

	case "access":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Access(ctx, p)

	case "realpath":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		resolved, err := h.engine.Realpath(ctx, p)
		if err != nil {
			return nil, err
		}
		return map[string]string{"path": resolved}, nil

	case "chmod":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Chmod(ctx, p, uint32(numberParam(params, "mode")))

	case "chown":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Chown(ctx, p, uint32(numberParam(params, "uid")), uint32(numberParam(params, "gid")))

	case "utimes":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Utimes(ctx, p, numberParam(params, "atimeMs"), numberParam(params, "mtimeMs"))

	case "write":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		dataB64, err := stringParam(params, "data")
		if err != nil {
			return nil, err
		}
		data, decErr := base64.StdEncoding.DecodeString(dataB64)
		if decErr != nil {
			return nil, domain.NewError(domain.CodeInvalidArgument, "data is not valid base64")
		}
		flags := WriteFlags{Create: boolParam(params, "create"), Exclusive: boolParam(params, "exclusive")}
		return nil, h.engine.Write(ctx, p, data, flags)

	case "read":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		data, err := h.engine.Read(ctx, p)
		if err != nil {
			return nil, err
		}
		return map[string]string{"data": base64.StdEncoding.EncodeToString(data)}, nil

	case "append":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		dataB64, err := stringParam(params, "data")
		if err != nil {
			return nil, err
		}
		data, decErr := base64.StdEncoding.DecodeString(dataB64)
		if decErr != nil {
			return nil, domain.NewError(domain.CodeInvalidArgument, "data is not valid base64")
		}
		return nil, h.engine.Append(ctx, p, data)

	case "truncate":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Truncate(ctx, p, numberParam(params, "length"))

	case "unlink":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		return nil, h.engine.Unlink(ctx, p)

	case "open":
		p, err := stringParam(params, "path")
		if err != nil {
			return nil, err
		}
		handle, err := h.engine.Open(ctx, p)
		if err != nil {
			return nil, err
		}
		return map[string]string{"handle": h.registerHandle(handle)}, nil

	case "handleRead":
		handle, err := h.handleParam(params)
		if err != nil {
			return nil, err
		}
		data, err := handle.Read(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"data": base64.StdEncoding.EncodeToString(data)}, nil

	case "handleWrite":
		handle, err := h.handleParam(params)
		if err != nil {
			return nil, err
		}
		dataB64, err := stringParam(params, "data")
		if err != nil {
			return nil, err
		}
		data, decErr := base64.StdEncoding.DecodeString(dataB64)
		if decErr != nil {
			return nil, domain.NewError(domain.CodeInvalidArgument, "data is not valid base64")
		}
		return nil, handle.Write(ctx, data)

	case "handleTruncate":
		handle, err := h.handleParam(params)
		if err != nil {
			return nil, err
		}
		return nil, handle.Truncate(ctx, numberParam(params, "length"))

	case "handleStat":
		handle, err := h.handleParam(params)
		if err != nil {
			return nil, err
		}
		return handle.Stat(ctx)

	case "handleSync":
		handle, err := h.handleParam(params)
		if err != nil {
			return nil, err
		}
		return nil, handle.Sync(ctx)

	case "handleClose":
		id, err := stringParam(params, "handle")
		if err != nil {
			return nil, err
		}
		handle, err := h.lookupHandle(id)
		if err != nil {
			return nil, err
		}
		err = handle.Close(ctx)
		h.forgetHandle(id)
		return nil, err

	case "getDedupStats":
		return h.engine.DedupStats(ctx)

	default:
		return nil, domain.NewError(domain.CodeInvalidArgument, "unknown method: "+method)
	}
}
