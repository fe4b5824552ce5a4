// Package rpcx is the filesystem service's external interface: a JSON-RPC
// style method-dispatch endpoint, a content-addressable streaming endpoint
// with range/conditional-request support, and a websocket watch endpoint,
// per spec.md §6.
//
// Grounded on the teacher's internal/httpx package: a Handler struct holding
// a narrow service port, a Router() building an http.ServeMux, one file per
// concern (rpc.go/stream.go/watch.go mirroring create.go/consume.go/
// health.go), and a single error-translation table (errors.go mirroring
// httpx/errors.go's mapServiceError). The teacher's two competing
// correlation-ID implementations (correlation.go vs middleware.go) are
// consolidated into the one in correlation.go.
package rpcx

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dot-do/fsx/internal/domain"
	"github.com/dot-do/fsx/internal/fsengine"
	"github.com/dot-do/fsx/internal/watch"
)

// ReaddirOptions is an alias for fsengine.ReaddirOptions, re-exported so
// callers assembling dispatch params do not need to import fsengine
// directly.
type ReaddirOptions = fsengine.ReaddirOptions

// WriteFlags is an alias for fsengine.WriteFlags.
type WriteFlags = fsengine.WriteFlags

// Engine is the subset of *fsengine.Engine the RPC surface dispatches to.
// Kept narrow so rpcx does not depend on fsengine's full surface, in
// keeping with the teacher's ServicePort pattern (internal/httpx.
// ServicePort abstracting *app.Service).
type Engine interface {
	Mkdir(ctx context.Context, path string, mode uint32, recursive bool) error
	Readdir(ctx context.Context, path string, opts ReaddirOptions) ([]*domain.Inode, error)
	Rmdir(ctx context.Context, path string, recursive bool) error
	Rm(ctx context.Context, path string, recursive, force bool) error
	Rename(ctx context.Context, oldPath, newPath string, overwrite bool) error
	CopyFile(ctx context.Context, srcPath, dstPath string, preserveMeta bool) error
	CopyDir(ctx context.Context, srcPath, dstPath string, preserveMeta bool) error
	Symlink(ctx context.Context, target, linkPath string) error
	Readlink(ctx context.Context, path string) (string, error)
	Link(ctx context.Context, existingPath, linkPath string) error

	Stat(ctx context.Context, path string) (*domain.Inode, error)
	Lstat(ctx context.Context, path string) (*domain.Inode, error)
	Exists(ctx context.Context, path string) (bool, error)
	Access(ctx context.Context, path string) error
	Realpath(ctx context.Context, path string) (string, error)
	Chmod(ctx context.Context, path string, mode uint32) error
	Chown(ctx context.Context, path string, uid, gid uint32) error
	Utimes(ctx context.Context, path string, atimeMs, mtimeMs int64) error

	Read(ctx context.Context, path string) ([]byte, error)
	ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, flags WriteFlags) error
	Append(ctx context.Context, path string, data []byte) error
	Truncate(ctx context.Context, path string, length int64) error
	Unlink(ctx context.Context, path string) error

	Open(ctx context.Context, path string) (*fsengine.Handle, error)
	CreateReadStream(ctx context.Context, path string, opts fsengine.ReadStreamOptions) (*fsengine.ReadStream, error)
	CreateWriteStream(ctx context.Context, path string, flags WriteFlags) (*fsengine.WriteStream, error)

	DedupStats(ctx context.Context) (domain.DedupStats, error)
}

// Broadcaster is the subset of *watch.Broadcaster the watch endpoint needs.
type Broadcaster interface {
	Accept(id string, conn watch.Conn) error
	Touch(sub string)
	ResetMissedPongs(sub string)
	Remove(sub string)
}

// SubscriptionIndex is the subset of *watch.Index the watch endpoint needs.
type SubscriptionIndex interface {
	Subscribe(sub, pattern string, recursive bool) error
	Unsubscribe(sub, pattern string)
	UnsubscribeAll(sub string)
}

// Config tunes the Handler's ingress rate limit and logging.
type Config struct {
	MaxBody        int64
	IngressRate    float64 // requests/sec; <=0 disables throttling
	IngressBurst   int
	Readiness      func(context.Context) error
	Logger         *slog.Logger
	MaxWatchConns  int
	WatchRecursive bool
}

// Handler wires the RPC, streaming, and watch endpoints to the filesystem
// engine and watch broadcaster.
type Handler struct {
	engine      Engine
	broadcaster Broadcaster
	index       SubscriptionIndex
	cfg         Config
	log         *slog.Logger
	limiter     *IngressLimiter

	handlesMu sync.Mutex
	handles   map[string]*fsengine.Handle
}

// New returns a configured Handler.
func New(engine Engine, broadcaster Broadcaster, index SubscriptionIndex, cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		engine: engine, broadcaster: broadcaster, index: index, cfg: cfg,
		log:     cfg.Logger.With("domain", "rpcx"),
		handles: make(map[string]*fsengine.Handle),
	}
	if cfg.IngressRate > 0 {
		h.limiter = NewIngressLimiter(cfg.IngressRate, cfg.IngressBurst)
	}
	return h
}

// Router builds the http.Handler mounting every route, wrapped in
// correlation-ID and (if configured) ingress-throttle middleware.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", h.handleRPC)
	mux.HandleFunc("GET /fs/", h.handleStream)
	mux.HandleFunc("PUT /fs/", h.handleStream)
	mux.HandleFunc("/watch", h.handleWatch)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)

	var handler http.Handler = mux
	if h.limiter != nil {
		handler = h.limiter.Middleware(handler)
	}
	return CorrelationIDMiddleware(handler)
}
