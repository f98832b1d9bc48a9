// Package serve exposes the merged source+generated tree over HTTP and
// pushes build events to connected clients over a websocket, so watch-mode
// rebuilds can trigger live reloads.
package serve

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vk/assetforge/internal/ctxlog"
)

// LiveReloadPath is the websocket endpoint clients subscribe to.
const LiveReloadPath = "/$livereload"

// BuildEvent is pushed to every connected client after each build.
type BuildEvent struct {
	Succeeded bool `json:"succeeded"`
	Actions   int  `json:"actions"`
	Outputs   int  `json:"outputs"`
}

// Resolver maps a request path to asset bytes in the merged tree.
type Resolver func(path string) ([]byte, bool)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The server binds locally for development; cross-origin pages on
		// the same host are expected (editors, preview panes).
		return true
	},
}

// Server serves built assets and fans build events out to subscribers.
type Server struct {
	addr    string
	resolve Resolver

	httpServer *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New creates a Server. The resolver is consulted per request, so it always
// reflects the latest completed build.
func New(addr string, resolve Resolver) *Server {
	return &Server{
		addr:    addr,
		resolve: resolve,
		conns:   map[*websocket.Conn]struct{}{},
	}
}

// Handler returns the server's routing handler; Run uses it, and tests can
// mount it directly.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(LiveReloadPath, s.handleLiveReload(ctx))
	mux.HandleFunc("/", s.handleAsset(ctx))
	return mux
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.Handler(ctx)}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🌍 Development server listening.", "address", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Broadcast pushes a build event to every connected client. Dead
// connections are dropped.
func (s *Server) Broadcast(ctx context.Context, event BuildEvent) {
	logger := ctxlog.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteJSON(event); err != nil {
			logger.Debug("Dropping dead live-reload client.", "error", err)
			conn.Close()
			delete(s.conns, conn)
		}
	}
}

func (s *Server) handleLiveReload(ctx context.Context) http.HandlerFunc {
	logger := ctxlog.FromContext(ctx)
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Failed to upgrade live-reload socket.", "error", err)
			return
		}
		logger.Debug("Live-reload client connected.", "remote", r.RemoteAddr)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		// Drain (and discard) client messages so pings are answered and
		// closure is noticed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					s.mu.Lock()
					delete(s.conns, conn)
					s.mu.Unlock()
					conn.Close()
					return
				}
			}
		}()
	}
}

func (s *Server) handleAsset(ctx context.Context) http.HandlerFunc {
	logger := ctxlog.FromContext(ctx)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" || strings.HasSuffix(path, "/") {
			path += "index.html"
		}
		content, ok := s.resolve(path)
		if !ok {
			http.NotFound(w, r)
			return
		}
		logger.Debug("Serving asset.", "path", path, "bytes", len(content))
		http.ServeContent(w, r, path, time.Time{}, strings.NewReader(string(content)))
	}
}
