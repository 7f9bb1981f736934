// Package controlapi implements component 4.G: a minimal HTTP server,
// bound to its own address, that exposes recent captures for inspection
// and lets an operator replay a stored HAR entry through the proxy.
//
// Grounded on the teacher's internal/server/server.go (http.NewServeMux,
// a small struct wrapping *http.Server, Start/Shutdown), with the
// health-check route replaced by the §4.G endpoint table.
package controlapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sofatutor/park/internal/harlog"
	"github.com/sofatutor/park/internal/logging"
	"github.com/sofatutor/park/internal/parkerr"
)

// Store is the subset of the capture store the control API reads from.
type Store interface {
	Latest(ctx context.Context) (*harlog.HAR, error)
}

// Replayer resubmits a decoded HAR request through the proxy handler.
type Replayer interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Server is the control API HTTP server.
type Server struct {
	server *http.Server
	store  Store
	replay Replayer
	logger *zap.Logger
}

// New builds a control API server bound to addr.
func New(addr string, store Store, replay Replayer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String(logging.FieldComponent, logging.ComponentControlAPI))

	s := &Server{store: store, replay: replay, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/requests/latest", s.handleLatest)
	mux.HandleFunc("/requests", s.handleRequests)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start runs the control API's accept loop; it blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("control api listening", zap.String(logging.FieldTarget, s.server.Addr))
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return parkerr.Wrap(parkerr.ListenerFailed, "control api accept loop failed", err)
	}
	return nil
}

// Shutdown gracefully stops the control API.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleIndex serves GET / liveness.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.handleNotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		s.handleNotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Hello, World!"))
}

// handleLatest serves GET /requests/latest.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.handleNotFound(w, r)
		return
	}
	har, err := s.store.Latest(r.Context())
	if err != nil {
		s.logger.Warn("failed to read latest capture", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if har == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(har)
}

// handleRequests serves POST /requests: decode a HAR, submit it through
// the proxy handler, and return the proxied response.
func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.handleNotFound(w, r)
		return
	}

	var har harlog.HAR
	if err := json.NewDecoder(r.Body).Decode(&har); err != nil {
		http.Error(w, "Malformed har file", http.StatusBadRequest)
		return
	}

	replayReq, err := harlog.Decode(&har)
	if err != nil {
		http.Error(w, "Malformed har file", http.StatusBadRequest)
		return
	}
	replayReq = replayReq.WithContext(r.Context())

	s.replay.ServeHTTP(w, replayReq)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not found", http.StatusNotFound)
}
