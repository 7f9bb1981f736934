// Package listener implements component 4.F: the accept loop, optional
// TLS termination with ALPN, and HTTP/1.1 + HTTP/2 serving that
// dispatches every request to the proxy handler (§4.E).
//
// ALPN negotiation (h2 then http/1.1) is grounded on
// other_examples/86676766_HakAl-langley__internal-proxy-mitm.go.go's
// tls.Config{NextProtos: ...} usage. HTTP/2 serving with an explicit
// MaxConcurrentStreams, and plaintext h2c serving when no TLS config is
// present, use golang.org/x/net/http2 and golang.org/x/net/http2/h2c —
// promoted here from an indirect dependency of the teacher's go.mod,
// since the teacher's own server (internal/server/server.go) only ever
// serves HTTP/1.1.
package listener

import (
	"context"
	"crypto/tls"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/sofatutor/park/internal/logging"
	"github.com/sofatutor/park/internal/parkerr"
)

// MaxConcurrentStreams is the HTTP/2 limit named in §4.F.
const MaxConcurrentStreams = 200

// TLSConfig names the certificate and key files for the listener. Both
// must be set for TLS to be enabled; either empty means plaintext.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config configures a Listener.
type Config struct {
	Bind string
	TLS  *TLSConfig
}

// Listener is the accept loop and HTTP/1.1+HTTP/2 server of §4.F.
type Listener struct {
	server *http.Server
	bind   string
	logger *zap.Logger
}

// New builds a Listener that dispatches every request to handler.
func New(cfg Config, handler http.Handler, logger *zap.Logger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String(logging.FieldComponent, logging.ComponentListener))

	h2s := &http2.Server{
		MaxConcurrentStreams: MaxConcurrentStreams,
	}

	srv := &http.Server{
		Addr: cfg.Bind,
	}

	if cfg.TLS != nil && cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, parkerr.Wrap(parkerr.BadConfig, "failed to load tls certificate/key", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
		}
		if err := http2.ConfigureServer(srv, h2s); err != nil {
			return nil, parkerr.Wrap(parkerr.BadConfig, "failed to configure http2", err)
		}
		srv.Handler = handler
	} else {
		// No TLS: serve HTTP/1.1 and plaintext HTTP/2 (h2c) on the same port.
		srv.Handler = h2c.NewHandler(handler, h2s)
	}

	return &Listener{server: srv, bind: cfg.Bind, logger: logger}, nil
}

// Serve starts the accept loop. It blocks until the listener is closed
// or Shutdown is called, at which point it returns nil; any other accept
// failure is returned as a ListenerFailed error.
func (l *Listener) Serve() error {
	l.logger.Info("listening", zap.String(logging.FieldTarget, l.bind))
	var err error
	if l.server.TLSConfig != nil {
		err = l.server.ListenAndServeTLS("", "")
	} else {
		err = l.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return parkerr.Wrap(parkerr.ListenerFailed, "accept loop failed", err)
	}
	return nil
}

// Shutdown gracefully stops the accept loop, letting in-flight requests
// finish within the given context's deadline.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}

// Addr returns the configured bind address.
func (l *Listener) Addr() string { return l.bind }
