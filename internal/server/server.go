// Package server exposes the Versecast HTTP surface: the /stream websocket
// endpoint that accepts live audio and pushes detected verses back, plus
// health probes and the Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/versecast/versecast/internal/config"
	"github.com/versecast/versecast/internal/health"
	"github.com/versecast/versecast/internal/observe"
	"github.com/versecast/versecast/internal/verse"
	"github.com/versecast/versecast/pkg/provider/extract"
	"github.com/versecast/versecast/pkg/provider/stt"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds how long Run waits for the HTTP server to drain after
// ctx is cancelled.
const shutdownGrace = 10 * time.Second

// Config carries everything the server needs to accept connections.
type Config struct {
	// ListenAddr is the TCP address to bind (e.g., ":8080").
	ListenAddr string

	// TLS enables HTTPS when non-nil.
	TLS *config.TLSConfig

	// Pipeline tunes every connection's detection pipeline.
	Pipeline config.PipelineConfig

	// STT transcribes audio batches. Required.
	STT stt.Provider

	// Extractor finds scripture references in transcripts. Required.
	Extractor extract.Provider

	// Store resolves references to verse text. Required.
	Store verse.Store

	// ReadyChecks are added to the /readyz probe (e.g., a database ping).
	ReadyChecks []health.Checker

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics

	// Log defaults to slog.Default() when nil.
	Log *slog.Logger
}

// Server accepts websocket audio streams and runs one [session] per client.
type Server struct {
	addr      string
	tls       *config.TLSConfig
	pipeline  config.PipelineConfig
	stt       stt.Provider
	extractor extract.Provider
	store     verse.Store
	health    *health.Handler
	metrics   *observe.Metrics
	log       *slog.Logger

	// nextID numbers sessions for log correlation.
	nextID atomic.Int64

	// sessionWG tracks running sessions so Run can drain them on shutdown.
	sessionWG sync.WaitGroup
}

// New validates cfg and builds a Server.
func New(cfg Config) (*Server, error) {
	if cfg.STT == nil {
		return nil, errors.New("server: Config.STT must not be nil")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("server: Config.Extractor must not be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("server: Config.Store must not be nil")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Server{
		addr:      cfg.ListenAddr,
		tls:       cfg.TLS,
		pipeline:  cfg.Pipeline,
		stt:       cfg.STT,
		extractor: cfg.Extractor,
		store:     cfg.Store,
		health:    health.New(cfg.ReadyChecks...),
		metrics:   cfg.Metrics,
		log:       cfg.Log,
	}, nil
}

// Handler returns the full HTTP handler tree. Health and metrics routes are
// wrapped in the observability middleware; /stream is mounted bare because
// the websocket upgrade needs the raw ResponseWriter.
func (s *Server) Handler() http.Handler {
	mw := observe.Middleware(s.metrics)

	plain := http.NewServeMux()
	s.health.Register(plain)
	plain.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	root.Handle("/", mw(plain))
	root.HandleFunc("GET /stream", s.handleStream)
	return root
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully:
// the listener closes, live sessions are cancelled and drained, and Run
// returns once everything has stopped.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.tls != nil {
			s.log.Info("listening with TLS", "addr", s.addr)
			err = httpSrv.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		} else {
			s.log.Info("listening", "addr", s.addr)
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http shutdown error", "error", err)
		}

		// Session contexts descend from ctx, so they are already cancelled;
		// wait for their teardowns to finish.
		s.sessionWG.Wait()
		return nil
	})

	return g.Wait()
}

// handleStream upgrades the request to a websocket and runs a session on it.
// The handler blocks for the lifetime of the connection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser capture pages are served from arbitrary origins.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	id := "conn-" + strconv.FormatInt(s.nextID.Add(1), 10)
	sess, err := s.newSession(id, conn)
	if err != nil {
		s.log.Error("failed to create session", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "pipeline unavailable")
		return
	}

	ctx := r.Context()
	s.metrics.ActiveSessions.Add(ctx, 1)
	s.sessionWG.Add(1)
	defer func() {
		s.sessionWG.Done()
		s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}()

	sess.run(ctx, s.metrics)
}
