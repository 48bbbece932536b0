// Package main implements the entry point for kasocki, a Kafka-to-WebSocket
// bridge: every accepted connection gets its own consumer session, owning
// its own broker client and socket for its entire lifetime.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/kasocki/broker"
	"github.com/c360/kasocki/config"
	"github.com/c360/kasocki/metric"
	"github.com/c360/kasocki/session"
	"github.com/c360/kasocki/socket"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("kasocki exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("kasocki version %s\n", Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	registry := metric.NewRegistry()
	srv := newServer(cfg, logger, registry)

	return srv.runWithSignalHandling(cliCfg.ShutdownTimeout)
}

// server wires the HTTP surface (/healthz, /metrics, /ws) to the session
// layer and tracks every connection's session for graceful shutdown.
type server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.Registry

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newServer(cfg *config.Config, logger *slog.Logger, registry *metric.Registry) *server {
	return &server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		sessions: make(map[string]*session.Session),
	}
}

func (s *server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.registry.Handler())
	mux.HandleFunc(s.cfg.Server.WSPath, s.handleWS)
	return mux
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := len(s.sessions)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"activeSessions": active,
	})
}

// handleWS upgrades the connection, builds a session bound to a fresh
// broker client, initializes it, then blocks running the socket's read loop
// for the lifetime of the connection.
func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := socket.Upgrade(w, r, s.logger)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	brk := broker.NewSaramaBroker()
	sess := session.New(sock.ID(), sock, brk, session.Config{
		AllowedTopics: s.cfg.Kafka.AllowedTopics,
		BrokerConfig: broker.Config{
			Brokers:  s.cfg.Kafka.Brokers,
			ClientID: fmt.Sprintf("%s-%s", s.cfg.Kafka.ClientID, sock.ID()),
			Reset:    broker.ResetPolicy(s.cfg.Kafka.OffsetReset),
			Opts:     s.cfg.Kafka.SecurityOpts(),
		},
		Logger:  s.logger,
		Metrics: s.registry.Metrics(),
	})

	s.addSession(sess)
	defer s.removeSession(sess.ID())

	if err := sess.Initialize(r.Context()); err != nil {
		s.logger.Warn("session initialization failed", "socket", sock.ID(), "error", err)
		return
	}

	sock.Run()
}

func (s *server) addSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = sess
}

func (s *server) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// closeAllSessions disconnects every tracked session, used during graceful
// shutdown to unblock each connection's blocking Run() read loop.
func (s *server) closeAllSessions() {
	s.mu.Lock()
	ids := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		ids = append(ids, sess)
	}
	s.mu.Unlock()

	for _, sess := range ids {
		sess.Close()
	}
}

func (s *server) runWithSignalHandling(shutdownTimeout time.Duration) error {
	httpSrv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.mux(),
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	g, gctx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		s.logger.Info("kasocki listening", "addr", s.cfg.Server.ListenAddr, "wsPath", s.cfg.Server.WSPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown did not complete cleanly", "error", err)
		}
		s.closeAllSessions()
		return nil
	})

	err := g.Wait()
	s.logger.Info("kasocki shutdown complete")
	return err
}
