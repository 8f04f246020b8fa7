package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andy6609/presence-chat/internal/config"
)

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	reg      *Registry
	disp     *Dispatcher
	upgrader websocket.Upgrader

	listener net.Listener
	httpLn   net.Listener
	httpSrv  *http.Server

	mu       sync.Mutex
	closing  bool
	sessions map[*Session]struct{}
	workers  sync.WaitGroup
}

func NewServer(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry(cfg.RegistryBuffer, logger)
	return &Server{
		cfg:    cfg,
		logger: logger,
		reg:    reg,
		disp:   NewDispatcher(reg, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.Origins()),
		},
		sessions: make(map[*Session]struct{}),
	}
}

// Start binds the chat listener (and the HTTP listener when configured) and
// begins accepting in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	if s.cfg.HTTPAddr != "" {
		httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpLn = httpLn
		s.httpSrv = &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server error", "error", err)
			}
		}()
		s.logger.Info("http listening", "addr", httpLn.Addr().String())
	}

	go s.reg.Run()
	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

func (s *Server) Registry() *Registry {
	return s.reg
}

// Handler serves /metrics, /healthz and the /ws WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Stop closes the listeners and every live connection, waits for the
// session goroutines to finish their cleanup and stops the registry.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	if s.listener == nil {
		s.mu.Unlock()
		return
	}
	live := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down", "sessions", len(live))

	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
		cancel()
	}

	// Reads fail on closed transports and each worker leaves through the
	// normal disconnect path.
	for _, sess := range live {
		sess.Drop()
	}

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn("shutdown timeout reached, some sessions are still running")
	}

	s.reg.Stop()
	s.reg.Wait()

	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.logger.Info("client connected", "addr", conn.RemoteAddr().String())
		s.serve(NewStreamTransport(conn, s.cfg.MaxLineBytes, s.cfg.WriteTimeout))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Info("client connected", "addr", r.RemoteAddr, "transport", "websocket")
	s.serve(newWSTransport(conn, r.RemoteAddr, s.cfg.MaxLineBytes, s.cfg.WriteTimeout))
}

// serve starts the session goroutine for t, or closes t when the server is
// shutting down.
func (s *Server) serve(t Transport) {
	sess := NewSession(t, s.cfg.SendBuffer, s.logger)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = t.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.workers.Add(1)
	s.mu.Unlock()
	ConnectedClients.Inc()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess)
			s.mu.Unlock()
			ConnectedClients.Dec()
			s.workers.Done()
		}()
		s.disp.Serve(sess)
	}()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
