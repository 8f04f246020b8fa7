package chat

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the server side of one client connection.
//
// The bound name and state belong to the goroutine serving the connection.
// Send may be called from any goroutine; queued lines are written by the
// session's single writer goroutine.
type Session struct {
	ID        string
	transport Transport
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
	alive     atomic.Bool
	logger    *slog.Logger

	name  string
	state State
}

func NewSession(t Transport, buffer int, logger *slog.Logger) *Session {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	s := &Session{
		ID:        id,
		transport: t,
		out:       make(chan []byte, buffer),
		done:      make(chan struct{}),
		logger:    logger.With("session", id, "addr", t.RemoteAddr()),
	}
	s.alive.Store(true)
	return s
}

func (s *Session) Name() string       { return s.name }
func (s *Session) State() State       { return s.state }
func (s *Session) Alive() bool        { return s.alive.Load() }
func (s *Session) RemoteAddr() string { return s.transport.RemoteAddr() }

// Send queues line for the writer without blocking.
func (s *Session) Send(line []byte) error {
	if !s.alive.Load() {
		return ErrSessionClosed
	}
	select {
	case s.out <- line:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops accepting output. The writer flushes what is already queued
// and exits.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.alive.Store(false)
		close(s.done)
	})
}

// Drop closes the underlying transport, which fails any pending read.
func (s *Session) Drop() {
	s.dropOnce.Do(func() {
		if err := s.transport.Close(); err != nil && !isClosedErr(err) {
			s.logger.Debug("close transport", "error", err)
		}
	})
}

const (
	ErrNameRequired      = errorString("name required")
	ErrNameTaken         = errorString("name already in use")
	ErrAlreadyRegistered = errorString("session already registered")
	ErrUserNotFound      = errorString("user not found")
	ErrSessionClosed     = errorString("session closed")
	ErrSendBufferFull    = errorString("send buffer full")
	ErrRegistryStopped   = errorString("registry stopped")
	ErrLineTooLong       = errorString("line too long")
)

type errorString string

func (e errorString) Error() string { return string(e) }
