package chat

import (
	"log/slog"
	"sort"
	"time"

	"github.com/samber/lo"
)

type EventType int

const (
	EventRegister EventType = iota
	EventUnregister
	EventLookup
	EventSnapshot
	EventDeliver
	EventCount
)

func (t EventType) String() string {
	switch t {
	case EventRegister:
		return "register"
	case EventUnregister:
		return "unregister"
	case EventLookup:
		return "lookup"
	case EventSnapshot:
		return "snapshot"
	case EventDeliver:
		return "deliver"
	case EventCount:
		return "count"
	default:
		return "unknown"
	}
}

// Registration describes a login attempt.
type Registration struct {
	Name    string
	Session *Session
	// Welcome builds the line queued to Session from the names online before
	// it joined. It runs inside the registry loop and must not block.
	Welcome func(roster []string) []byte
	// Announce is queued to every other registered session.
	Announce []byte
}

type event struct {
	Type  EventType
	Name  string
	Line  []byte
	Reg   Registration
	Reply chan result
}

type result struct {
	session *Session
	names   []string
	count   int
	ok      bool
	err     error
}

// Registry maps online user names to their sessions. The map is owned by the
// Run goroutine; every method is a request to that goroutine, so operations
// are linearizable with respect to each other.
type Registry struct {
	events chan event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *slog.Logger
}

func NewRegistry(buffer int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		events: make(chan event, buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// Stop signals the Run loop to exit.
func (r *Registry) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
}

// Wait blocks until the Run loop has completely finished.
func (r *Registry) Wait() {
	<-r.doneCh
}

func (r *Registry) Run() {
	defer close(r.doneCh)
	// Single-writer ownership: these maps are only accessed in this goroutine.
	sessions := make(map[string]*Session)
	names := make(map[*Session]string)

	for {
		select {
		case ev := <-r.events:
			start := time.Now()
			var res result

			switch ev.Type {
			case EventRegister:
				res = r.handleRegister(sessions, names, ev.Reg)
				OnlineUsers.Set(float64(len(sessions)))
			case EventUnregister:
				res = r.handleUnregister(sessions, names, ev.Name, ev.Line)
				OnlineUsers.Set(float64(len(sessions)))
			case EventLookup:
				res.session, res.ok = sessions[ev.Name]
			case EventSnapshot:
				res.names = sortedNames(sessions)
			case EventDeliver:
				res = r.handleDeliver(sessions, ev.Name, ev.Line)
			case EventCount:
				res.count = len(sessions)
			}

			// Reply is buffered so the loop never blocks on a caller.
			ev.Reply <- res
			EventProcessingDuration.WithLabelValues(ev.Type.String()).Observe(time.Since(start).Seconds())
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) handleRegister(sessions map[string]*Session, names map[*Session]string, reg Registration) result {
	if reg.Name == "" {
		return result{err: ErrNameRequired}
	}
	if _, exists := sessions[reg.Name]; exists {
		return result{err: ErrNameTaken}
	}
	if _, bound := names[reg.Session]; bound {
		return result{err: ErrAlreadyRegistered}
	}

	roster := sortedNames(sessions)
	sessions[reg.Name] = reg.Session
	names[reg.Session] = reg.Name

	r.logger.Info("user registered", "username", reg.Name, "online", len(sessions))

	// The welcome is queued before the announce so no later presence update
	// can overtake it on the new session.
	if reg.Welcome != nil {
		r.send(reg.Session, reg.Welcome(roster))
	}
	if reg.Announce != nil {
		r.broadcast(sessions, reg.Session, reg.Announce)
	}
	return result{names: roster, ok: true}
}

func (r *Registry) handleUnregister(sessions map[string]*Session, names map[*Session]string, name string, announce []byte) result {
	s, ok := sessions[name]
	if !ok {
		return result{}
	}
	delete(sessions, name)
	delete(names, s)

	r.logger.Info("user left", "username", name, "online", len(sessions))

	if announce != nil {
		r.broadcast(sessions, nil, announce)
	}
	return result{ok: true}
}

func (r *Registry) handleDeliver(sessions map[string]*Session, name string, line []byte) result {
	target, ok := sessions[name]
	if !ok {
		return result{err: ErrUserNotFound}
	}
	return result{ok: true, err: r.send(target, line)}
}

func (r *Registry) broadcast(sessions map[string]*Session, except *Session, line []byte) {
	recipients := lo.Filter(lo.Values(sessions), func(s *Session, _ int) bool {
		return s != except
	})
	for _, s := range recipients {
		r.send(s, line)
	}
}

// send never blocks; a failure only affects the one recipient.
func (r *Registry) send(s *Session, line []byte) error {
	err := s.Send(line)
	switch err {
	case nil:
	case ErrSendBufferFull:
		DroppedMessages.WithLabelValues("buffer_full").Inc()
		s.logger.Debug("dropping message for slow client")
	default:
		DroppedMessages.WithLabelValues("closed").Inc()
		s.logger.Debug("dropping message for closed session", "error", err)
	}
	return err
}

func sortedNames(sessions map[string]*Session) []string {
	names := lo.Keys(sessions)
	sort.Strings(names)
	return names
}

func (r *Registry) do(ev event) result {
	ev.Reply = make(chan result, 1)
	select {
	case r.events <- ev:
	case <-r.stopCh:
		return result{err: ErrRegistryStopped}
	}
	select {
	case res := <-ev.Reply:
		return res
	case <-r.doneCh:
		// The loop may have answered just before exiting.
		select {
		case res := <-ev.Reply:
			return res
		default:
			return result{err: ErrRegistryStopped}
		}
	}
}

// TryRegister binds reg.Name to reg.Session if the name is free. On success it
// returns the names that were online before the registration.
func (r *Registry) TryRegister(reg Registration) ([]string, error) {
	res := r.do(event{Type: EventRegister, Reg: reg})
	if res.err != nil {
		return nil, res.err
	}
	return res.names, nil
}

// Unregister removes name and queues announce to the remaining sessions.
// It reports whether an entry was removed.
func (r *Registry) Unregister(name string, announce []byte) bool {
	return r.do(event{Type: EventUnregister, Name: name, Line: announce}).ok
}

func (r *Registry) Lookup(name string) (*Session, bool) {
	res := r.do(event{Type: EventLookup, Name: name})
	return res.session, res.ok
}

// SnapshotNames returns the registered names in sorted order.
func (r *Registry) SnapshotNames() []string {
	return r.do(event{Type: EventSnapshot}).names
}

// Deliver queues line to the session registered as name.
func (r *Registry) Deliver(name string, line []byte) error {
	return r.do(event{Type: EventDeliver, Name: name, Line: line}).err
}

func (r *Registry) Count() int {
	return r.do(event{Type: EventCount}).count
}
