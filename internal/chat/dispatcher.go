package chat

import (
	"errors"
	"log/slog"

	"github.com/andy6609/presence-chat/internal/protocol"
)

// Dispatcher applies decoded commands to a session and the registry.
// Dispatch and Disconnect must only be called by the goroutine serving s.
type Dispatcher struct {
	reg    *Registry
	logger *slog.Logger
}

func NewDispatcher(reg *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reg: reg, logger: logger}
}

func (d *Dispatcher) Dispatch(s *Session, cmd protocol.Command) {
	switch {
	case s.state == StateUnauthenticated && cmd.Kind == protocol.CmdLogin:
		MessagesTotal.WithLabelValues("login").Inc()
		d.login(s, cmd)
	case s.state == StateAuthenticated && cmd.Kind == protocol.CmdLogout:
		MessagesTotal.WithLabelValues("logout").Inc()
		d.logout(s)
	case s.state == StateAuthenticated && cmd.Kind == protocol.CmdChatTo:
		MessagesTotal.WithLabelValues("chat_to").Inc()
		d.chatTo(s, cmd)
	default:
		// Out-of-order or unknown commands get no reply.
		MessagesTotal.WithLabelValues("ignored").Inc()
		s.logger.Debug("ignoring command", "type", cmd.Kind, "state", s.state.String())
	}
}

// Disconnect runs the logout cleanup for a session whose stream is gone.
func (d *Dispatcher) Disconnect(s *Session) {
	if s.state == StateAuthenticated {
		d.logout(s)
	}
	s.state = StateClosed
}

func (d *Dispatcher) login(s *Session, cmd protocol.Command) {
	name := cmd.String(protocol.FieldUserName)
	if name == "" {
		d.rejectLogin(s, ErrNameRequired, "empty")
		return
	}

	announce, err := protocol.Presence(name, true)
	if err != nil {
		s.logger.Error("encode presence", "error", err)
		return
	}

	var welcomeErr error
	_, err = d.reg.TryRegister(Registration{
		Name:    name,
		Session: s,
		Welcome: func(roster []string) []byte {
			var line []byte
			line, welcomeErr = protocol.LoginOK(roster)
			return line
		},
		Announce: announce,
	})
	switch {
	case errors.Is(err, ErrNameTaken):
		d.rejectLogin(s, ErrNameTaken, "taken")
		return
	case err != nil:
		s.logger.Warn("login failed", "username", name, "error", err)
		d.rejectLogin(s, err, "internal")
		return
	}
	if welcomeErr != nil {
		s.logger.Error("encode login reply", "error", welcomeErr)
	}

	s.name = name
	s.state = StateAuthenticated
	s.logger.Info("login", "username", name)
}

func (d *Dispatcher) rejectLogin(s *Session, reason error, label string) {
	LoginFailures.WithLabelValues(label).Inc()
	line, err := protocol.LoginFailed(reason.Error())
	if err != nil {
		s.logger.Error("encode login reply", "error", err)
		return
	}
	if err := s.Send(line); err != nil {
		s.logger.Debug("login reply dropped", "error", err)
	}
}

func (d *Dispatcher) logout(s *Session) {
	if s.state != StateAuthenticated {
		return
	}
	announce, err := protocol.Presence(s.name, false)
	if err != nil {
		s.logger.Error("encode presence", "error", err)
	}
	d.reg.Unregister(s.name, announce)
	s.state = StateClosed
	s.logger.Info("logout", "username", s.name)
}

func (d *Dispatcher) chatTo(s *Session, cmd protocol.Command) {
	if !cmd.Has(protocol.FieldTargetUserName) || !cmd.Has(protocol.FieldChatMsg) {
		s.logger.Warn("dropping incomplete chat", "target", cmd.String(protocol.FieldTargetUserName))
		return
	}
	target := cmd.String(protocol.FieldTargetUserName)

	line, err := protocol.ChatDelivery(s.name, cmd.String(protocol.FieldChatMsg))
	if err != nil {
		s.logger.Error("encode chat", "error", err)
		return
	}

	err = d.reg.Deliver(target, line)
	switch {
	case err == nil:
	case errors.Is(err, ErrUserNotFound):
		// The sender learns the target is gone through a presence update.
		offline, encErr := protocol.Presence(target, false)
		if encErr != nil {
			s.logger.Error("encode presence", "error", encErr)
			return
		}
		if sendErr := s.Send(offline); sendErr != nil {
			s.logger.Debug("offline notice dropped", "target", target, "error", sendErr)
		}
	default:
		s.logger.Debug("chat not delivered", "target", target, "error", err)
	}
}
