package chat

import (
	"errors"

	"github.com/andy6609/presence-chat/internal/protocol"
)

// Serve runs the read loop of s until the stream ends or the session
// reaches StateClosed, then performs the disconnect cleanup.
func (d *Dispatcher) Serve(s *Session) {
	writerDone := s.startWriter()
	defer func() {
		d.Disconnect(s)
		s.Close()
		<-writerDone
		s.Drop()
		s.logger.Info("client disconnected")
	}()

	for s.state != StateClosed {
		line, err := s.transport.ReadLine()
		if errors.Is(err, ErrLineTooLong) {
			DecodeErrors.Inc()
			s.logger.Warn("dropping oversized line")
			continue
		}
		if err != nil {
			if isClosedErr(err) {
				s.logger.Debug("stream closed", "error", err)
			} else {
				s.logger.Warn("read failed", "error", err)
			}
			return
		}

		cmd, err := protocol.Decode(line)
		if errors.Is(err, protocol.ErrEmptyLine) {
			continue
		}
		if err != nil {
			DecodeErrors.Inc()
			s.logger.Warn("dropping malformed line", "error", err)
			continue
		}
		d.Dispatch(s, cmd)
	}
}
