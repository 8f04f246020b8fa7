package chat

// startWriter runs the only goroutine that writes to the session transport.
// After Close it flushes whatever is still queued. A write failure closes
// the session and its transport so the reader observes the disconnect.
func (s *Session) startWriter() <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case line := <-s.out:
				if !s.write(line) {
					return
				}
			case <-s.done:
				for {
					select {
					case line := <-s.out:
						if !s.write(line) {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
	return finished
}

func (s *Session) write(line []byte) bool {
	if err := s.transport.WriteLine(line); err != nil {
		if !isClosedErr(err) {
			s.logger.Warn("write failed", "error", err)
		}
		s.Close()
		s.Drop()
		return false
	}
	return true
}
