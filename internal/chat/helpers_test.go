package chat

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andy6609/presence-chat/internal/protocol"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is a Transport that nothing reads from or writes to. Tests
// that use it inspect Session.out directly.
type fakeTransport struct {
	addr   string
	mu     sync.Mutex
	closed bool
}

func (f *fakeTransport) ReadLine() ([]byte, error) { return nil, io.EOF }
func (f *fakeTransport) WriteLine([]byte) error    { return nil }
func (f *fakeTransport) RemoteAddr() string        { return f.addr }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestSession(t *testing.T, buffer int) *Session {
	t.Helper()
	return NewSession(&fakeTransport{addr: "test"}, buffer, discardLogger())
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(128, discardLogger())
	go r.Run()
	t.Cleanup(func() {
		r.Stop()
		r.Wait()
	})
	return r
}

// nextLine decodes the next line queued on s.
func nextLine(t *testing.T, s *Session) protocol.Command {
	t.Helper()
	select {
	case line := <-s.out:
		cmd, err := protocol.Decode(line)
		require.NoError(t, err)
		return cmd
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for queued line")
		return protocol.Command{}
	}
}

// requireIdle fails if anything is queued on s. Registry and dispatcher calls
// enqueue before they return, so no waiting is needed.
func requireIdle(t *testing.T, s *Session) {
	t.Helper()
	select {
	case line := <-s.out:
		t.Fatalf("unexpected queued line: %s", line)
	default:
	}
}

func requirePresence(t *testing.T, cmd protocol.Command, name string, online bool) {
	t.Helper()
	status := protocol.StatusLogout
	if online {
		status = protocol.StatusLogin
	}
	require.Equal(t, protocol.CmdUpdateOnlineUsers, cmd.Kind)
	require.Equal(t, name, cmd.String(protocol.FieldUserName))
	require.Equal(t, status, cmd.String(protocol.FieldUserStatus))
}

func mustLine(line []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return line
}
