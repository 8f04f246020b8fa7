package client

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andy6609/presence-chat/internal/protocol"
)

const waitTimeout = 2 * time.Second

// fakeServer is the far end of a net.Pipe that records decoded requests.
type fakeServer struct {
	conn     net.Conn
	requests chan protocol.Command
}

func newPair(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	srv := &fakeServer{conn: serverSide, requests: make(chan protocol.Command, 16)}
	go func() {
		r := bufio.NewReader(serverSide)
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				return
			}
			cmd, err := protocol.Decode(line)
			if err == nil {
				srv.requests <- cmd
			}
		}
	}()
	c := New(clientSide, nil)
	t.Cleanup(func() {
		_ = serverSide.Close()
		_ = c.Close()
	})
	return c, srv
}

func (s *fakeServer) send(t *testing.T, line []byte) {
	t.Helper()
	_, err := s.conn.Write(append(line, '\n'))
	require.NoError(t, err)
}

func mustLine(line []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return line
}

func (s *fakeServer) next(t *testing.T) protocol.Command {
	t.Helper()
	select {
	case cmd := <-s.requests:
		return cmd
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for request")
		return protocol.Command{}
	}
}

type loginResult struct {
	ok     bool
	errMsg string
}

func TestLoginSuccessSeedsMirror(t *testing.T) {
	c, srv := newPair(t)

	results := make(chan loginResult, 1)
	require.NoError(t, c.Login("bob", func(ok bool, errMsg string) {
		results <- loginResult{ok, errMsg}
	}))

	req := srv.next(t)
	require.Equal(t, protocol.CmdLogin, req.Kind)
	require.Equal(t, "bob", req.String(protocol.FieldUserName))

	srv.send(t, mustLine(protocol.LoginOK([]string{"alice", "carol"})))

	select {
	case res := <-results:
		require.True(t, res.ok)
		require.Empty(t, res.errMsg)
	case <-time.After(waitTimeout):
		t.Fatal("login callback not called")
	}
	require.Equal(t, "bob", c.UserName())
	require.Equal(t, []string{"alice", "carol"}, c.OnlineUsers())
}

func TestLoginFailure(t *testing.T) {
	c, srv := newPair(t)

	results := make(chan loginResult, 1)
	require.NoError(t, c.Login("alice", func(ok bool, errMsg string) {
		results <- loginResult{ok, errMsg}
	}))
	srv.next(t)
	srv.send(t, mustLine(protocol.LoginFailed("name already in use")))

	select {
	case res := <-results:
		require.False(t, res.ok)
		require.Equal(t, "name already in use", res.errMsg)
	case <-time.After(waitTimeout):
		t.Fatal("login callback not called")
	}
	require.Empty(t, c.UserName())
	require.Empty(t, c.OnlineUsers())
}

func TestLaterLoginReplacesCallback(t *testing.T) {
	c, srv := newPair(t)

	first := make(chan loginResult, 1)
	second := make(chan loginResult, 1)
	require.NoError(t, c.Login("a", func(ok bool, errMsg string) { first <- loginResult{ok, errMsg} }))
	require.NoError(t, c.Login("b", func(ok bool, errMsg string) { second <- loginResult{ok, errMsg} }))
	srv.next(t)
	srv.next(t)

	srv.send(t, mustLine(protocol.LoginOK(nil)))

	select {
	case res := <-second:
		require.True(t, res.ok)
	case <-time.After(waitTimeout):
		t.Fatal("second callback not called")
	}
	require.Empty(t, first)
	require.Equal(t, "b", c.UserName())
}

func TestPresenceAndChatHandlers(t *testing.T) {
	c, srv := newPair(t)

	type presence struct {
		online bool
		name   string
	}
	type chat struct{ sender, msg string }

	presA := make(chan presence, 4)
	presB := make(chan presence, 4)
	chats := make(chan chat, 4)
	c.OnPresence(func(online bool, name string) { presA <- presence{online, name} })
	c.OnPresence(func(online bool, name string) { presB <- presence{online, name} })
	c.OnChat(func(sender, msg string) { chats <- chat{sender, msg} })

	srv.send(t, mustLine(protocol.Presence("bob", true)))
	for _, ch := range []chan presence{presA, presB} {
		select {
		case p := <-ch:
			require.Equal(t, presence{true, "bob"}, p)
		case <-time.After(waitTimeout):
			t.Fatal("presence handler not called")
		}
	}
	require.Equal(t, []string{"bob"}, c.OnlineUsers())

	srv.send(t, mustLine(protocol.ChatDelivery("bob", "hi")))
	select {
	case m := <-chats:
		require.Equal(t, chat{"bob", "hi"}, m)
	case <-time.After(waitTimeout):
		t.Fatal("chat handler not called")
	}

	srv.send(t, mustLine(protocol.Presence("bob", false)))
	select {
	case p := <-presA:
		require.Equal(t, presence{false, "bob"}, p)
	case <-time.After(waitTimeout):
		t.Fatal("offline presence not delivered")
	}
	require.Empty(t, c.OnlineUsers())
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	c, srv := newPair(t)

	chats := make(chan string, 1)
	c.OnChat(func(_, msg string) { chats <- msg })

	_, err := srv.conn.Write([]byte("not json\n{\"noCmd\":1}\n"))
	require.NoError(t, err)
	srv.send(t, mustLine(protocol.ChatDelivery("bob", "still here")))

	select {
	case msg := <-chats:
		require.Equal(t, "still here", msg)
	case <-time.After(waitTimeout):
		t.Fatal("chat after malformed lines not delivered")
	}
}

func TestSendChatMsgWritesRequest(t *testing.T) {
	c, srv := newPair(t)

	require.NoError(t, c.SendChatMsg("alice", "line one\nline two"))
	req := srv.next(t)
	require.Equal(t, protocol.CmdChatTo, req.Kind)
	require.Equal(t, "alice", req.String(protocol.FieldTargetUserName))
	require.Equal(t, "line one\nline two", req.String(protocol.FieldChatMsg))
}

func TestDoneAfterServerCloses(t *testing.T) {
	c, srv := newPair(t)

	require.NoError(t, srv.conn.Close())
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("read loop did not exit")
	}
	require.NoError(t, c.Err())
	require.ErrorIs(t, c.SendChatMsg("x", "y"), ErrClosed)
}

func TestLogoutIgnoresLatePresence(t *testing.T) {
	c, srv := newPair(t)

	logins := make(chan bool, 1)
	require.NoError(t, c.Login("bob", func(ok bool, _ string) { logins <- ok }))
	srv.next(t)
	srv.send(t, mustLine(protocol.LoginOK([]string{"alice"})))
	select {
	case ok := <-logins:
		require.True(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("login callback not called")
	}

	seen := make(chan string, 1)
	c.OnPresence(func(_ bool, name string) { seen <- name })

	require.NoError(t, c.Logout())
	require.Equal(t, protocol.CmdLogout, srv.next(t).Kind)

	srv.send(t, mustLine(protocol.Presence("dave", true)))
	select {
	case name := <-seen:
		require.Equal(t, "dave", name)
	case <-time.After(waitTimeout):
		t.Fatal("presence handler not called")
	}
	require.Empty(t, c.OnlineUsers())
	require.Empty(t, c.UserName())
}
