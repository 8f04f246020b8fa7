package chat

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/andy6609/presence-chat/internal/config"
	"github.com/andy6609/presence-chat/internal/protocol"
)

func startHTTP(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := startServer(t, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Command {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	cmd, err := protocol.Decode(data)
	require.NoError(t, err)
	return cmd
}

func TestWebSocket_SharesRegistryWithTCP(t *testing.T) {
	srv, ts := startHTTP(t, testConfig())

	bob := dial(t, srv)
	ok, _ := bob.login(t, "bob")
	require.True(t, ok)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustLine(protocol.LoginRequest("web"))))
	reply := readFrame(t, conn)
	require.Equal(t, protocol.CmdLogin, reply.Kind)
	require.Empty(t, reply.String(protocol.FieldErrMsg))
	require.Equal(t, []string{"bob"}, reply.List(protocol.FieldUserNameList))

	require.Equal(t, presenceEvent{true, "web"}, bob.nextPresence(t))

	require.NoError(t, bob.SendChatMsg("web", "hello websocket"))
	got := readFrame(t, conn)
	require.Equal(t, protocol.CmdChatTo, got.Kind)
	require.Equal(t, "bob", got.String(protocol.FieldUserName))
	require.Equal(t, "hello websocket", got.String(protocol.FieldChatMsg))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, mustLine(protocol.ChatTo("bob", "hi tcp"))))
	require.Equal(t, chatEvent{"web", "hi tcp"}, bob.nextChat(t))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Equal(t, presenceEvent{false, "web"}, bob.nextPresence(t))
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = "https://chat.example.com"
	_, ts := startHTTP(t, cfg)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "HTTPS://Chat.Example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = conn.Close()
}

func TestHandler_Healthz(t *testing.T) {
	_, ts := startHTTP(t, testConfig())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok\n", string(body))

	resp, err = http.Post(ts.URL+"/ws", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOriginChecker(t *testing.T) {
	request := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	open := originChecker(nil)
	require.True(t, open(request("https://anything.example")))
	require.True(t, open(request("")))

	star := originChecker([]string{"https://a.example", "*"})
	require.True(t, star(request("https://b.example")))

	strict := originChecker([]string{"https://a.example", " http://localhost:8080 "})
	require.True(t, strict(request("https://a.example")))
	require.True(t, strict(request("http://LOCALHOST:8080")))
	require.False(t, strict(request("https://b.example")))
	require.False(t, strict(request("")))
	require.False(t, strict(request("not a url")))

	broken := originChecker([]string{"nonsense"})
	require.False(t, broken(request("https://a.example")))
}
