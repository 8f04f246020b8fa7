// Package client is the consumer side of the chat protocol. A Client owns one
// connection, keeps a mirror of the names that are online and hands inbound
// chat and presence records to registered handlers.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/samber/lo"

	"github.com/andy6609/presence-chat/internal/protocol"
)

type (
	LoginFunc    func(ok bool, errMsg string)
	ChatFunc     func(sender, msg string)
	PresenceFunc func(online bool, name string)
)

var ErrClosed = errors.New("client: connection closed")

type Client struct {
	conn   net.Conn
	logger *slog.Logger

	wmu sync.Mutex // serializes writes to conn

	mu        sync.Mutex
	name      string
	pending   string
	loginCb   LoginFunc
	online    map[string]struct{}
	leaving   bool // set by Logout; presence no longer updates the mirror
	chatFns   []ChatFunc
	presentFn []PresenceFunc

	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Connect dials host:port over TCP.
func Connect(ctx context.Context, host string, port int) (*Client, error) {
	return Dial(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, nil), nil
}

// New wraps an established connection and starts its read loop.
func New(conn net.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		conn:   conn,
		logger: logger.With("server", conn.RemoteAddr().String()),
		online: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Login requests name. cb receives the reply; a later Login replaces a
// callback whose reply has not arrived yet.
func (c *Client) Login(name string, cb LoginFunc) error {
	line, err := protocol.LoginRequest(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pending = name
	c.loginCb = cb
	c.mu.Unlock()
	return c.writeLine(line)
}

// Logout ends the session. The server closes the connection afterwards.
// The mirror is cleared and ignores presence updates that are still in
// flight.
func (c *Client) Logout() error {
	line, err := protocol.Logout()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.name = ""
	c.leaving = true
	c.online = make(map[string]struct{})
	c.mu.Unlock()
	return c.writeLine(line)
}

func (c *Client) SendChatMsg(target, msg string) error {
	line, err := protocol.ChatTo(target, msg)
	if err != nil {
		return err
	}
	return c.writeLine(line)
}

// OnlineUsers returns the mirrored online names, sorted. The caller's own
// name is not included.
func (c *Client) OnlineUsers() []string {
	c.mu.Lock()
	names := lo.Keys(c.online)
	c.mu.Unlock()
	sort.Strings(names)
	return names
}

// OnChat adds a handler for directed messages. Handlers run on the read
// goroutine and must not block: no further records are read, and Close does
// not return, until a handler returns.
func (c *Client) OnChat(fn ChatFunc) {
	c.mu.Lock()
	c.chatFns = append(c.chatFns, fn)
	c.mu.Unlock()
}

// OnPresence adds a handler for presence updates. Handlers run on the read
// goroutine after the mirror is updated and, like OnChat handlers, must not
// block.
func (c *Client) OnPresence(fn PresenceFunc) {
	c.mu.Lock()
	c.presentFn = append(c.presentFn, fn)
	c.mu.Unlock()
}

// UserName is the name bound by the last successful login, or "".
func (c *Client) UserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the read loop exited. It is nil while the connection is
// open and after a clean end of stream.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection and waits for the read loop, including any
// running handler, to finish.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (c *Client) writeLine(line []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	r := bufio.NewReader(c.conn)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				c.err = err
				c.logger.Warn("read failed", "error", err)
			}
			return
		}
	}
}

func (c *Client) handleLine(line []byte) {
	cmd, err := protocol.Decode(line)
	if errors.Is(err, protocol.ErrEmptyLine) {
		return
	}
	if err != nil {
		c.logger.Warn("dropping malformed line", "error", err)
		return
	}

	switch cmd.Kind {
	case protocol.CmdLogin:
		c.handleLoginReply(cmd)
	case protocol.CmdChatTo:
		sender := cmd.String(protocol.FieldUserName)
		msg := cmd.String(protocol.FieldChatMsg)
		c.mu.Lock()
		fns := append([]ChatFunc(nil), c.chatFns...)
		c.mu.Unlock()
		for _, fn := range fns {
			fn(sender, msg)
		}
	case protocol.CmdUpdateOnlineUsers:
		name := cmd.String(protocol.FieldUserName)
		online := cmd.String(protocol.FieldUserStatus) == protocol.StatusLogin
		c.mu.Lock()
		switch {
		case c.leaving:
		case online:
			c.online[name] = struct{}{}
		default:
			delete(c.online, name)
		}
		fns := append([]PresenceFunc(nil), c.presentFn...)
		c.mu.Unlock()
		for _, fn := range fns {
			fn(online, name)
		}
	default:
		c.logger.Debug("ignoring record", "type", cmd.Kind)
	}
}

func (c *Client) handleLoginReply(cmd protocol.Command) {
	errMsg := cmd.String(protocol.FieldErrMsg)
	ok := errMsg == ""

	c.mu.Lock()
	cb := c.loginCb
	c.loginCb = nil
	if ok {
		c.name = c.pending
		c.leaving = false
		c.online = make(map[string]struct{})
		for _, n := range cmd.List(protocol.FieldUserNameList) {
			c.online[n] = struct{}{}
		}
	}
	c.pending = ""
	c.mu.Unlock()

	if cb != nil {
		cb(ok, errMsg)
	}
}
