package chat

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"time"
)

// Transport moves whole protocol lines over a connection. ReadLine is only
// called by the serving goroutine and WriteLine only by the session writer.
type Transport interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
	RemoteAddr() string
}

// streamTransport frames lines on a byte stream with '\n'.
type streamTransport struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	writeTimeout time.Duration
}

// NewStreamTransport wraps conn. Lines longer than maxLine bytes are
// discarded and reported as ErrLineTooLong.
func NewStreamTransport(conn net.Conn, maxLine int, writeTimeout time.Duration) Transport {
	return &streamTransport{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, maxLine),
		w:            bufio.NewWriter(conn),
		writeTimeout: writeTimeout,
	}
}

func (t *streamTransport) ReadLine() ([]byte, error) {
	discarding := false
	for {
		chunk, err := t.r.ReadSlice('\n')
		switch {
		case err == nil:
			if discarding {
				return nil, ErrLineTooLong
			}
			return cloneLine(chunk), nil
		case errors.Is(err, bufio.ErrBufferFull):
			discarding = true
		case errors.Is(err, io.EOF) && len(chunk) > 0 && !discarding:
			// last line without newline
			return cloneLine(chunk), nil
		default:
			return nil, err
		}
	}
}

func cloneLine(chunk []byte) []byte {
	return bytes.Clone(bytes.TrimRight(chunk, "\r\n"))
}

func (t *streamTransport) WriteLine(line []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := t.w.Write(line); err != nil {
		return err
	}
	if err := t.w.WriteByte('\n'); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *streamTransport) Close() error {
	return t.conn.Close()
}

func (t *streamTransport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
