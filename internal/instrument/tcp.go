package instrument

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultSCPIPort is the conventional raw-socket SCPI port.
const DefaultSCPIPort = "5025"

// TCPLink talks SCPI over a raw LAN socket.
type TCPLink struct {
	addr string

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	closed  bool
}

// DialTCP connects to addr. A missing port defaults to DefaultSCPIPort.
func DialTCP(ctx context.Context, addr string) (*TCPLink, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), DefaultSCPIPort)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return newTCPLink(addr, conn), nil
}

func newTCPLink(addr string, conn net.Conn) *TCPLink {
	return &TCPLink{
		addr:    addr,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: DefaultTimeout,
	}
}

// Command writes cmd followed by a newline.
func (l *TCPLink) Command(ctx context.Context, cmd string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.writeLocked(ctx, cmd)
}

// Query writes query and reads one response line.
func (l *TCPLink) Query(ctx context.Context, query string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.discardStaleLocked()
	if err := l.writeLocked(ctx, query); err != nil {
		return "", err
	}

	if err := l.conn.SetReadDeadline(deadline(ctx, l.timeout)); err != nil {
		return "", errors.Wrap(err, "set read deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		l.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	line, err := l.reader.ReadString('\n')
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrTimeout
		}
		return "", errors.Wrapf(err, "read response to %q", query)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Timeout returns the per-operation timeout.
func (l *TCPLink) Timeout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timeout
}

// SetTimeout sets the per-operation timeout.
func (l *TCPLink) SetTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = d
}

// Close closes the socket.
func (l *TCPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.conn.Close()
}

func (l *TCPLink) String() string {
	return l.addr
}

// discardStaleLocked drops any late answer to an earlier, timed-out query.
func (l *TCPLink) discardStaleLocked() {
	l.reader.Discard(l.reader.Buffered())
	if err := l.conn.SetReadDeadline(time.Now()); err != nil {
		return
	}
	buf := make([]byte, 256)
	for {
		if _, err := l.conn.Read(buf); err != nil {
			return
		}
	}
}

func (l *TCPLink) writeLocked(ctx context.Context, line string) error {
	if err := l.conn.SetWriteDeadline(deadline(ctx, l.timeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if _, err := l.conn.Write([]byte(line + "\n")); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrTimeout
		}
		return errors.Wrapf(err, "write %q", line)
	}
	return nil
}
