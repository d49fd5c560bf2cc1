package instrument

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// readPoll bounds each blocking Read so deadlines and cancellation are
// noticed between reads.
const readPoll = 100 * time.Millisecond

// SerialLink talks SCPI over an RS-232 or USB virtual COM port.
type SerialLink struct {
	port     serial.Port
	portName string
	baudRate int

	mu      sync.Mutex
	timeout time.Duration
	pending []byte
	closed  bool
}

// OpenSerial opens portName with 8N1 framing at the given baud rate.
func OpenSerial(portName string, baudRate int) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", portName)
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}

	return &SerialLink{
		port:     port,
		portName: portName,
		baudRate: baudRate,
		timeout:  DefaultTimeout,
	}, nil
}

// Command writes cmd followed by a newline.
func (l *SerialLink) Command(ctx context.Context, cmd string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.writeLocked(cmd)
}

// Query discards stale input, writes query and reads one response line.
func (l *SerialLink) Query(ctx context.Context, query string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.pending = l.pending[:0]
	if err := l.port.ResetInputBuffer(); err != nil {
		return "", errors.Wrap(err, "reset input buffer")
	}
	if err := l.writeLocked(query); err != nil {
		return "", err
	}
	return l.readLineLocked(ctx, deadline(ctx, l.timeout))
}

// Timeout returns the per-operation timeout.
func (l *SerialLink) Timeout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timeout
}

// SetTimeout sets the per-operation timeout.
func (l *SerialLink) SetTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = d
}

// Close releases the port. The link is unusable afterwards.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}

func (l *SerialLink) String() string {
	return l.portName
}

func (l *SerialLink) writeLocked(line string) error {
	if _, err := l.port.Write([]byte(line + "\n")); err != nil {
		return errors.Wrapf(err, "write %q", line)
	}
	return nil
}

func (l *SerialLink) readLineLocked(ctx context.Context, until time.Time) (string, error) {
	buf := make([]byte, 256)
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := string(bytes.TrimRight(l.pending[:i], "\r"))
			l.pending = append(l.pending[:0], l.pending[i+1:]...)
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(until) {
			return "", ErrTimeout
		}

		// A zero-length read means the poll interval elapsed without data.
		n, err := l.port.Read(buf)
		if err != nil {
			return "", errors.Wrap(err, "read")
		}
		l.pending = append(l.pending, buf[:n]...)
	}
}
