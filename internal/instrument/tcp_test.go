package instrument

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInstrument is a line-oriented SCPI server on a loopback socket.
type fakeInstrument struct {
	ln net.Listener

	mu       sync.Mutex
	received []string
}

func startFakeInstrument(t *testing.T, answer func(line string) (string, bool)) *fakeInstrument {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeInstrument{ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			f.mu.Lock()
			f.received = append(f.received, line)
			f.mu.Unlock()
			if resp, ok := answer(line); ok {
				conn.Write([]byte(resp + "\r\n"))
			}
		}
	}()
	return f
}

func (f *fakeInstrument) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func TestTCPLinkQueryAndCommand(t *testing.T) {
	f := startFakeInstrument(t, func(line string) (string, bool) {
		if line == "*IDN?" {
			return "ACME,CYCLER,1,2", true
		}
		if strings.HasPrefix(line, "MEAS:VOLT?") {
			return "3.71,3.72", true
		}
		return "", false
	})

	ctx := context.Background()
	link, err := DialTCP(ctx, f.ln.Addr().String())
	require.NoError(t, err)
	defer link.Close()

	idn, err := link.Query(ctx, "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "ACME,CYCLER,1,2", idn)

	require.NoError(t, link.Command(ctx, "OUTP ON"))

	v, err := link.Query(ctx, "MEAS:VOLT? (@1,2)")
	require.NoError(t, err)
	assert.Equal(t, "3.71,3.72", v)

	assert.Eventually(t, func() bool { return len(f.lines()) == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"*IDN?", "OUTP ON", "MEAS:VOLT? (@1,2)"}, f.lines())
}

func TestTCPLinkQueryTimesOut(t *testing.T) {
	f := startFakeInstrument(t, func(string) (string, bool) { return "", false })

	ctx := context.Background()
	link, err := DialTCP(ctx, f.ln.Addr().String())
	require.NoError(t, err)
	defer link.Close()

	link.SetTimeout(50 * time.Millisecond)
	_, err = link.Query(ctx, "MEAS:VOLT? (@1)")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTCPLinkQueryHonoursCancellation(t *testing.T) {
	f := startFakeInstrument(t, func(string) (string, bool) { return "", false })

	link, err := DialTCP(context.Background(), f.ln.Addr().String())
	require.NoError(t, err)
	defer link.Close()
	link.SetTimeout(10 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = link.Query(ctx, "MEAS:VOLT? (@1)")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTCPLinkClosed(t *testing.T) {
	f := startFakeInstrument(t, func(string) (string, bool) { return "", false })

	ctx := context.Background()
	link, err := DialTCP(ctx, f.ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	assert.ErrorIs(t, link.Command(ctx, "OUTP OFF"), ErrClosed)
	_, err = link.Query(ctx, "*IDN?")
	assert.ErrorIs(t, err, ErrClosed)
}
