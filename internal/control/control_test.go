package control

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActions struct {
	mu          sync.Mutex
	startCalled int
	stopCalled  int
}

func (f *fakeActions) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalled++
}

func (f *fakeActions) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled++
}

func (f *fakeActions) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalled, f.stopCalled
}

func startTestServer(t *testing.T, actions Actions) (addr string, closeFn func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{addr: l.Addr().String(), actions: actions, listener: l}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn)
		}
	}()
	return l.Addr().String(), func() { l.Close() }
}

func TestControlStartStopQuit(t *testing.T) {
	actions := &fakeActions{}
	addr, closeFn := startTestServer(t, actions)
	defer closeFn()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("start\nstop\nstart\nquit\n"))
	require.NoError(t, err)

	// Give the server goroutine time to process the lines before
	// asserting; the quit causes the handler to close its end, which
	// a blocking Read below would observe.
	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Read(buf) // blocks until the server closes the connection on "quit"

	starts, stops := actions.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
}

func TestControlIgnoresUnknownLines(t *testing.T) {
	actions := &fakeActions{}
	addr, closeFn := startTestServer(t, actions)
	defer closeFn()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("bogus\nquit\n"))
	require.NoError(t, err)

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Read(buf)

	starts, stops := actions.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 0, stops)
}

func TestDispatchReportsQuit(t *testing.T) {
	s := &Server{actions: &fakeActions{}}
	assert.True(t, s.dispatch("quit"))
	assert.False(t, s.dispatch("start"))
	assert.False(t, s.dispatch("STOP"))
}
