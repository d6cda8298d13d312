// Package control implements the TCP control channel (spec §6): a
// line-oriented "start"/"stop"/"quit" protocol, bound by default to
// 0.0.0.0:5000 with SO_REUSEADDR so a restarted agent doesn't wait out
// TIME_WAIT. Ported from the original source's ctrl_svr.rs.
package control

import (
	"bufio"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Actions the line protocol dispatches to.
type Actions interface {
	Start()
	Stop()
}

// Server is the control-channel listener. Each accepted connection is
// served on its own goroutine, so several sessions may be open at
// once; the control channel is an operator convenience, not a
// concurrent API.
type Server struct {
	addr     string
	actions  Actions
	log      *logrus.Entry
	listener net.Listener
}

// New returns a Server that will bind addr (host:port) once Serve is
// called.
func New(addr string, actions Actions, log *logrus.Entry) *Server {
	return &Server{addr: addr, actions: actions, log: log}
}

// reusableListenConfig sets SO_REUSEADDR on the listening socket
// before bind, spec §6's explicit requirement.
var reusableListenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// Serve binds the listener and accepts connections until the listener
// is closed (via Close). Each connection is handled on its own
// goroutine so a stuck client can't stall new connections, but
// the protocol itself is line-oriented and session-scoped per spec.
func (s *Server) Serve() error {
	l, err := reusableListenConfig.Listen(nil, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = l
	for {
		conn, err := l.Accept()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the listener, causing Serve to return.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func isClosed(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

// handleConn reads ASCII lines from conn, dispatching "start", "stop",
// and "quit" (spec §6: "No handshake, no framing beyond the line
// prefix"). Any other line is ignored. "quit" closes the session.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" && s.dispatch(line) {
			return
		}
		if err != nil {
			if err != io.EOF && s.log != nil {
				s.log.WithError(err).Warn("control connection read error")
			}
			return
		}
	}
}

// dispatch runs the action named by line and reports whether the
// session should close ("quit").
func (s *Server) dispatch(line string) bool {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "start":
		s.actions.Start()
	case "stop":
		s.actions.Stop()
	case "quit":
		return true
	}
	return false
}
