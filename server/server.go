// Package server implements the inbound facade: a single bound listener
// accepting connections, each handed a fresh parser instance (spec.md
// §4.7).
package server

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/go-salt/salt/assemble"
	"github.com/go-salt/salt/conn"
	"github.com/go-salt/salt/errcode"
	"github.com/go-salt/salt/printer"
	"github.com/go-salt/salt/reactor"
)

// Observer receives per-connection lifecycle notifications, mirroring
// client.Observer but without a dropped/retry concept: the server never
// reconnects an inbound peer.
type Observer interface {
	ConnectionAccepted(remoteHost string, remotePort uint16)
	ConnectionClosed(remoteHost string, remotePort uint16, err error)
}

// NoOpObserver implements Observer with no-op methods.
type NoOpObserver struct{}

func (NoOpObserver) ConnectionAccepted(string, uint16)      {}
func (NoOpObserver) ConnectionClosed(string, uint16, error) {}

// Server owns one listening socket and the transfer executor its accepted
// connections share.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	started  bool

	listenIPv4    string
	listenIPv4Bad bool
	listenPort    uint16

	transferThreadCount int
	transfer            *reactor.TransferExecutor

	receiveBufferSize int
	queueCapacity     int

	assembleFactory assemble.Factory
	observer        Observer

	acceptWG sync.WaitGroup
}

// New constructs a Server with the spec's default buffer/queue sizes and
// a single transfer thread; override via the Set* methods before Start.
func New() *Server {
	return &Server{
		listenIPv4:          "0.0.0.0",
		transferThreadCount: 1,
		receiveBufferSize:   1024,
		queueCapacity:       256,
	}
}

// SetListenIPv4 configures the bind address. Must be called before Start.
// An address that fails to parse is remembered rather than rejected here
// (this method returns *Server for chaining, matching the rest of the
// Set* surface); Start reports it as errcode.ParseIPAddressError.
func (s *Server) SetListenIPv4(addr string) *Server {
	if _, err := netip.ParseAddr(addr); err != nil {
		s.listenIPv4Bad = true
		s.listenIPv4 = addr
		return s
	}
	s.listenIPv4Bad = false
	s.listenIPv4 = addr
	return s
}

// SetListenPort configures the bind port. 0 requests an OS-assigned
// ephemeral port, discoverable afterward via GetListenPort.
func (s *Server) SetListenPort(port uint16) *Server {
	s.listenPort = port
	return s
}

// SetTransferThreadCount configures the size of the accepted-connections'
// shared transfer executor pool. Must be called before Start.
func (s *Server) SetTransferThreadCount(n int) *Server {
	s.transferThreadCount = n
	return s
}

// SetAssembleCreator installs the per-accept parser factory. Required:
// Start fails with errcode.AssembleCreatorNotSet if this was never called.
func (s *Server) SetAssembleCreator(f assemble.Factory) *Server {
	s.assembleFactory = f
	return s
}

// SetNotify installs the lifecycle observer.
func (s *Server) SetNotify(o Observer) *Server {
	s.observer = o
	return s
}

// Start binds the listening socket and begins the accept loop on a
// background goroutine. Returns errcode.AssembleCreatorNotSet if no
// factory was installed, errcode.AlreadyStarted if already running, or
// errcode.ParseIPAddressError if the configured listen address (spec.md
// §6's set_listen_ip_v4) does not parse.
func (s *Server) Start() errcode.Code {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errcode.AlreadyStarted
	}
	if s.assembleFactory == nil {
		return errcode.AssembleCreatorNotSet
	}
	if s.listenIPv4Bad {
		return errcode.ParseIPAddressError
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}

	addr := net.JoinHostPort(s.listenIPv4, strconv.Itoa(int(s.listenPort)))
	listener, err := lc.Listen(context.Background(), "tcp4", addr)
	if err != nil {
		printer.Errorln("server: listen failed on", addr, ":", err)
		return errcode.InternalError
	}

	s.listener = listener
	s.transfer = reactor.NewTransferExecutor(s.transferThreadCount)
	s.started = true

	s.acceptWG.Add(1)
	go s.acceptLoop(listener)

	return errcode.Success
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.acceptWG.Done()
	for {
		socket, err := listener.Accept()
		if err != nil {
			// net.Listener.Accept returns an error on every call once the
			// listener has been closed by Stop; that is the loop's only
			// exit, so it is expected and not logged as a failure.
			if !isClosedListenerError(err) {
				printer.Errorln("server: accept failed:", err)
				continue
			}
			return
		}
		s.handleAccept(socket)
	}
}

func isClosedListenerError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func (s *Server) handleAccept(socket net.Conn) {
	parser := s.assembleFactory()
	if parser == nil {
		printer.Errorln("server: assemble creator returned nil for", socket.RemoteAddr())
		_ = socket.Close()
		return
	}

	var remoteHost string
	var remotePort uint16
	if host, portStr, err := net.SplitHostPort(socket.RemoteAddr().String()); err == nil {
		remoteHost = host
		if p, err := strconv.Atoi(portStr); err == nil {
			remotePort = uint16(p)
		}
	}

	var connection *conn.Connection
	notify := func(host string, port uint16, err error) {
		printer.Debugln("server: connection closed", connection.ID(), host, port, "cause:", err)
		if s.observer != nil {
			s.observer.ConnectionClosed(host, port, err)
		}
	}
	connection = conn.New(socket, s.transfer, parser, notify, s.receiveBufferSize, s.queueCapacity)

	printer.Debugln("server: accepted connection", connection.ID(), "from", remoteHost, remotePort)
	if s.observer != nil {
		s.observer.ConnectionAccepted(remoteHost, remotePort)
	}
	connection.StartRead()
}

// Stop closes the listening socket, waits for the accept loop to exit,
// and stops the transfer executor. It does not forcibly close already
// accepted connections, and the Server hands callers no reference to
// them: Observer.ConnectionAccepted receives only the peer's host and
// port.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	listener := s.listener
	transfer := s.transfer
	s.listener = nil
	s.transfer = nil
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	s.acceptWG.Wait()
	if transfer != nil {
		transfer.Stop()
	}
}

// GetListenAddress returns the bound local IP, or "" if not started.
func (s *Server) GetListenAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return ""
	}
	return host
}

// GetListenPort returns the bound local port, resolving an OS-assigned
// ephemeral port (SetListenPort(0)) to its real value. Returns 0 if not
// started.
func (s *Server) GetListenPort() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return uint16(port)
}
