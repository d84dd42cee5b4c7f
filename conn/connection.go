// Package conn implements the per-socket connection object: the send
// pipeline (spec.md §4.5), the fixed-capacity receive buffer, and the
// glue between a raw net.Conn and an assemble.Parser.
package conn

import (
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-salt/salt/assemble"
	"github.com/go-salt/salt/errcode"
	"github.com/go-salt/salt/printer"
	"github.com/go-salt/salt/reactor"
)

// ErrorNotify reports a lifecycle failure for the connection identified
// by (remoteHost, remotePort). Invoked exactly once per failing
// connection.
type ErrorNotify func(remoteHost string, remotePort uint16, err error)

// outboundItem is one queued send: payload plus its completion callback.
type outboundItem struct {
	payload    []byte
	completion func(error)
}

// Connection owns one socket, its outbound queue, its receive buffer, and
// its parser. It is safe for concurrent use: Send may be called from any
// goroutine, while reads are driven internally by the transfer executor.
type Connection struct {
	id uuid.UUID

	socket   net.Conn
	transfer *reactor.TransferExecutor
	parser   assemble.Parser
	notify   ErrorNotify

	receiveBufferSize int
	queueCapacity     int

	remoteHost string
	remotePort uint16
	localHost  string
	localPort  uint16

	mu          sync.Mutex // the "serialized region": guards everything below
	queue       []outboundItem
	writeInFlight bool
	closed      bool
}

// New wraps an already-established socket. receiveBufferSize and
// queueCapacity of 0 fall back to the spec defaults (1024 / 256).
func New(socket net.Conn, transfer *reactor.TransferExecutor, parser assemble.Parser, notify ErrorNotify, receiveBufferSize, queueCapacity int) *Connection {
	if receiveBufferSize <= 0 {
		receiveBufferSize = 1024
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}

	c := &Connection{
		id:                uuid.New(),
		socket:            socket,
		transfer:          transfer,
		parser:            parser,
		notify:            notify,
		receiveBufferSize: receiveBufferSize,
		queueCapacity:     queueCapacity,
	}
	c.cacheEndpoints()
	return c
}

// ID is a debug-only identifier; it never appears on the wire.
func (c *Connection) ID() uuid.UUID { return c.id }

func (c *Connection) cacheEndpoints() {
	if rAddr := c.socket.RemoteAddr(); rAddr != nil {
		host, portStr, err := net.SplitHostPort(rAddr.String())
		if err == nil {
			c.remoteHost = host
			if p, err := strconv.Atoi(portStr); err == nil {
				c.remotePort = uint16(p)
			}
		}
	}
	if lAddr := c.socket.LocalAddr(); lAddr != nil {
		host, portStr, err := net.SplitHostPort(lAddr.String())
		if err == nil {
			c.localHost = host
			if p, err := strconv.Atoi(portStr); err == nil {
				c.localPort = uint16(p)
			}
		}
	}
}

// RemoteHost returns the cached remote host, meaningful even after the
// socket has been closed.
func (c *Connection) RemoteHost() string { return c.remoteHost }

// RemotePort returns the cached remote port.
func (c *Connection) RemotePort() uint16 { return c.remotePort }

// LocalHost returns the cached local host.
func (c *Connection) LocalHost() string { return c.localHost }

// LocalPort returns the cached local port.
func (c *Connection) LocalPort() uint16 { return c.localPort }

// Send posts payload onto the connection's serialized send region. If no
// write is in flight, a write starts immediately; otherwise payload is
// enqueued. If the queue is already at capacity, completion is invoked
// synchronously with errcode.SendQueueFull and payload is dropped.
// completion is always invoked exactly once per accepted Send.
func (c *Connection) Send(payload []byte, completion func(error)) {
	if completion == nil {
		completion = func(error) {}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		completion(errcode.NullConnection)
		return
	}

	if c.writeInFlight {
		if len(c.queue) >= c.queueCapacity {
			c.mu.Unlock()
			completion(errcode.SendQueueFull)
			return
		}
		c.queue = append(c.queue, outboundItem{payload: payload, completion: completion})
		c.mu.Unlock()
		return
	}

	c.writeInFlight = true
	c.mu.Unlock()

	c.issueWrite(outboundItem{payload: payload, completion: completion})
}

// issueWrite performs one async write on the transfer executor and drives
// the drain protocol described in spec.md §4.5 on completion.
func (c *Connection) issueWrite(item outboundItem) {
	c.transfer.Post(func() {
		_, err := c.socket.Write(item.payload)
		item.completion(err)

		c.mu.Lock()
		if len(c.queue) == 0 {
			c.writeInFlight = false
			c.mu.Unlock()
			return
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.issueWrite(next)
	})
}

// StartRead arms a single asynchronous read into a fixed-capacity buffer.
// It is invoked once by the owning client/server facade right after
// connect/accept, and re-arms itself after every completion except when
// the parser or the OS demands teardown.
func (c *Connection) StartRead() {
	c.transfer.Post(c.readOnce)
}

func (c *Connection) readOnce() {
	buf := make([]byte, c.receiveBufferSize)
	n, err := c.socket.Read(buf)

	if err != nil {
		// Per spec.md §9's open question, a nonzero read alongside an
		// error discards the partial bytes rather than feeding them to
		// the parser; this matches the observed behavior of the source
		// this library was distilled from.
		c.teardown(err)
		return
	}

	switch res := c.parser.Feed(c, buf[:n]); res {
	case assemble.ResultDisconnect:
		c.teardown(errcode.RequireDisconnect)
		return
	default:
		// ResultSuccess and ResultError both re-arm the next read; a
		// non-fatal parse error is logged but does not tear down the
		// connection.
		if res == assemble.ResultError {
			printer.Debugln("conn: parser reported a non-fatal error on", c.id, c.remoteHost, c.remotePort)
		}
	}

	c.transfer.Post(c.readOnce)
}

func (c *Connection) teardown(cause error) {
	printer.Debugln("conn: tearing down", c.id, c.remoteHost, c.remotePort, "cause:", cause)
	c.Disconnect()
	if c.notify != nil {
		c.notify(c.remoteHost, c.remotePort, errors.WithStack(cause))
	}
}

// Disconnect closes the socket (ignoring close errors), clears the send
// queue, and releases the in-flight-write flag. Every payload still queued
// is dropped and its completion invoked with errcode.NullConnection. Safe
// to call more than once.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dropped := c.queue
	c.queue = nil
	c.writeInFlight = false
	c.mu.Unlock()

	_ = c.socket.Close()
	for _, item := range dropped {
		item.completion(errcode.NullConnection)
	}
}
