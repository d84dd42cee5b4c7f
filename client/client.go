// Package client implements the outbound facade: a registry of named
// target endpoints with automatic reconnection (spec.md §4.6).
package client

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-salt/salt/assemble"
	"github.com/go-salt/salt/config"
	"github.com/go-salt/salt/conn"
	"github.com/go-salt/salt/errcode"
	"github.com/go-salt/salt/printer"
	"github.com/go-salt/salt/reactor"
)

// Client maintains the fleet of named server connections described in
// spec.md §4.6. All registry mutation happens inside closures posted to
// the control executor; callers never touch the maps directly.
type Client struct {
	control *reactor.ControlExecutor

	transferOnce        sync.Once
	transfer            *reactor.TransferExecutor
	transferThreadCount int

	assembleFactory assemble.Factory
	observer        Observer

	receiveBufferSize    int
	queueCapacity        int
	defaultRetryInterval int

	dialer net.Dialer

	// The three registries from spec.md §3, mutated only on control.
	all       map[Endpoint]*conn.Connection
	connected map[Endpoint]*conn.Connection
	metas     map[Endpoint]*connectionMetaRuntime
}

// New constructs a Client with the spec's default buffer/queue sizes,
// overridable via $HOME/.salt/config.yaml (package config).
func New() *Client {
	tunables := config.Load()
	return &Client{
		control:              reactor.NewControlExecutor(),
		transferThreadCount:  1,
		receiveBufferSize:    tunables.ReceiveBufferSize,
		queueCapacity:        tunables.SendQueueCapacity,
		defaultRetryInterval: tunables.RetryIntervalSecs,
		all:                  map[Endpoint]*conn.Connection{},
		connected:            map[Endpoint]*conn.Connection{},
		metas:                map[Endpoint]*connectionMetaRuntime{},
	}
}

// SetTransferThreadCount configures the size of the shared transfer
// executor pool. Must be called before the first Connect; later calls
// have no effect once the pool has been created.
func (c *Client) SetTransferThreadCount(n int) *Client {
	c.transferThreadCount = n
	return c
}

// SetAssembleCreator installs the client-global parser factory, used for
// any target whose ConnectionMeta does not override it.
func (c *Client) SetAssembleCreator(f assemble.Factory) *Client {
	c.assembleFactory = f
	return c
}

// SetNotify installs the lifecycle observer.
func (c *Client) SetNotify(o Observer) *Client {
	c.observer = o
	return c
}

func (c *Client) ensureTransfer() *reactor.TransferExecutor {
	c.transferOnce.Do(func() {
		c.transfer = reactor.NewTransferExecutor(c.transferThreadCount)
	})
	return c.transfer
}

func (c *Client) notifyConnected(host string, port uint16) {
	if c.observer != nil {
		c.observer.ConnectionConnected(host, port)
	}
}

func (c *Client) notifyDisconnected(host string, port uint16, err error) {
	if c.observer != nil {
		c.observer.ConnectionDisconnected(host, port, err)
	}
}

func (c *Client) notifyDropped(host string, port uint16) {
	if c.observer != nil {
		c.observer.ConnectionDropped(host, port)
	}
}

// Connect registers ep with no retry policy: a single connection attempt
// that, on failure, is dropped without retrying.
func (c *Client) Connect(host string, port uint16) {
	c.ConnectWithMeta(host, port, ConnectionMeta{})
}

// ConnectWithMeta registers ep with an explicit retry policy.
func (c *Client) ConnectWithMeta(host string, port uint16, meta ConnectionMeta) {
	ep := Endpoint{Host: host, Port: port}
	c.control.Post(func() {
		c.installMeta(ep, meta)
		c.beginConnect(ep)
	})
}

// installMeta stores a runtime entry whenever the meta permits retries,
// regardless of retry interval: boundary scenario 6 (spec.md §8) requires
// a retry_interval_s of 0 to still retry immediately, so interval alone
// cannot gate whether the entry is kept.
func (c *Client) installMeta(ep Endpoint, meta ConnectionMeta) {
	if !meta.RetryOnError {
		delete(c.metas, ep)
		return
	}
	c.metas[ep] = &connectionMetaRuntime{meta: meta}
}

func (c *Client) factoryFor(ep Endpoint) assemble.Factory {
	if rt, ok := c.metas[ep]; ok && rt.meta.AssembleFactory != nil {
		return rt.meta.AssembleFactory
	}
	return c.assembleFactory
}

// beginConnect runs on the control executor. It kicks off resolution and
// dialing on a background goroutine (the Go analogue of the reactor's
// async resolve/connect) and posts the result back.
func (c *Client) beginConnect(ep Endpoint) {
	factory := c.factoryFor(ep)
	if factory == nil {
		c.applyFailure(ep, errcode.AssembleCreatorNotSet)
		return
	}

	go func() {
		ctx := context.Background()
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, ep.Host)
		if err != nil {
			c.control.Post(func() {
				c.applyFailure(ep, errors.Wrapf(err, "resolve %s failed", ep.Host))
			})
			return
		}
		addr := net.JoinHostPort(ips[0].String(), strconv.Itoa(int(ep.Port)))

		socket, err := c.dialer.DialContext(ctx, "tcp4", addr)
		if err != nil {
			c.control.Post(func() {
				c.applyFailure(ep, errors.Wrapf(err, "connect to %s failed", addr))
			})
			return
		}

		parser := factory()
		if parser == nil {
			_ = socket.Close()
			c.control.Post(func() {
				c.applyFailure(ep, errcode.AssembleCreatorReturnedNull)
			})
			return
		}

		c.control.Post(func() {
			c.onConnected(ep, socket, parser)
		})
	}()
}

func (c *Client) onConnected(ep Endpoint, socket net.Conn, parser assemble.Parser) {
	connection := conn.New(socket, c.ensureTransfer(), parser, c.connectionErrorNotify(ep), c.receiveBufferSize, c.queueCapacity)

	c.all[ep] = connection
	c.connected[ep] = connection
	if rt, ok := c.metas[ep]; ok {
		rt.currentRetry = 0
	}

	printer.Debugln("client: connected", connection.ID(), ep)
	c.notifyConnected(ep.Host, ep.Port)
	connection.StartRead()
}

// connectionErrorNotify returns the ErrorNotify callback handed to each
// Connection, closing only over ep and the client itself rather than
// holding a smart-pointer cycle back through the connection (spec.md
// §9's "cyclic observer/subject" note).
func (c *Client) connectionErrorNotify(ep Endpoint) conn.ErrorNotify {
	return func(_ string, _ uint16, err error) {
		printer.Debugln("client: connection failed", ep, "cause:", err)
		c.control.Post(func() {
			c.applyFailure(ep, err)
		})
	}
}

// applyFailure runs on the control executor and implements the
// reconnection policy of spec.md §4.6.
//
// currentRetry counts every failed connect attempt for this target,
// including the very first one — not just the reconnect attempts that
// follow it. This is the reading that matches spec.md §8 boundary
// scenario 6 exactly (max_retry_cnt=3 yields 3 connection_disconnected
// notifications, i.e. 1 initial attempt + 2 reconnects, then a single
// connection_dropped with no 4th attempt); a literal reading of P5's
// "exactly N reconnect attempts" phrasing as N retries *after* the
// initial failure would instead yield N+1 disconnect notifications,
// which contradicts the boundary scenario's concrete counts. See
// DESIGN.md for this resolution.
func (c *Client) applyFailure(ep Endpoint, cause error) {
	delete(c.all, ep)
	delete(c.connected, ep)
	c.notifyDisconnected(ep.Host, ep.Port, cause)

	rt, ok := c.metas[ep]
	if !ok || !rt.meta.RetryOnError {
		c.notifyDropped(ep.Host, ep.Port)
		return
	}

	rt.currentRetry++

	if rt.meta.RetryForever {
		c.scheduleReconnect(ep, rt)
		return
	}

	if rt.currentRetry < rt.meta.MaxRetryCount {
		c.scheduleReconnect(ep, rt)
		return
	}

	c.notifyDropped(ep.Host, ep.Port)
}

func (c *Client) scheduleReconnect(ep Endpoint, rt *connectionMetaRuntime) {
	delay := retryDelay(rt.meta, c.defaultRetryInterval)
	printer.Debugln("client: scheduling reconnect to", ep, "in", delay)
	c.control.PostAfter(delay, func() {
		c.beginConnect(ep)
	})
}

// Send looks up ep in the connected set and forwards to its Send. If ep
// is not connected, completion is invoked with errcode.NotConnected.
func (c *Client) Send(host string, port uint16, payload []byte, completion func(error)) {
	if completion == nil {
		completion = func(error) {}
	}
	ep := Endpoint{Host: host, Port: port}
	c.control.Post(func() {
		connection, ok := c.connected[ep]
		if !ok {
			completion(errcode.NotConnected)
			return
		}
		connection.Send(payload, completion)
	})
}

// Broadcast sends payload to every currently connected target.
func (c *Client) Broadcast(payload []byte, completion func(error)) {
	if completion == nil {
		completion = func(error) {}
	}
	c.control.Post(func() {
		for _, connection := range c.connected {
			connection.Send(payload, completion)
		}
	})
}

// Disconnect tears down ep's connection, if any. ConnectionDisconnected
// with errcode.CallDisconnect fires synchronously, before the close is
// visible to any other goroutine, matching spec.md §4.6. The meta entry
// is left in place: reconnection continues if one was installed. Use
// Forget to also stop future reconnection.
func (c *Client) Disconnect(host string, port uint16) {
	c.notifyDisconnected(host, port, errcode.CallDisconnect)

	ep := Endpoint{Host: host, Port: port}
	c.control.Post(func() {
		connection, ok := c.all[ep]
		delete(c.all, ep)
		delete(c.connected, ep)
		if ok {
			connection.Disconnect()
		}
	})
}

// Forget removes ep's retry policy, so a subsequent failure (or an
// explicit Disconnect) will not trigger reconnection. It does not affect
// an already-live connection. This answers spec.md §9's open question
// about suppressing reconnection on explicit disconnect by giving callers
// the tool, rather than guessing intent.
func (c *Client) Forget(host string, port uint16) {
	ep := Endpoint{Host: host, Port: port}
	c.control.Post(func() {
		delete(c.metas, ep)
	})
}

// Stop tears down every known connection and shuts down both executors,
// blocking until their goroutines have exited.
func (c *Client) Stop() {
	var transfer *reactor.TransferExecutor
	c.control.Post(func() {
		for _, connection := range c.all {
			connection.Disconnect()
		}
		c.all = map[Endpoint]*conn.Connection{}
		c.connected = map[Endpoint]*conn.Connection{}
		transfer = c.transfer
	})
	c.control.Stop()
	if transfer != nil {
		transfer.Stop()
	}
}
