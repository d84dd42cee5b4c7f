package conn_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-salt/salt/assemble"
	"github.com/go-salt/salt/conn"
	"github.com/go-salt/salt/errcode"
	"github.com/go-salt/salt/reactor"
)

// lineParser splits the stream on '\n' and reports each line (sans
// newline) through the recorded channel; good enough to drive Connection
// tests without pulling in the header/body assembler.
type lineParser struct {
	mu      sync.Mutex
	pending []byte
	lines   chan string
}

func newLineParser() *lineParser {
	return &lineParser{lines: make(chan string, 64)}
}

func (p *lineParser) Feed(_ assemble.ConnectionHandle, b []byte) assemble.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
	for {
		idx := indexByte(p.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(p.pending[:idx])
		p.pending = p.pending[idx+1:]
		p.lines <- line
	}
	return assemble.ResultSuccess
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func newPipeConnection(t *testing.T, parser assemble.Parser, notify conn.ErrorNotify) (*conn.Connection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	transfer := reactor.NewTransferExecutor(2)
	t.Cleanup(transfer.Stop)

	c := conn.New(serverSide, transfer, parser, notify, 0, 0)
	c.StartRead()
	return c, clientSide
}

func TestSendOrderingIsFIFO(t *testing.T) {
	parser := newLineParser()
	c, peer := newPipeConnection(t, parser, nil)
	defer c.Disconnect()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := peer.Read(buf)
			if err != nil {
				return
			}
			_ = n
		}
	}()

	var completions []int
	var mu sync.Mutex
	const count = 20
	for i := 0; i < count; i++ {
		i := i
		c.Send([]byte{byte(i)}, func(err error) {
			mu.Lock()
			completions = append(completions, i)
			mu.Unlock()
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completions) == count
	}, time.Second, time.Millisecond)

	for i, v := range completions {
		assert.Equal(t, i, v, "completions must be invoked in FIFO invocation order")
	}
}

func TestSendQueueFullRejectsSynchronously(t *testing.T) {
	parser := newLineParser()
	serverSide, _ := net.Pipe()
	transfer := reactor.NewTransferExecutor(1)
	defer transfer.Stop()

	// A small queue capacity so we can exhaust it deterministically.
	c := conn.New(serverSide, transfer, parser, nil, 0, 1)
	defer c.Disconnect()

	// net.Pipe has no buffering, so the first Send's write blocks until
	// someone reads, keeping writeInFlight true while we enqueue more.
	var codes []error
	var mu sync.Mutex
	record := func(err error) {
		mu.Lock()
		codes = append(codes, err)
		mu.Unlock()
	}

	c.Send([]byte("a"), record) // starts the in-flight write, nobody reads it
	c.Send([]byte("b"), record) // fills the 1-capacity queue
	c.Send([]byte("c"), record) // queue full -> SendQueueFull synchronously

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(codes) >= 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, errcode.SendQueueFull, codes[len(codes)-1])
}

func TestDisconnectNotifiesOnParserDisconnect(t *testing.T) {
	var notifiedErr error
	notify := func(host string, port uint16, err error) {
		notifiedErr = err
	}

	parser := disconnectingParser{}
	c, peer := newPipeConnection(t, parser, notify)
	defer peer.Close()
	defer c.Disconnect()

	_, err := peer.Write([]byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return notifiedErr != nil
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, notifiedErr, errcode.RequireDisconnect)
}

type disconnectingParser struct{}

func (disconnectingParser) Feed(assemble.ConnectionHandle, []byte) assemble.Result {
	return assemble.ResultDisconnect
}
