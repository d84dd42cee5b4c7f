package server_test

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-salt/salt/assemble"
	"github.com/go-salt/salt/errcode"
	"github.com/go-salt/salt/server"
)

type echoParser struct {
	mu       sync.Mutex
	received [][]byte
}

func (p *echoParser) Feed(h assemble.ConnectionHandle, data []byte) assemble.Result {
	p.mu.Lock()
	p.received = append(p.received, append([]byte(nil), data...))
	p.mu.Unlock()
	return assemble.ResultSuccess
}

type acceptObserver struct {
	mu       sync.Mutex
	accepted int
	closed   int
}

func (o *acceptObserver) ConnectionAccepted(string, uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accepted++
}

func (o *acceptObserver) ConnectionClosed(string, uint16, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
}

func (o *acceptObserver) snapshot() (accepted, closed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.accepted, o.closed
}

func TestStartBindsEphemeralPortAndAccepts(t *testing.T) {
	parser := &echoParser{}
	obs := &acceptObserver{}

	s := server.New().
		SetListenIPv4("127.0.0.1").
		SetListenPort(0).
		SetAssembleCreator(func() assemble.Parser { return parser }).
		SetNotify(obs)
	defer s.Stop()

	require.Equal(t, errcode.Success, s.Start())

	assert.Equal(t, "127.0.0.1", s.GetListenAddress())
	port := s.GetListenPort()
	assert.NotZero(t, port)

	conn, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		accepted, _ := obs.snapshot()
		return accepted == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		parser.mu.Lock()
		defer parser.mu.Unlock()
		return len(parser.received) == 1
	}, 2*time.Second, 5*time.Millisecond)

	parser.mu.Lock()
	assert.Equal(t, "hello", string(parser.received[0]))
	parser.mu.Unlock()
}

func TestStartWithoutAssembleCreatorFails(t *testing.T) {
	s := server.New().SetListenIPv4("127.0.0.1").SetListenPort(0)
	code := s.Start()
	assert.Equal(t, errcode.AssembleCreatorNotSet, code)
}

func TestStartTwiceReturnsAlreadyStarted(t *testing.T) {
	s := server.New().
		SetListenIPv4("127.0.0.1").
		SetListenPort(0).
		SetAssembleCreator(func() assemble.Parser { return &echoParser{} })
	defer s.Stop()

	require.Equal(t, errcode.Success, s.Start())
	assert.Equal(t, errcode.AlreadyStarted, s.Start())
}

func TestStartWithBadListenAddressFails(t *testing.T) {
	s := server.New().
		SetListenIPv4("not-an-ip").
		SetListenPort(0).
		SetAssembleCreator(func() assemble.Parser { return &echoParser{} })
	defer s.Stop()

	assert.Equal(t, errcode.ParseIPAddressError, s.Start())
}

func TestStopAllowsRebindOnSamePort(t *testing.T) {
	s1 := server.New().
		SetListenIPv4("127.0.0.1").
		SetListenPort(0).
		SetAssembleCreator(func() assemble.Parser { return &echoParser{} })
	require.Equal(t, errcode.Success, s1.Start())
	port := s1.GetListenPort()
	s1.Stop()

	s2 := server.New().
		SetListenIPv4("127.0.0.1").
		SetListenPort(port).
		SetAssembleCreator(func() assemble.Parser { return &echoParser{} })
	defer s2.Stop()
	assert.Equal(t, errcode.Success, s2.Start())
}
