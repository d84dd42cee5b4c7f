package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/go-salt/salt/assemble"
)

type noopParser struct{}

func (noopParser) Feed(assemble.ConnectionHandle, []byte) assemble.Result {
	return assemble.ResultSuccess
}

// White-box test (package client, not client_test): exercises P6
// (spec.md §8) directly against onConnected rather than through a real
// dial, so the reset can be asserted without racing a live socket.
func TestRetryCounterResetsOnSuccess(t *testing.T) {
	c := New()
	defer c.Stop()

	ep := Endpoint{Host: "example", Port: 1}
	c.metas[ep] = &connectionMetaRuntime{
		meta:         ConnectionMeta{RetryOnError: true, MaxRetryCount: 5},
		currentRetry: 3,
	}

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	c.onConnected(ep, serverSide, noopParser{})

	assert.Equal(t, 0, c.metas[ep].currentRetry)
	assert.Contains(t, c.connected, ep)
	assert.Contains(t, c.all, ep)
}

// TestRetryDelayFallsBackToConfiguredDefault exercises the config ->
// client wiring: a meta that leaves RetryIntervalSeconds unset (negative)
// picks up the Client's configured default rather than always retrying
// immediately.
func TestRetryDelayFallsBackToConfiguredDefault(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(ConnectionMeta{RetryIntervalSeconds: -1}, 5))
	assert.Equal(t, time.Duration(0), retryDelay(ConnectionMeta{RetryIntervalSeconds: 0}, 5))
	assert.Equal(t, 2*time.Second, retryDelay(ConnectionMeta{RetryIntervalSeconds: 2}, 5))
}
