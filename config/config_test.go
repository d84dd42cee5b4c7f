package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-salt/salt/config"
)

func TestLoadFallsBackToDefaultsWhenUnset(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tunables := config.Load()

	assert.Equal(t, config.DefaultReceiveBufferSize, tunables.ReceiveBufferSize)
	assert.Equal(t, config.DefaultSendQueueCapacity, tunables.SendQueueCapacity)
	assert.Equal(t, config.DefaultRetryIntervalSecs, tunables.RetryIntervalSecs)
}
