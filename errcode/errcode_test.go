package errcode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-salt/salt/errcode"
)

func TestCodeMessagesAreStable(t *testing.T) {
	cases := []struct {
		code errcode.Code
		want string
	}{
		{errcode.Success, "success"},
		{errcode.SendQueueFull, "send queue is full"},
		{errcode.NotConnected, "not connected"},
		{errcode.RequireDisconnect, "parser requires disconnect"},
		{errcode.CallDisconnect, "disconnect called"},
		{errcode.BodySizeError, "invalid body size"},
		{errcode.AlreadyStarted, "already started"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.code.Error())
		assert.Equal(t, c.want, c.code.String())
	}
}

func TestUnknownCodeDoesNotPanic(t *testing.T) {
	var c errcode.Code = 999
	assert.Contains(t, c.String(), "unknown error code")
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, errcode.Success.IsSuccess())
	assert.False(t, errcode.NotConnected.IsSuccess())
}
