package ptt

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClientIdentity(t *testing.T) {
	re := regexp.MustCompile(`^WebRecorder_[0-9a-f]{8}$`)
	a := NewClientIdentity("WebRecorder_")
	b := NewClientIdentity("WebRecorder_")
	assert.Regexp(t, re, string(a))
	assert.Regexp(t, re, string(b))
	assert.NotEqual(t, a, b)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("eof")
	err := fmt.Errorf("wrapped: %w", transportErr("publish", cause))

	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "press_start: not_connected", notConnected("press_start").Error())
}
