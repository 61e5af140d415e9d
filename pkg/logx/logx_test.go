package logx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugDomainFiltering(t *testing.T) {
	t.Cleanup(func() {
		debugMu.Lock()
		debugEnabled = false
		debugDomains = nil
		debugMu.Unlock()
	})

	SetDebug(false)
	assert.False(t, IsDebugEnabledFor("loop"))

	SetDebug(true)
	assert.True(t, IsDebugEnabledFor("loop"), "nil domain set enables all components")

	debugMu.Lock()
	debugDomains = map[string]bool{"agent": true}
	debugMu.Unlock()

	assert.True(t, IsDebugEnabledFor("agent"))
	assert.False(t, IsDebugEnabledFor("loop"))
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(nil, "context"))

	base := errors.New("boom")
	wrapped := Wrap(base, "save session")
	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, base)
	assert.Equal(t, "save session: boom", wrapped.Error())
}

func TestErrorfReturnsError(t *testing.T) {
	base := errors.New("disk full")
	err := Errorf("checkpoint write: %w", base)
	require.Error(t, err)
	assert.ErrorIs(t, err, base)
}

func TestLoggerComponent(t *testing.T) {
	l := NewLogger("session")
	assert.Equal(t, "session", l.Component())
}
