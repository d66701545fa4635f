package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"nil is success", nil, 0},
		{"untyped is generic", errors.New("boom"), 1},
		{"unknown verb", NewError(KindUnknownVerb, "no such verb"), 2},
		{"bad args", NewError(KindBadArgs, "empty task"), 10},
		{"unknown agent", NewError(KindUnknownAgent, "ghost"), 11},
		{"session exists", NewError(KindSessionExists, "taken"), 20},
		{"task assigned", NewError(KindTaskAlreadyAssigned, "held"), 21},
		{"lock timeout", NewError(KindLockTimeout, "slow"), 30},
		{"post verify", NewError(KindPostVerifyFailed, "gone"), 50},
		{"wrapped keeps code", fmt.Errorf("context: %w", NewError(KindSessionExists, "taken")), 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, ExitCode(tt.err))
		})
	}
}

func TestKindOfUnwrapsChains(t *testing.T) {
	inner := NewError(KindLockTimeout, "lock busy")
	wrapped := fmt.Errorf("deploy: %w", WrapError(KindRecordFailed, "commit", inner))

	// The outermost typed error wins.
	assert.Equal(t, KindRecordFailed, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindRecordFailed))
	assert.Equal(t, "", string(KindOf(errors.New("untyped"))))
}

func TestErrorFormatting(t *testing.T) {
	err := NewErrorf(KindSessionExists, "session %q already exists", "cond-backend").
		WithHint("pass --force")

	assert.Contains(t, err.Error(), "SessionExists")
	assert.Contains(t, err.Error(), "cond-backend")
	assert.Equal(t, "pass --force", HintOf(err))

	wrapped := WrapError(KindIOError, "write failed", errors.New("disk full"))
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.Equal(t, "disk full", errors.Unwrap(wrapped).Error())
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("backend"))
	assert.True(t, ValidKey("infra-ops_2"))
	assert.False(t, ValidKey("Backend"))
	assert.False(t, ValidKey("2fast"))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey("has space"))
}

func TestValidSessionName(t *testing.T) {
	assert.True(t, ValidSessionName("cond-backend"))
	assert.False(t, ValidSessionName("has space"))
	assert.False(t, ValidSessionName("has.dot"))
	assert.False(t, ValidSessionName(""))
}

func TestParsePriority(t *testing.T) {
	for name, want := range map[string]Priority{
		"high": PriorityHigh, "normal": PriorityNormal, "low": PriorityLow,
		"High": PriorityHigh, "": PriorityNormal,
	} {
		got, ok := ParsePriority(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got)
	}
	_, ok := ParsePriority("urgent")
	assert.False(t, ok)
}
