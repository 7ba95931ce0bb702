package core

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NewError(KindTimeout, "read reply", errors.New("no reply within 30s"))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrEOF)
	assert.NotErrorIs(t, err, ErrProtocolViolation)
}

func TestError_IsThroughWrapping(t *testing.T) {
	inner := NewError(KindEOF, "read reply", io.EOF)
	wrapped := fmt.Errorf("query brave-search: %w", inner)

	assert.ErrorIs(t, wrapped, ErrEOF)
	assert.ErrorIs(t, wrapped, io.EOF)
	assert.Equal(t, KindEOF, KindOf(wrapped))
}

func TestError_Message(t *testing.T) {
	err := NewError(KindClone, "git clone", errors.New("exit status 128")).
		WithOutput("fatal: repository not found\n")

	assert.Equal(t, "clone: git clone: exit status 128, output: fatal: repository not found", err.Error())
}

func TestError_MessageWithoutCause(t *testing.T) {
	err := NewError(KindProtocolViolation, "empty reply line", nil)
	assert.Equal(t, "protocol_violation: empty reply line", err.Error())
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsQueryFailure(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindIO, true},
		{KindProtocolViolation, true},
		{KindEOF, true},
		{KindTimeout, true},
		{KindSpawn, false},
		{KindClone, false},
		{KindBuild, false},
		{KindConfigNotFound, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, IsQueryFailure(NewError(tt.kind, "op", nil)))
		})
	}
}

func TestError_As(t *testing.T) {
	err := fmt.Errorf("startup: %w", NewError(KindBuild, "make", errors.New("exit status 2")).WithOutput("make: *** no rule"))

	var bridgeErr *Error
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, KindBuild, bridgeErr.Kind)
	assert.Equal(t, "make: *** no rule", bridgeErr.Output)
}
