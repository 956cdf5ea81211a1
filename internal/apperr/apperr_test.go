package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientMessageHidesInternalDetails(t *testing.T) {
	err := Internal("could not save", errors.New("connection refused"))
	require.Equal(t, "internal", ClientMessage(err))
}

func TestClientMessageSurfacesSafeMessage(t *testing.T) {
	err := Validation("age must be between 18 and 100")
	require.Equal(t, "age must be between 18 and 100", ClientMessage(err))
}

func TestClientMessageOnPlainErrorIsInternal(t *testing.T) {
	require.Equal(t, "internal", ClientMessage(errors.New("boom")))
}

func TestIsMatchesKind(t *testing.T) {
	err := Precondition("already rated")
	require.True(t, Is(err, KindPrecondition))
	require.False(t, Is(err, KindValidation))
}

func TestIsFalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("boom"), KindInternal))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("pq: duplicate key")
	err := TransientStore("store unavailable", cause)
	require.ErrorIs(t, err, cause)
}

func TestErrorStringIncludesWrapped(t *testing.T) {
	cause := errors.New("timeout")
	err := Internal("db write failed", cause)
	require.Contains(t, err.Error(), "timeout")
	require.Contains(t, err.Error(), "db write failed")
}

func TestErrorStringWithoutWrapped(t *testing.T) {
	err := Validation("bad input")
	require.Equal(t, "bad input", err.Error())
}
