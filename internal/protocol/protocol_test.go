package protocol_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/protocol"
)

func TestFromErrorClassifiesCoordError(t *testing.T) {
	env := protocol.FromError(protocol.NewError(protocol.ErrFileNotFound, "missing"))
	require.Equal(t, protocol.StatusError, env.Status)
	require.Equal(t, protocol.ErrFileNotFound, env.ErrorCode)
}

func TestFromErrorClassifiesUnknownAsServerError(t *testing.T) {
	env := protocol.FromError(errors.New("boom"))
	require.Equal(t, protocol.ErrServerError, env.ErrorCode)
}

func TestOKSetsStatus(t *testing.T) {
	env := protocol.OK(map[string]string{"a": "b"})
	require.Equal(t, protocol.StatusOK, env.Status)
	require.NotZero(t, env.Timestamp)
}

func TestContentionIsNotAnError(t *testing.T) {
	env := protocol.Contention(protocol.ContentionPayload{ExpectedHash: "h0", CurrentHash: "h1"})
	require.Equal(t, protocol.StatusContention, env.Status)
	require.Empty(t, env.ErrorCode)
}
