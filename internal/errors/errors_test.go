package errors_test

import (
	"fmt"
	"testing"

	qerrors "github.com/TheQwirl/qwirl-session/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, qerrors.Wrapf(nil, "refreshing %s", "session"))
	})

	t.Run("keeps the chain", func(t *testing.T) {
		err := qerrors.Wrapf(qerrors.ErrRefreshTerminal, "refreshing %s", "session")
		require.EqualError(t, err, "refreshing session: refresh rejected")
		require.True(t, qerrors.Is(err, qerrors.ErrRefreshTerminal))
		require.False(t, qerrors.Is(err, qerrors.ErrTransport))
	})
}

type statusErr struct{ code int }

func (e *statusErr) Error() string { return fmt.Sprintf("status %d", e.code) }

func TestAs(t *testing.T) {
	err := fmt.Errorf("calling backend: %w", &statusErr{code: 403})

	var se *statusErr
	require.True(t, qerrors.As(err, &se))
	require.Equal(t, 403, se.code)
}
