package apperror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfReturnsInternalForPlainError(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestKindOfReturnsCarriedKind(t *testing.T) {
	err := New(Unauthorized, "bad api key")
	require.Equal(t, Unauthorized, KindOf(err))
}

func TestIsMatchesAcrossWrap(t *testing.T) {
	cause := errors.New("upstream 503")
	err := Wrap(ProviderTransient, "real-debrid", cause)

	require.True(t, Is(err, ProviderTransient))
	require.False(t, Is(err, Timeout))
	require.ErrorIs(t, err, cause)
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(NoFileInTorrent, "no matching episode", errors.New("index empty"))
	require.Contains(t, err.Error(), "no matching episode")
	require.Contains(t, err.Error(), "index empty")
}
