package article

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "validation", err: Validation(MsgMissingURL), want: KindValidation},
		{name: "auth", err: Unauthorized(), want: KindAuth},
		{name: "wrapped fetch", err: fmt.Errorf("retrieve: %w", FetchStatus(404)), want: KindFetch},
		{name: "extraction", err: ExtractionFailed(), want: KindExtraction},
		{name: "store", err: StoreFailed(errors.New("dial tcp")), want: KindStore},
		{name: "untyped", err: errors.New("boom"), want: KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestPublicMessage(t *testing.T) {
	t.Parallel()

	storeErr := StoreFailed(errors.New("dial tcp 10.0.0.1:6379: connection refused"))
	require.Equal(t, "Cache unavailable: dial tcp 10.0.0.1:6379: connection refused", PublicMessage(storeErr, false))
	require.Equal(t, MsgServiceUnavailable, PublicMessage(storeErr, true))

	status := FetchStatus(404)
	require.Equal(t, "Failed to fetch URL: upstream returned status 404", PublicMessage(status, false))
	require.Equal(t, "Failed to fetch URL: upstream returned status 404", PublicMessage(status, true))
	require.Equal(t, 404, status.StatusCode)

	transport := FetchFailed(errors.New("no such host"))
	require.Equal(t, "Failed to fetch URL: no such host", PublicMessage(transport, false))
	require.Equal(t, MsgFetchFailed, PublicMessage(transport, true))

	require.Equal(t, MsgInvalidSecret, PublicMessage(Unauthorized(), true))
	require.Equal(t, MsgInternal, PublicMessage(errors.New("secret internals"), false))
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := FetchFailed(cause)
	require.ErrorIs(t, err, cause)
}
