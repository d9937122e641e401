package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-gateway/internal/article"
)

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, loc)
	require.Equal(t, "2024-01-02T08:04:05.006Z", FormatTimestamp(ts))
	require.Equal(t, "2024-01-02T08:04:05.000Z", FormatTimestamp(ts.Truncate(time.Second)))
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{article.Validation(article.MsgMissingURL), http.StatusBadRequest},
		{article.Unauthorized(), http.StatusUnauthorized},
		{article.MethodNotAllowed(), http.StatusMethodNotAllowed},
		{article.FetchStatus(404), http.StatusInternalServerError},
		{article.ExtractionFailed(), http.StatusInternalServerError},
		{article.StoreFailed(errors.New("down")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, StatusCode(tc.err), tc.err.Error())
	}
}

func TestEnvelopeShapes(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	success := NewSuccess(article.Result{
		Article: article.Record{article.FieldTitle: "T"},
		Cached:  true,
	}, 1234*time.Microsecond, now)

	raw, err := json.Marshal(success)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":0,"article":{"title":"T"},"cached":true,"processingTime":"1ms","timestamp":"2024-01-02T03:04:05.000Z"}`, string(raw))

	failure := NewError(article.StoreFailed(errors.New("dial tcp 10.0.0.1:6379")), true, now)
	raw, err = json.Marshal(failure)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":-1,"error":"Service temporarily unavailable","timestamp":"2024-01-02T03:04:05.000Z"}`, string(raw))

	dev := NewError(article.StoreFailed(errors.New("dial tcp 10.0.0.1:6379")), false, now)
	require.Equal(t, "Cache unavailable: dial tcp 10.0.0.1:6379", dev.Error)
}
