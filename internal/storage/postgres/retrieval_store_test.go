package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-gateway/internal/article"
)

func strPtr(s string) *string { return &s }

func TestStoreRetrievalInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRetrievalStoreWithPool(mock, "retrievals")
	require.NoError(t, err)

	now := time.Date(2024, 3, 9, 14, 25, 7, 0, time.UTC)
	rec := article.RetrievalRecord{
		ID:           "0190f0b4-0000-7000-8000-000000000001",
		CacheKey:     "abc123",
		URL:          "https://example.com/post",
		Outcome:      article.OutcomeStored,
		StatusCode:   200,
		UsedHeadless: true,
		ContentHash:  "deadbeef",
		ArchiveURI:   "gs://bucket/pages/ab/abc123/1.html.zst",
		DurationMs:   142,
		RetrievedAt:  now,
	}

	mock.ExpectExec("INSERT INTO retrievals").
		WithArgs(
			rec.ID,
			rec.CacheKey,
			rec.URL,
			"stored",
			200,
			true,
			strPtr("deadbeef"),
			strPtr(rec.ArchiveURI),
			int64(142),
			(*string)(nil),
			now,
			time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StoreRetrieval(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRetrievalRecordsFailures(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRetrievalStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Date(2024, 3, 9, 14, 25, 7, 0, time.UTC)
	rec := article.RetrievalRecord{
		ID:          "id-2",
		CacheKey:    "k",
		URL:         "https://example.com/missing",
		Outcome:     article.OutcomeFetchFailed,
		StatusCode:  404,
		ErrorText:   "upstream returned status 404",
		RetrievedAt: now,
	}

	mock.ExpectExec("INSERT INTO retrievals").
		WithArgs(
			"id-2", "k", rec.URL, "fetch_failed", 404, false,
			(*string)(nil), (*string)(nil), int64(0), strPtr(rec.ErrorText),
			now, time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC),
		).
		WillReturnError(errors.New("connection reset"))

	err = store.StoreRetrieval(context.Background(), rec)
	require.ErrorContains(t, err, "insert retrieval")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRetrievalValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRetrievalStoreWithPool(mock, "retrievals")
	require.NoError(t, err)
	require.ErrorContains(t, store.StoreRetrieval(context.Background(), article.RetrievalRecord{}), "record id is required")

	var nilStore *RetrievalStore
	require.Error(t, nilStore.StoreRetrieval(context.Background(), article.RetrievalRecord{ID: "x"}))
	nilStore.Close()
}

func TestNewRetrievalStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRetrievalStoreWithPool(nil, "retrievals")
	require.ErrorContains(t, err, "pool is required")

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRetrievalStoreWithPool(mock, "bad-name;drop")
	require.ErrorContains(t, err, "invalid table name")
}

func TestNewRetrievalStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewRetrievalStore(context.Background(), RetrievalStoreConfig{})
	require.ErrorContains(t, err, "database.dsn is required")

	_, err = NewRetrievalStore(context.Background(), RetrievalStoreConfig{DSN: "postgres://u@h/db", Table: "1bad"})
	require.ErrorContains(t, err, "invalid table name")
}
