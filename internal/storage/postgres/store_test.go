package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-insignia/internal/insights"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS search_sessions")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	session := insights.Session{
		ID:        "s1",
		Query:     "earbuds",
		Platforms: []insights.Platform{insights.PlatformShopee, insights.PlatformTokopedia},
		JobState:  insights.JobQueued,
		CreatedAt: created,
	}

	mock.ExpectExec("INSERT INTO search_sessions").
		WithArgs("s1", "earbuds", []string{"shopee", "tokopedia"}, "queued", "", created, created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO search_sessions").
		WithArgs("s1", "earbuds", []string{"shopee", "tokopedia"}, "queued", "", created, created).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.CreateSession(context.Background(), session))
	err := store.CreateSession(context.Background(), session)
	require.ErrorIs(t, err, insights.ErrSessionExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT id, query, platforms").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "query", "platforms", "job_state", "error_text", "created_at", "updated_at",
		}).AddRow("s1", "earbuds", []string{"tiktok_shop"}, "failed", "boom", now, now))
	mock.ExpectQuery("SELECT id, query, platforms").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	session, err := store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, []insights.Platform{insights.PlatformTikTokShop}, session.Platforms)
	require.Equal(t, insights.JobFailed, session.JobState)
	require.Equal(t, "boom", session.ErrorText)

	_, err = store.GetSession(context.Background(), "missing")
	require.ErrorIs(t, err, insights.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSessionStateUnknown(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE search_sessions").
		WithArgs("running", "", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateSessionState(context.Background(), "missing", insights.JobRunning, "")
	require.ErrorIs(t, err, insights.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertProductsAssignsIDs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rating := 4.5
	products := []insights.Product{
		{Name: "A", Platform: insights.PlatformShopee, URL: "https://shopee.co.id/a", AverageRating: &rating, TotalReviews: 10, SessionID: "s1"},
		{Name: "B", Platform: insights.PlatformShopee, URL: "https://shopee.co.id/b", TotalReviews: 0, SessionID: "s1"},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM search_sessions").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO products").
		WithArgs("A", "shopee", "https://shopee.co.id/a", &rating, 10, pgxmock.AnyArg(), "s1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery("INSERT INTO products").
		WithArgs("B", "shopee", "https://shopee.co.id/b", (*float64)(nil), 0, pgxmock.AnyArg(), "s1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectCommit()

	out, err := store.InsertProducts(context.Background(), products)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, int64(7), out[0].ID)
	require.Equal(t, int64(8), out[1].ID)
	require.False(t, out[0].ScrapedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReviewsRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT s.id FROM products p JOIN search_sessions s").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery("INSERT INTO reviews").
		WillReturnError(errors.New("check violation"))
	mock.ExpectRollback()

	_, err := store.InsertReviews(context.Background(), []insights.Review{{ProductID: 7, Text: "x", Rating: 3}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReviewsUnknownProduct(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT s.id FROM products p JOIN search_sessions s").
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.InsertReviews(context.Background(), []insights.Review{{ProductID: 99, Text: "x", Rating: 3}})
	require.ErrorIs(t, err, insights.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRequiresSession(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT 1 FROM search_sessions").
			WithArgs("gone").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()
	}

	ctx := context.Background()
	_, err := store.InsertProducts(ctx, []insights.Product{
		{Name: "late", Platform: insights.PlatformShopee, URL: "https://shopee.co.id/late", SessionID: "gone"},
	})
	require.ErrorIs(t, err, insights.ErrNotFound)
	_, err = store.InsertKeywords(ctx, []insights.Keyword{{SessionID: "gone", Keyword: "late", Frequency: 1}})
	require.ErrorIs(t, err, insights.ErrNotFound)
	_, err = store.InsertRecommendations(ctx, []insights.Recommendation{
		{SessionID: "gone", Title: "t", Priority: insights.PriorityLow},
	})
	require.ErrorIs(t, err, insights.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListReviewsHandlesNullSentiment(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	positive := "positive"
	mock.ExpectQuery(regexp.QuoteMeta("FROM reviews r JOIN products p")).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "product_id", "text", "rating", "timestamp", "sentiment", "created_at",
		}).
			AddRow(int64(1), int64(7), "great", 5, &now, &positive, now).
			AddRow(int64(2), int64(7), "meh", 3, nil, nil, now))

	reviews, err := store.ListReviews(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	require.Equal(t, insights.SentimentPositive, *reviews[0].Sentiment)
	require.Nil(t, reviews[1].Sentiment)
	require.Nil(t, reviews[1].Timestamp)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"products", "reviews", "keywords", "recommendations"}).
			AddRow(3, 9, 0, 0))

	counts, err := store.CountRows(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, insights.RowCounts{Products: 3, Reviews: 9}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSessionOrdersStatements(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("SELECT id FROM search_sessions .* FOR UPDATE").WithArgs("s1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("DELETE FROM reviews").WithArgs("s1").WillReturnResult(pgxmock.NewResult("DELETE", 9))
	mock.ExpectExec("DELETE FROM products").WithArgs("s1").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("DELETE FROM keywords").WithArgs("s1").WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec("DELETE FROM recommendations").WithArgs("s1").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM search_sessions").WithArgs("s1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteSession(context.Background(), "s1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessionsByState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("WHERE job_state = ANY").
		WithArgs([]string{"queued", "running"}).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "query", "platforms", "job_state", "error_text", "created_at", "updated_at",
		}).
			AddRow("s1", "earbuds", []string{"shopee"}, "queued", "", now, now).
			AddRow("s2", "kettle", []string{"tokopedia"}, "running", "", now, now))

	sessions, err := store.ListSessionsByState(context.Background(), insights.JobQueued, insights.JobRunning)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, insights.JobRunning, sessions[1].JobState)
	require.Equal(t, []insights.Platform{insights.PlatformTokopedia}, sessions[1].Platforms)
	require.NoError(t, mock.ExpectationsWereMet())
}
