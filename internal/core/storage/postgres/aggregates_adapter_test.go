package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/keyline-lab/keyline/internal/core/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var upsertPattern = regexp.QuoteMeta(`
		INSERT INTO window_aggregates (
			stream, window_id, kind, key, value, partitions, profile_fingerprint, written_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stream, window_id, kind, key)
		DO UPDATE SET
			value               = EXCLUDED.value,
			partitions          = EXCLUDED.partitions,
			profile_fingerprint = EXCLUDED.profile_fingerprint,
			written_at          = EXCLUDED.written_at
	`)

func testRow(key string, value int64) storage.AggregateRow {
	return storage.AggregateRow{
		Stream:             "api_usage",
		WindowID:           42,
		Kind:               "sum_double",
		Key:                key,
		Value:              decimal.NewFromInt(value),
		Partitions:         4,
		ProfileFingerprint: "fp-1",
	}
}

func TestAggregatesAdapter_WriteWindowSingleTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregatesAdapter(db, 100)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(upsertPattern)
	for _, key := range []string{"a", "b"} {
		prep.ExpectExec().WithArgs(
			"api_usage", int64(42), "sum_double", key,
			sqlmock.AnyArg(), 4, "fp-1", sqlmock.AnyArg(),
		).WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	err = adapter.WriteWindow(context.Background(), []storage.AggregateRow{testRow("a", 7), testRow("b", 5)})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregatesAdapter_WriteWindowChunksByBatchSize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregatesAdapter(db, 2)

	// 3 rows with batch size 2: two transactions.
	for _, chunk := range [][]string{{"a", "b"}, {"c"}} {
		mock.ExpectBegin()
		prep := mock.ExpectPrepare(upsertPattern)
		for range chunk {
			prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
		}
		mock.ExpectCommit()
	}

	rows := []storage.AggregateRow{testRow("a", 1), testRow("b", 2), testRow("c", 3)}
	require.NoError(t, adapter.WriteWindow(context.Background(), rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregatesAdapter_WriteWindowEmptyIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregatesAdapter(db, 0)
	require.NoError(t, adapter.WriteWindow(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregatesAdapter_WriteWindowRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregatesAdapter(db, 100)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(upsertPattern)
	prep.ExpectExec().WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err = adapter.WriteWindow(context.Background(), []storage.AggregateRow{testRow("a", 1)})
	require.ErrorContains(t, err, "upsert")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregatesAdapter_QueryWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregatesAdapter(db, 0)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT stream, window_id, kind, key, value, partitions, profile_fingerprint
		FROM window_aggregates
		WHERE stream = $1 AND window_id = $2 AND kind = $3
		ORDER BY key ASC
	`)).WithArgs("api_usage", int64(42), "count").WillReturnRows(
		sqlmock.NewRows([]string{"stream", "window_id", "kind", "key", "value", "partitions", "profile_fingerprint"}).
			AddRow("api_usage", int64(42), "count", "a", "3", 4, "fp-1").
			AddRow("api_usage", int64(42), "count", "b", "2", 4, "fp-1"),
	)

	rows, err := adapter.QueryWindow(context.Background(), "api_usage", 42, "count")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a", rows[0].Key)
	require.True(t, decimal.NewFromInt(3).Equal(rows[0].Value))
	require.Equal(t, uint64(42), rows[0].WindowID)

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"stream", "window_id", "kind", "key", "value", "partitions", "profile_fingerprint"}))
	empty, err := adapter.QueryWindow(context.Background(), "api_usage", 43, "count")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestAggregatesAdapter_QueryWindowRejectsBadDecimal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewAggregatesAdapter(db, 0)
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"stream", "window_id", "kind", "key", "value", "partitions", "profile_fingerprint"}).
			AddRow("api_usage", int64(42), "count", "a", "not-a-number", 4, "fp-1"),
	)

	_, err = adapter.QueryWindow(context.Background(), "api_usage", 42, "count")
	require.ErrorContains(t, err, "parse value")
}
