package results

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

func TestPostgresRecorderInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec, err := NewPostgresRecorderWithPool(mock, "results")
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()
	rec.now = func() time.Time { return now }

	path := "screenshots/example_com_index_1_abc.png"
	item := screenshot.WorkItem{
		URL:        "https://example.com/",
		Status:     screenshot.StatusCompleted,
		ResultPath: path,
		RetryCount: 1,
	}

	mock.ExpectExec("INSERT INTO results").
		WithArgs("job-1", item.URL, "completed", &path, (*string)(nil), 1, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, rec.Record(context.Background(), "job-1", item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorderWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec, err := NewPostgresRecorderWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO screenshot_results").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = rec.Record(context.Background(), "job-1", screenshot.WorkItem{
		URL:    "https://example.com/",
		Status: screenshot.StatusFailed,
		Error:  "timeout",
	})
	require.ErrorContains(t, err, "insert result row")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresRecorderWithPool(nil, "results")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewPostgresRecorderWithPool(mock, "results; DROP TABLE x")
	require.Error(t, err)

	_, err = NewPostgresRecorder(context.Background(), PostgresConfig{})
	require.Error(t, err)

	var nilRec *PostgresRecorder
	require.Error(t, nilRec.Record(context.Background(), "job", screenshot.WorkItem{}))
	nilRec.Close()
}
