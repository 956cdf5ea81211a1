package store

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/balzhinimaev/anomchat/internal/apperr"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestCreateSearchCancelsPriorThenInserts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE searches SET status = 'cancelled'").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO searches").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec := &SearchRecord{
		UserID:        "user-1",
		Gender:        "male",
		DesiredGender: []string{"female"},
	}
	err := s.CreateSearch(rec)
	require.NoError(t, err)
	require.Equal(t, SearchStatusSearching, rec.Status)
	require.NotEmpty(t, rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSearchRollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE searches SET status = 'cancelled'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO searches").
		WillReturnError(assertError("insert failed"))
	mock.ExpectRollback()

	err := s.CreateSearch(&SearchRecord{UserID: "user-1"})
	require.True(t, apperr.Is(err, apperr.KindTransientStore))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveSearchReturnsNilWhenNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM searches WHERE user_id = \\$1 AND status = 'searching'").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(searchColumnNames()))

	rec, err := s.GetActiveSearch("user-1")
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveSearchScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows(searchColumnNames()).AddRow(
		"search-1", "user-1", int64(1), "searching", "male", 25, 4.0,
		"{female}", 18, 40, -1.0, false,
		nil, nil, nil,
		nil, nil, nil,
		now, now,
	)
	mock.ExpectQuery("SELECT .* FROM searches WHERE user_id = \\$1 AND status = 'searching'").
		WithArgs("user-1").
		WillReturnRows(rows)

	rec, err := s.GetActiveSearch("user-1")
	require.NoError(t, err)
	require.Equal(t, "search-1", rec.ID)
	require.Equal(t, []string{"female"}, []string(rec.DesiredGender))
}

func TestCancelSearchNoOpWhenNoActiveSearch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM searches WHERE user_id = \\$1 AND status = 'searching'").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(searchColumnNames()))

	rec, err := s.CancelSearch("user-1")
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func searchColumnNames() []string {
	return []string{
		"id", "user_id", "telegram_id", "status", "gender", "age", "rating", "desired_gender",
		"desired_age_min", "desired_age_max", "min_acceptable_rating", "use_geolocation",
		"longitude", "latitude", "max_distance_km", "matched_user_id", "matched_telegram_id",
		"matched_chat_id", "created_at", "updated_at",
	}
}

type assertError string

func (e assertError) Error() string { return string(e) }
