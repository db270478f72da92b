package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/iurnickita/freightrate/internal/model"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newPostgres(db), mock
}

func TestPostgresRequestTransition(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	// processing -> ready: допустимые источники processing и ready
	mock.ExpectExec(regexp.QuoteMeta("UPDATE shipment_request SET status = $1, error = $2, updated_at = $3 WHERE number = $4   AND status IN ($5, $6)")).
		WithArgs("ready", "", sqlmock.AnyArg(), "100001", "processing", "ready").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.RequestTransition(ctx, "100001", model.RequestStatusReady, ""))

	// статус не подошел
	mock.ExpectExec("UPDATE shipment_request").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM shipment_request WHERE number = $1")).
		WithArgs("100001").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("expired"))
	err := s.RequestTransition(ctx, "100001", model.RequestStatusReady, "")
	require.ErrorIs(t, err, ErrTransition)

	// запроса нет
	mock.ExpectExec("UPDATE shipment_request").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM shipment_request").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	err = s.RequestTransition(ctx, "100002", model.RequestStatusProcessing, "")
	require.ErrorIs(t, err, ErrNoRows)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRequestGet(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	updated := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT number, status, error, data, updated_at FROM shipment_request").
		WithArgs("100001").
		WillReturnRows(sqlmock.NewRows([]string{"number", "status", "error", "data", "updated_at"}).
			AddRow("100001", "expired", "config missing", []byte(`{"Mode":"air","Status":"requested"}`), updated))

	req, err := s.RequestGet(ctx, "100001")
	require.NoError(t, err)
	require.Equal(t, model.ModeAir, req.Data.Mode)
	// колонка статуса главнее json
	require.Equal(t, model.RequestStatusExpired, req.Data.Status)
	require.Equal(t, "config missing", req.Data.Error)
	require.True(t, req.Data.UpdatedAt.Equal(updated))

	mock.ExpectQuery("SELECT number, status, error, data, updated_at FROM shipment_request").
		WillReturnRows(sqlmock.NewRows([]string{"number", "status", "error", "data", "updated_at"}))
	_, err = s.RequestGet(ctx, "100009")
	require.ErrorIs(t, err, ErrNoRows)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCarrierTokenConsume(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE carrier_token SET submitted = TRUE, submitted_at = $1 WHERE value = $2   AND submitted = FALSE   AND expires_at > $1")).
		WithArgs(at, "tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.CarrierTokenConsume(ctx, "tok", at))

	// повторная отправка
	mock.ExpectExec("UPDATE carrier_token").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT value, request_number, expires_at, submitted, submitted_at, data FROM carrier_token").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"value", "request_number", "expires_at", "submitted", "submitted_at", "data"}).
			AddRow("tok", "100001", at.Add(time.Hour), true, at, []byte(`{"ID":"c1"}`)))
	require.ErrorIs(t, s.CarrierTokenConsume(ctx, "tok", at), ErrAlreadySubmitted)

	// неизвестная ссылка
	mock.ExpectExec("UPDATE carrier_token").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT value, request_number, expires_at, submitted, submitted_at, data FROM carrier_token").
		WillReturnRows(sqlmock.NewRows([]string{"value", "request_number", "expires_at", "submitted", "submitted_at", "data"}))
	require.ErrorIs(t, s.CarrierTokenConsume(ctx, "nope", at), ErrNoRows)

	// срок вышел между проверкой и записью
	mock.ExpectExec("UPDATE carrier_token").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT value, request_number, expires_at, submitted, submitted_at, data FROM carrier_token").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"value", "request_number", "expires_at", "submitted", "submitted_at", "data"}).
			AddRow("tok", "100001", at, false, nil, []byte(`{"ID":"c1"}`)))
	require.ErrorIs(t, s.CarrierTokenConsume(ctx, "tok", at), ErrTokenExpired)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCarrierTokenRelease(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE carrier_token SET submitted = FALSE, submitted_at = NULL WHERE value = $1")).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.CarrierTokenRelease(ctx, "tok"))

	mock.ExpectExec("UPDATE carrier_token").
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.CarrierTokenRelease(ctx, "nope"), ErrNoRows)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCarrierTokenBatches(t *testing.T) {
	s, mock := newMockStore(t)
	deadline := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT t.request_number, MAX\\(t.expires_at\\)").
		WithArgs("processing").
		WillReturnRows(sqlmock.NewRows([]string{"request_number", "max"}).AddRow("100001", deadline))

	batches, err := s.CarrierTokenBatches(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.TokenBatch{{RequestNumber: "100001", Deadline: deadline}}, batches)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQuotePutRanking(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE quote SET cheapest").
		WithArgs(true, false, true, "a", "100001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE quote SET cheapest").
		WithArgs(false, true, false, "b", "100001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.QuotePutRanking(context.Background(), "100001", []model.PricedQuote{
		{Quote: model.ProviderQuote{ID: "a"}, Flags: model.RankFlags{Cheapest: true, Recommended: true}},
		{Quote: model.ProviderQuote{ID: "b"}, Flags: model.RankFlags{Fastest: true}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
