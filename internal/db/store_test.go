package db

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/tracerama/internal/errors"
	"github.com/anstrom/tracerama/internal/scanning"
)

var resultColumns = []string{
	"id", "target", "port", "protocol", "resolved_address", "target_reached", "trace_probe",
	"started_at", "duration_ms", "exit_success", "exit_code", "diagnostic", "failure", "hosts_up", "elapsed_ms",
}

var hopColumns = []string{"result_id", "hop_number", "address", "hostname", "rtt_ms", "status"}

func newMockStore(t *testing.T) (*ResultStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	return NewResultStore(&DB{DB: sqlx.NewDb(mockDB, "postgres")}), mock
}

var started = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func storedResult() *scanning.ScanResult {
	return &scanning.ScanResult{
		ID:       "scan-1",
		Target:   "10.0.0.9",
		Port:     443,
		Protocol: scanning.ProtocolTCP,
		Hops: []scanning.Hop{
			{Number: 1, Address: "10.0.0.1", RTT: scanning.SomeRTT(1.5), Status: scanning.HopSuccess},
			{Number: 2, Status: scanning.HopTimeout},
		},
		TargetReached: false,
		StartedAt:     started,
		Duration:      1500 * time.Millisecond,
		Exit:          scanning.ExitStatus{Success: true},
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, "host=localhost port=5432 dbname= user= password= sslmode=disable", cfg.DSN())
}

func TestResultStore_Save(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO trace_results").
		WithArgs("scan-1", "10.0.0.9", 443, "tcp", "", false, "", sqlmock.AnyArg(), int64(1500),
			true, 0, "", "", 0, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO trace_hops").
		WithArgs("scan-1", 1, "10.0.0.1", "", 1.5, "success").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO trace_hops").
		WithArgs("scan-1", 2, "", "", nil, "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Save(context.Background(), storedResult()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultStore_SaveRollsBackOnHopError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO trace_results").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO trace_hops").WillReturnError(&pq.Error{Code: "23514", Message: "check violation"})
	mock.ExpectRollback()

	err := store.Save(context.Background(), storedResult())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.NotContains(t, err.Error(), "INSERT")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM trace_results WHERE id = \$1`).
		WithArgs("scan-1").
		WillReturnRows(sqlmock.NewRows(resultColumns).
			AddRow("scan-1", "10.0.0.9", 443, "tcp", "", false, "", started, 1500, true, 0, "", "", 1, 900))
	mock.ExpectQuery("FROM trace_hops").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(hopColumns).
			AddRow("scan-1", 1, "10.0.0.1", "", 1.5, "success").
			AddRow("scan-1", 2, "", "", nil, "timeout"))

	got, err := store.Get(context.Background(), "scan-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	want := storedResult()
	want.Summary = scanning.Summary{HostsUp: 1, Elapsed: 900 * time.Millisecond}
	assert.Equal(t, want, got)
}

func TestResultStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM trace_results").WithArgs("missing").WillReturnRows(sqlmock.NewRows(resultColumns))

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var dbErr *errors.DatabaseError
	require.True(t, stderrors.As(err, &dbErr))
	assert.Equal(t, "get result", dbErr.Operation)
}

func TestResultStore_ListByKey(t *testing.T) {
	store, mock := newMockStore(t)
	key := scanning.Key{Target: "10.0.0.9", Port: 80, Protocol: scanning.ProtocolUDP}

	mock.ExpectQuery("WHERE target = \\$1 AND port = \\$2 AND protocol = \\$3").
		WithArgs("10.0.0.9", 80, "udp", DefaultListLimit).
		WillReturnRows(sqlmock.NewRows(resultColumns).
			AddRow("b", "10.0.0.9", 80, "udp", "", true, "", started.Add(time.Minute), 10, true, 0, "", "", 1, 0).
			AddRow("a", "10.0.0.9", 80, "udp", "", false, "", started, 10, false, -1, "timed out", "TIMEOUT", 0, 0))
	mock.ExpectQuery("FROM trace_hops").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(hopColumns).
			AddRow("b", 1, "10.0.0.9", "", 0.7, "success"))

	got, err := store.ListByKey(context.Background(), key, 0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Len(t, got[0].Hops, 1)
	assert.Equal(t, "a", got[1].ID)
	assert.Empty(t, got[1].Hops)
	assert.NotNil(t, got[1].Hops)
	assert.Equal(t, errors.CodeTimeout, got[1].Failure)
	assert.True(t, got[1].Failed())
}

func TestResultStore_RecentEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("ORDER BY started_at DESC LIMIT \\$1").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(resultColumns))

	got, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultStore_Prune(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM trace_results WHERE started_at < \\$1").
		WithArgs(started).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Prune(context.Background(), started)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors.ErrorCode
	}{
		{"connection", &pq.Error{Code: "08006"}, errors.CodeDatabaseConnection},
		{"canceled", &pq.Error{Code: "57014"}, errors.CodeCanceled},
		{"unique", &pq.Error{Code: "23505"}, errors.CodeDatabaseQuery},
		{"other", stderrors.New("password=secret"), errors.CodeDatabaseQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sanitizeDBError("op", tt.err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.NotContains(t, err.Error(), "secret")
		})
	}
	assert.NoError(t, sanitizeDBError("op", nil))
}
