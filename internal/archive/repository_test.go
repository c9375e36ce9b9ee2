package archive

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/config"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
)

var rowColumns = []string{
	"id", "occurred_at", "service", "error_name", "error_message", "error_code",
	"category", "severity", "strategy", "success", "attempts", "recovery_time_ms",
	"context", "classification", "strategy_detail", "recovery_result",
}

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock, *metrics.Metrics) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	m := metrics.NewMetrics(&metrics.Config{Namespace: "test", Enabled: true, Registry: prometheus.NewRegistry()})
	repo := NewRepository(Wrap(sqlx.NewDb(mockDB, "postgres")), nil, m)
	return repo, mock, m
}

func sampleRecord() recovery.ErrorRecord {
	return recovery.ErrorRecord{
		ID:        "3b7e1f0c-5a8d-4c1e-9f2a-0d6b8e4c7a11",
		Timestamp: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC),
		Error:     recovery.ErrorInfo{Message: "ECONNREFUSED 10.0.0.7:5432", Name: "NetworkError", Code: "ECONNREFUSED"},
		Context:   recovery.Context{"service": "payments", "operation": "charge"},
		Classification: recovery.Classification{
			Category:            recovery.CategoryNetwork,
			Severity:            recovery.SeverityMedium,
			Recoverable:         true,
			SuggestedStrategies: []string{"retry", "exponential_backoff"},
			Confidence:          0.8,
			Source:              recovery.SourceRules,
		},
		Strategy: recovery.Strategy{
			Name:       recovery.StrategyRetry,
			Parameters: recovery.DefaultParameters(),
			Source:     recovery.SourceRules,
		},
		RecoveryResult: recovery.RecoveryResult{
			Success:        true,
			Recovery:       recovery.StrategyRetry,
			RecoveryTimeMs: 1012,
			Attempts:       2,
		},
	}
}

func rowValues(t *testing.T, record recovery.ErrorRecord) []driver.Value {
	row, err := NewRow(record)
	require.NoError(t, err)
	return []driver.Value{
		row.ID, row.OccurredAt, row.Service, row.ErrorName, row.ErrorMessage, row.ErrorCode,
		row.Category, row.Severity, row.Strategy, row.Success, row.Attempts, row.RecoveryTimeMs,
		[]byte(row.Context), []byte(row.Classification), []byte(row.StrategyDetail), []byte(row.RecoveryResult),
	}
}

func TestNewRow_FlattensRecord(t *testing.T) {
	record := sampleRecord()

	row, err := NewRow(record)
	require.NoError(t, err)

	assert.Equal(t, "payments", row.Service)
	assert.Equal(t, "network", row.Category)
	assert.Equal(t, "medium", row.Severity)
	assert.Equal(t, "retry", row.Strategy)
	assert.True(t, row.Success)
	assert.Equal(t, 2, row.Attempts)
	assert.Equal(t, int64(1012), row.RecoveryTimeMs)
	assert.JSONEq(t, `{"service":"payments","operation":"charge"}`, row.Context.String())
	assert.Contains(t, row.StrategyDetail.String(), `"delay":1000`)

	back, err := row.Record()
	require.NoError(t, err)
	assert.Equal(t, record.ID, back.ID)
	assert.Equal(t, record.Error, back.Error)
	assert.Equal(t, record.Classification, back.Classification)
	assert.Equal(t, record.Strategy, back.Strategy)
	assert.Equal(t, record.RecoveryResult, back.RecoveryResult)
	assert.Equal(t, "payments", back.Context.Service())
}

func TestNewRow_MissingServiceIsUnknown(t *testing.T) {
	record := sampleRecord()
	record.Context = recovery.Context{}

	row, err := NewRow(record)
	require.NoError(t, err)
	assert.Equal(t, "unknown", row.Service)
}

func TestRepository_Save(t *testing.T) {
	repo, mock, m := newMockRepository(t)
	record := sampleRecord()

	args := make([]driver.Value, len(rowColumns))
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[0] = record.ID

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO error_records")).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Save(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiveWrites.WithLabelValues("success")))
}

func TestRepository_Save_Error(t *testing.T) {
	repo, mock, m := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO error_records")).
		WillReturnError(sql.ErrConnDone)

	err := repo.Save(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiveWrites.WithLabelValues("error")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List(t *testing.T) {
	repo, mock, _ := newMockRepository(t)
	record := sampleRecord()
	since := record.Timestamp.Add(-time.Hour)

	rows := sqlmock.NewRows(rowColumns).AddRow(rowValues(t, record)...)
	mock.ExpectQuery(regexp.QuoteMeta("FROM error_records WHERE category = $1 AND service = $2 AND occurred_at >= $3 ORDER BY occurred_at DESC LIMIT $4")).
		WithArgs("network", "payments", since, 25).
		WillReturnRows(rows)

	records, err := repo.List(context.Background(), ListFilter{
		Category: "network",
		Service:  "payments",
		Since:    since,
		Limit:    25,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)
	assert.Equal(t, record.Classification.Category, records[0].Classification.Category)
	assert.Equal(t, record.Strategy.Parameters, records[0].Strategy.Parameters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List_DefaultAndMaxLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"unset", 0, defaultListLimit},
		{"negative", -3, defaultListLimit},
		{"capped", 5000, maxListLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, _ := newMockRepository(t)

			mock.ExpectQuery(regexp.QuoteMeta("FROM error_records ORDER BY occurred_at DESC LIMIT $1")).
				WithArgs(tt.want).
				WillReturnRows(sqlmock.NewRows(rowColumns))

			records, err := repo.List(context.Background(), ListFilter{Limit: tt.limit})
			require.NoError(t, err)
			assert.Empty(t, records)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_List_SkipsUndecodableRows(t *testing.T) {
	repo, mock, _ := newMockRepository(t)
	good := sampleRecord()

	bad := rowValues(t, good)
	bad[0] = "bad-row"
	bad[12] = []byte(`["not","an","object"]`)

	rows := sqlmock.NewRows(rowColumns).
		AddRow(bad...).
		AddRow(rowValues(t, good)...)
	mock.ExpectQuery(regexp.QuoteMeta("FROM error_records")).WillReturnRows(rows)

	records, err := repo.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, good.ID, records[0].ID)
}

func TestRepository_List_Error(t *testing.T) {
	repo, mock, _ := newMockRepository(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM error_records")).WillReturnError(sql.ErrConnDone)

	_, err := repo.List(context.Background(), ListFilter{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestRepository_CategoryCounts(t *testing.T) {
	repo, mock, _ := newMockRepository(t)
	since := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT category, COUNT(*) AS count")).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"category", "count"}).
			AddRow("network", 7).
			AddRow("rateLimit", 2))

	counts, err := repo.CategoryCounts(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []CategoryCount{
		{Category: "network", Count: 7},
		{Category: "rateLimit", Count: 2},
	}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteBefore(t *testing.T) {
	repo, mock, _ := newMockRepository(t)
	cutoff := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM error_records WHERE occurred_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := repo.DeleteBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_Prune(t *testing.T) {
	repo, mock, _ := newMockRepository(t)
	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	sink := NewSink(repo, 24*time.Hour)
	sink.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM error_records")).
		WithArgs(now.Add(-24 * time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := sink.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_PruneDisabled(t *testing.T) {
	repo, mock, _ := newMockRepository(t)

	deleted, err := NewSink(repo, 0).Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}

	db, err := New(&config.DatabaseConfig{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            5432,
		Name:            getEnvOrDefault("DB_NAME", "recovery_test"),
		User:            getEnvOrDefault("DB_USER", "postgres"),
		Password:        getEnvOrDefault("DB_PASSWORD", "postgres"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	defer db.Close()

	migrator, err := NewMigrator(db.DB.DB)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	repo := NewRepository(db, nil, nil)
	record := sampleRecord()
	require.NoError(t, repo.Save(context.Background(), record))
	require.NoError(t, repo.Save(context.Background(), record))

	records, err := repo.List(context.Background(), ListFilter{Service: "payments"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)

	require.NoError(t, migrator.Down())
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
