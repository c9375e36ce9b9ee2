package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/recovery"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/errors"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/metrics"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/tracing"
)

const (
	tableErrorRecords = "error_records"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// Row is the persisted form of an error record
type Row struct {
	ID             string         `db:"id"`
	OccurredAt     time.Time      `db:"occurred_at"`
	Service        string         `db:"service"`
	ErrorName      string         `db:"error_name"`
	ErrorMessage   string         `db:"error_message"`
	ErrorCode      string         `db:"error_code"`
	Category       string         `db:"category"`
	Severity       string         `db:"severity"`
	Strategy       string         `db:"strategy"`
	Success        bool           `db:"success"`
	Attempts       int            `db:"attempts"`
	RecoveryTimeMs int64          `db:"recovery_time_ms"`
	Context        types.JSONText `db:"context"`
	Classification types.JSONText `db:"classification"`
	StrategyDetail types.JSONText `db:"strategy_detail"`
	RecoveryResult types.JSONText `db:"recovery_result"`
}

// NewRow flattens a record for storage
func NewRow(record recovery.ErrorRecord) (Row, error) {
	errCtx, err := json.Marshal(record.Context)
	if err != nil {
		return Row{}, fmt.Errorf("encode context: %w", err)
	}
	classification, err := json.Marshal(record.Classification)
	if err != nil {
		return Row{}, fmt.Errorf("encode classification: %w", err)
	}
	strategy, err := json.Marshal(record.Strategy)
	if err != nil {
		return Row{}, fmt.Errorf("encode strategy: %w", err)
	}
	result, err := json.Marshal(record.RecoveryResult)
	if err != nil {
		return Row{}, fmt.Errorf("encode recovery result: %w", err)
	}

	return Row{
		ID:             record.ID,
		OccurredAt:     record.Timestamp,
		Service:        record.Context.Service(),
		ErrorName:      record.Error.Name,
		ErrorMessage:   record.Error.Message,
		ErrorCode:      record.Error.Code,
		Category:       string(record.Classification.Category),
		Severity:       string(record.Classification.Severity),
		Strategy:       record.Strategy.Name,
		Success:        record.RecoveryResult.Success,
		Attempts:       record.RecoveryResult.Attempts,
		RecoveryTimeMs: record.RecoveryResult.RecoveryTimeMs,
		Context:        errCtx,
		Classification: classification,
		StrategyDetail: strategy,
		RecoveryResult: result,
	}, nil
}

// Record rebuilds the error record. Pattern analysis is not archived.
func (r Row) Record() (recovery.ErrorRecord, error) {
	record := recovery.ErrorRecord{
		ID:        r.ID,
		Timestamp: r.OccurredAt,
		Error: recovery.ErrorInfo{
			Message: r.ErrorMessage,
			Name:    r.ErrorName,
			Code:    r.ErrorCode,
		},
	}

	if err := r.Context.Unmarshal(&record.Context); err != nil {
		return recovery.ErrorRecord{}, fmt.Errorf("decode context: %w", err)
	}
	if err := r.Classification.Unmarshal(&record.Classification); err != nil {
		return recovery.ErrorRecord{}, fmt.Errorf("decode classification: %w", err)
	}
	if err := r.StrategyDetail.Unmarshal(&record.Strategy); err != nil {
		return recovery.ErrorRecord{}, fmt.Errorf("decode strategy: %w", err)
	}
	if err := r.RecoveryResult.Unmarshal(&record.RecoveryResult); err != nil {
		return recovery.ErrorRecord{}, fmt.Errorf("decode recovery result: %w", err)
	}
	return record, nil
}

// ListFilter narrows an archive listing
type ListFilter struct {
	Category string
	Service  string
	Since    time.Time
	Limit    int
}

// CategoryCount is one row of a category breakdown
type CategoryCount struct {
	Category string `db:"category" json:"category"`
	Count    int    `db:"count" json:"count"`
}

// Repository persists error records in Postgres
type Repository struct {
	db      *DB
	tracer  *tracing.TracingService
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewRepository creates a repository
func NewRepository(db *DB, tracer *tracing.TracingService, m *metrics.Metrics) *Repository {
	if tracer == nil {
		tracer, _ = tracing.NewTracingService(&tracing.Config{ServiceName: "recovery-orchestrator"})
	}
	return &Repository{
		db:      db,
		tracer:  tracer,
		metrics: m,
		logger:  logging.GetLogger(),
	}
}

// Save archives record. Saving the same record twice is a no-op.
func (r *Repository) Save(ctx context.Context, record recovery.ErrorRecord) error {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "insert", tableErrorRecords)
	defer span.End()

	row, err := NewRow(record)
	if err != nil {
		r.metrics.RecordArchiveWrite("error")
		return errors.NewInternalError("failed to encode error record").WithCause(err)
	}

	query := `
		INSERT INTO error_records (
			id, occurred_at, service, error_name, error_message, error_code,
			category, severity, strategy, success, attempts, recovery_time_ms,
			context, classification, strategy_detail, recovery_result
		) VALUES (
			:id, :occurred_at, :service, :error_name, :error_message, :error_code,
			:category, :severity, :strategy, :success, :attempts, :recovery_time_ms,
			:context, :classification, :strategy_detail, :recovery_result
		)
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		r.tracer.RecordError(span, err)
		r.metrics.RecordArchiveWrite("error")
		return errors.NewInternalError("failed to archive error record").WithCause(err)
	}

	r.metrics.RecordArchiveWrite("success")
	return nil
}

// List returns archived records, newest first
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]recovery.ErrorRecord, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", tableErrorRecords)
	defer span.End()

	var (
		conditions []string
		args       []interface{}
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Service != "" {
		args = append(args, filter.Service)
		conditions = append(conditions, fmt.Sprintf("service = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	args = append(args, limit)

	query := `
		SELECT id, occurred_at, service, error_name, error_message, error_code,
		       category, severity, strategy, success, attempts, recovery_time_ms,
		       context, classification, strategy_detail, recovery_result
		FROM error_records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d", len(args))

	var rows []Row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.tracer.RecordError(span, err)
		return nil, errors.NewInternalError("failed to list error records").WithCause(err)
	}

	records := make([]recovery.ErrorRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.Record()
		if err != nil {
			r.logger.Warn("Skipping undecodable archived record", "record_id", row.ID, "error", err.Error())
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// CategoryCounts breaks down archived records since the given time
func (r *Repository) CategoryCounts(ctx context.Context, since time.Time) ([]CategoryCount, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "select", tableErrorRecords)
	defer span.End()

	query := `
		SELECT category, COUNT(*) AS count
		FROM error_records
		WHERE occurred_at >= $1
		GROUP BY category
		ORDER BY count DESC, category`

	var counts []CategoryCount
	if err := r.db.SelectContext(ctx, &counts, query, since); err != nil {
		r.tracer.RecordError(span, err)
		return nil, errors.NewInternalError("failed to count error records").WithCause(err)
	}
	return counts, nil
}

// DeleteBefore removes records older than cutoff and reports how many went
func (r *Repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := r.tracer.StartDatabaseSpan(ctx, "delete", tableErrorRecords)
	defer span.End()

	result, err := r.db.ExecContext(ctx, `DELETE FROM error_records WHERE occurred_at < $1`, cutoff)
	if err != nil {
		r.tracer.RecordError(span, err)
		return 0, errors.NewInternalError("failed to delete error records").WithCause(err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternalError("failed to count deleted error records").WithCause(err)
	}
	return deleted, nil
}
