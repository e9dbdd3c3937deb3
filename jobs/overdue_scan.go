package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// OverdueSummaryKey is the cache key holding the latest scan result.
const OverdueSummaryKey = "billing:overdue:summary"

// OverdueSummary is the cached result of one overdue scan.
type OverdueSummary struct {
	ScannedAt     time.Time           `json:"scanned_at"`
	OlderThanDays int                 `json:"older_than_days"`
	Companies     []CompanyOverdueRow `json:"companies"`
}

// CompanyOverdueRow aggregates overdue invoices for one company.
type CompanyOverdueRow struct {
	CompanyID int64  `json:"company_id"`
	Count     int64  `json:"count"`
	Total     string `json:"total_incl_tax"`
}

// OverdueScanJob summarizes validated unpaid invoices older than a cutoff
// and caches the result for the jobs endpoint.
type OverdueScanJob struct {
	Pool   *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	clock  func() time.Time
}

// NewOverdueScanJob wires dependencies for the scan handler.
func NewOverdueScanJob(pool *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) *OverdueScanJob {
	return &OverdueScanJob{
		Pool:   pool,
		Cache:  cache,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes overdue scan tasks.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OlderThanDays <= 0 {
		payload.OlderThanDays = 30
	}

	logger := j.logger()
	now := j.now()
	cutoff := now.AddDate(0, 0, -payload.OlderThanDays)

	rows, err := j.Pool.Query(ctx, `SELECT company_id, count(*), COALESCE(sum(total_incl_tax), 0)::text
FROM billing_documents
WHERE document_type = 'INVOICE'
  AND lifecycle_state = 'VALIDATED'
  AND payment_state = 'UNPAID'
  AND validated_at < $1
GROUP BY company_id
ORDER BY company_id`, cutoff)
	if err != nil {
		logger.Error("scan overdue invoices", slog.Any("error", err))
		return err
	}
	defer rows.Close()

	summary := OverdueSummary{ScannedAt: now, OlderThanDays: payload.OlderThanDays}
	for rows.Next() {
		var row CompanyOverdueRow
		if err := rows.Scan(&row.CompanyID, &row.Count, &row.Total); err != nil {
			return err
		}
		summary.Companies = append(summary.Companies, row)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if j.Cache != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		if err := j.Cache.Set(ctx, OverdueSummaryKey, data, 48*time.Hour).Err(); err != nil {
			logger.Warn("cache overdue summary", slog.Any("error", err))
		}
	}

	logger.Info("completed overdue scan",
		slog.Int("companies", len(summary.Companies)),
		slog.Int("older_than_days", payload.OlderThanDays),
		slog.Duration("duration", time.Since(now)))
	return nil
}

func (j *OverdueScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOverdueScan))
	}
	return slog.Default().With(slog.String("job", TaskOverdueScan))
}

func (j *OverdueScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
