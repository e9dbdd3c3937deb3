package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceAuditJob verifies the numbering invariants after the fact: no
// duplicate document numbers within a (company, year, family) stream, and no
// issued counter value exceeded by the documents on record.
type SequenceAuditJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
	clock  func() time.Time
}

// NewSequenceAuditJob wires dependencies for the audit handler.
func NewSequenceAuditJob(pool *pgxpool.Pool, logger *slog.Logger) *SequenceAuditJob {
	return &SequenceAuditJob{
		Pool:   pool,
		Logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes sequence audit tasks.
func (j *SequenceAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("sequence audit: handler not configured")
	}
	var payload SequenceAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger()
	start := j.now()
	logger.Info("starting sequence audit", slog.Int64("company_id", payload.CompanyID))

	duplicates, err := j.findDuplicates(ctx, payload.CompanyID)
	if err != nil {
		logger.Error("scan duplicate numbers", slog.Any("error", err))
		return err
	}
	for _, d := range duplicates {
		logger.Error("duplicate document number",
			slog.Int64("company_id", d.CompanyID),
			slog.String("document_number", d.Number),
			slog.Int("occurrences", d.Count))
	}

	overruns, err := j.findCounterOverruns(ctx, payload.CompanyID)
	if err != nil {
		logger.Error("scan counter overruns", slog.Any("error", err))
		return err
	}
	for _, o := range overruns {
		logger.Error("documents exceed issued counter",
			slog.Int64("company_id", o.CompanyID),
			slog.Int("fiscal_year", o.FiscalYear),
			slog.String("family", o.Family),
			slog.Int64("last_issued", o.LastIssued),
			slog.Int64("documents", o.Documents))
	}

	logger.Info("completed sequence audit",
		slog.Int("duplicates", len(duplicates)),
		slog.Int("overruns", len(overruns)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

type duplicateNumber struct {
	CompanyID int64
	Number    string
	Count     int
}

func (j *SequenceAuditJob) findDuplicates(ctx context.Context, companyID int64) ([]duplicateNumber, error) {
	q := `SELECT company_id, document_number, count(*)
FROM billing_documents
WHERE ($1 = 0 OR company_id = $1)
GROUP BY company_id, document_number
HAVING count(*) > 1`
	rows, err := j.Pool.Query(ctx, q, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []duplicateNumber
	for rows.Next() {
		var d duplicateNumber
		if err := rows.Scan(&d.CompanyID, &d.Number, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type counterOverrun struct {
	CompanyID  int64
	FiscalYear int
	Family     string
	LastIssued int64
	Documents  int64
}

// findCounterOverruns flags streams where more documents exist than numbers
// were ever issued. Fewer documents than issued is normal: deleted drafts
// leave gaps by design.
func (j *SequenceAuditJob) findCounterOverruns(ctx context.Context, companyID int64) ([]counterOverrun, error) {
	q := `SELECT s.company_id, s.fiscal_year, s.family, s.last_issued, count(d.id)
FROM billing_sequences s
LEFT JOIN billing_documents d
  ON d.company_id = s.company_id
 AND d.fiscal_year = s.fiscal_year
 AND ((s.family = 'INVOICE' AND d.document_type = 'INVOICE')
   OR (s.family = 'CREDIT_NOTE' AND d.document_type = 'CREDIT_NOTE'))
WHERE ($1 = 0 OR s.company_id = $1)
GROUP BY s.company_id, s.fiscal_year, s.family, s.last_issued
HAVING count(d.id) > s.last_issued`
	rows, err := j.Pool.Query(ctx, q, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []counterOverrun
	for rows.Next() {
		var o counterOverrun
		if err := rows.Scan(&o.CompanyID, &o.FiscalYear, &o.Family, &o.LastIssued, &o.Documents); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (j *SequenceAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSequenceAudit))
	}
	return slog.Default().With(slog.String("job", TaskSequenceAudit))
}

func (j *SequenceAuditJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
