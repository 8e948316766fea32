package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	discoveryModels "dsrengine/internal/discovery/models"
	"dsrengine/internal/dsr/models"
	"dsrengine/internal/platform/postgres"
	"dsrengine/pkg/domain"
	dErrors "dsrengine/pkg/domain-errors"
	"dsrengine/pkg/platform/sentinel"
	txcontext "dsrengine/pkg/platform/tx"
)

// PostgresStore persists requests in dsr_requests and flags in processing_flags.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, subject_id, contact, type, priority, description, status, failed_from,
	failure_code, failure_reason, retry_count, next_retry_at, escalated, verified_at, risk_score,
	manifest, discovery_attempts, dispatched_at, created_at, deadline, updated_at, closed_at, version`

func (s *PostgresStore) Create(ctx context.Context, r *models.Request) error {
	manifest, err := encodeManifest(r.Manifest)
	if err != nil {
		return err
	}
	_, err = txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO dsr_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, 1)
	`, uuid.UUID(r.ID), string(r.SubjectID), r.Contact, string(r.Type), string(r.Priority), r.Description,
		string(r.Status), string(r.FailedFrom), string(r.FailureCode), r.FailureReason, r.RetryCount,
		r.NextRetryAt, r.Escalated, r.VerifiedAt, r.RiskScore, manifest, r.DiscoveryAttempts,
		r.DispatchedAt, r.CreatedAt, r.Deadline, r.UpdatedAt, r.ClosedAt)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert dsr request: %w", err)
	}
	r.Version = 1
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.RequestID) (*models.Request, error) {
	row := txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM dsr_requests WHERE id = $1`, uuid.UUID(id))
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return r, err
}

// Update writes r when its version is current and bumps the version.
func (s *PostgresStore) Update(ctx context.Context, r *models.Request) error {
	manifest, err := encodeManifest(r.Manifest)
	if err != nil {
		return err
	}
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE dsr_requests SET
			status = $3, failed_from = $4, failure_code = $5, failure_reason = $6, retry_count = $7,
			next_retry_at = $8, escalated = $9, verified_at = $10, risk_score = $11, manifest = $12,
			discovery_attempts = $13, dispatched_at = $14, updated_at = $15, closed_at = $16,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, uuid.UUID(r.ID), r.Version, string(r.Status), string(r.FailedFrom), string(r.FailureCode),
		r.FailureReason, r.RetryCount, r.NextRetryAt, r.Escalated, r.VerifiedAt, r.RiskScore, manifest,
		r.DiscoveryAttempts, r.DispatchedAt, r.UpdatedAt, r.ClosedAt)
	if err != nil {
		return fmt.Errorf("update dsr request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, r.ID); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	r.Version++
	return nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]*models.Request, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT `+requestColumns+` FROM dsr_requests
		WHERE status NOT IN ('COMPLETED', 'EXPIRED', 'CANCELLED')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list open requests: %w", err)
	}
	defer rows.Close()
	var out []*models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Counts(ctx context.Context, now time.Time) (*models.Counts, error) {
	conn := txcontext.Conn(ctx, s.db)
	c := &models.Counts{
		ByStatus: make(map[models.Status]int),
		ByType:   make(map[models.Type]int),
	}
	rows, err := conn.QueryContext(ctx, `SELECT status, type, COUNT(*) FROM dsr_requests GROUP BY status, type`)
	if err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, typ string
		var n int
		if err := rows.Scan(&status, &typ, &n); err != nil {
			return nil, fmt.Errorf("scan request counts: %w", err)
		}
		c.ByStatus[models.Status(status)] += n
		c.ByType[models.Type(typ)] += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var totalSeconds float64
	err = conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status NOT IN ('COMPLETED', 'EXPIRED', 'CANCELLED') AND deadline <= $1),
			COUNT(*) FILTER (WHERE status = 'COMPLETED' AND closed_at IS NOT NULL),
			COALESCE(SUM(EXTRACT(EPOCH FROM closed_at - created_at)) FILTER (WHERE status = 'COMPLETED' AND closed_at IS NOT NULL), 0)
		FROM dsr_requests
	`, now).Scan(&c.Overdue, &c.Completed, &totalSeconds)
	if err != nil {
		return nil, fmt.Errorf("aggregate requests: %w", err)
	}
	c.TotalCompletion = time.Duration(totalSeconds * float64(time.Second))
	return c, nil
}

func (s *PostgresStore) SaveFlags(ctx context.Context, flags []models.ProcessingFlag) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		conn := txcontext.Conn(ctx, s.db)
		for _, f := range flags {
			_, err := conn.ExecContext(ctx, `
				INSERT INTO processing_flags (request_id, module, item_id, kind, flag, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (request_id, module, item_id) DO NOTHING
			`, uuid.UUID(f.RequestID), f.Module, f.ItemID, f.Kind, f.Flag, f.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert processing flag: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListFlags(ctx context.Context, requestID domain.RequestID) ([]models.ProcessingFlag, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT module, item_id, kind, flag, created_at FROM processing_flags
		WHERE request_id = $1 ORDER BY module, item_id
	`, uuid.UUID(requestID))
	if err != nil {
		return nil, fmt.Errorf("list processing flags: %w", err)
	}
	defer rows.Close()
	var out []models.ProcessingFlag
	for rows.Next() {
		f := models.ProcessingFlag{RequestID: requestID}
		if err := rows.Scan(&f.Module, &f.ItemID, &f.Kind, &f.Flag, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processing flag: %w", err)
		}
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.Request, error) {
	var (
		r                                             models.Request
		id                                            uuid.UUID
		subject, typ, priority, status, from, code    string
		manifest                                      []byte
		nextRetry, verifiedAt, dispatchedAt, closedAt sql.NullTime
	)
	err := row.Scan(&id, &subject, &r.Contact, &typ, &priority, &r.Description, &status, &from,
		&code, &r.FailureReason, &r.RetryCount, &nextRetry, &r.Escalated, &verifiedAt, &r.RiskScore,
		&manifest, &r.DiscoveryAttempts, &dispatchedAt, &r.CreatedAt, &r.Deadline, &r.UpdatedAt,
		&closedAt, &r.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dsr request: %w", err)
	}
	r.ID = domain.RequestID(id)
	r.SubjectID = domain.SubjectID(subject)
	r.Type = models.Type(typ)
	r.Priority = models.Priority(priority)
	r.Status = models.Status(status)
	r.FailedFrom = models.Status(from)
	r.FailureCode = dErrors.Code(code)
	r.CreatedAt = r.CreatedAt.UTC()
	r.Deadline = r.Deadline.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	r.NextRetryAt = nullTime(nextRetry)
	r.VerifiedAt = nullTime(verifiedAt)
	r.DispatchedAt = nullTime(dispatchedAt)
	r.ClosedAt = nullTime(closedAt)
	if len(manifest) > 0 {
		var m discoveryModels.Manifest
		if err := json.Unmarshal(manifest, &m); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		r.Manifest = &m
	}
	return &r, nil
}

func encodeManifest(m *discoveryModels.Manifest) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return b, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
