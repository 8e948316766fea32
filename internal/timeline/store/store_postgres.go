package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dsrengine/internal/platform/postgres"
	"dsrengine/internal/timeline/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
	txcontext "dsrengine/pkg/platform/tx"
)

// PostgresStore persists timelines in dsr_timelines and escalations in dsr_escalations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, t *models.Timeline) error {
	_, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO dsr_timelines (request_id, created_at, deadline, warnings_sent)
		VALUES ($1, $2, $3, $4)
	`, uuid.UUID(t.RequestID), t.CreatedAt, t.Deadline, pq.Array(toInt64(t.WarningsSent)))
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert timeline: %w", err)
	}
	return nil
}

const timelineColumns = `request_id, created_at, deadline, warnings_sent, closed_at`

func (s *PostgresStore) Get(ctx context.Context, requestID domain.RequestID) (*models.Timeline, error) {
	row := txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+timelineColumns+` FROM dsr_timelines WHERE request_id = $1`,
		uuid.UUID(requestID))
	t, err := scanTimeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return t, err
}

func (s *PostgresStore) MarkWarning(ctx context.Context, requestID domain.RequestID, days int) error {
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE dsr_timelines
		SET warnings_sent = array_append(warnings_sent, $2::bigint)
		WHERE request_id = $1 AND NOT ($2::bigint = ANY(warnings_sent))
	`, uuid.UUID(requestID), int64(days))
	if err != nil {
		return fmt.Errorf("mark timeline warning: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, requestID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context, requestID domain.RequestID, at time.Time) error {
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE dsr_timelines SET closed_at = COALESCE(closed_at, $2) WHERE request_id = $1
	`, uuid.UUID(requestID), at)
	if err != nil {
		return fmt.Errorf("close timeline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListOpen(ctx context.Context) ([]*models.Timeline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+timelineColumns+` FROM dsr_timelines WHERE closed_at IS NULL ORDER BY deadline ASC`)
	if err != nil {
		return nil, fmt.Errorf("query open timelines: %w", err)
	}
	defer rows.Close()
	var out []*models.Timeline
	for rows.Next() {
		t, err := scanTimeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTimeline(row scanner) (*models.Timeline, error) {
	var (
		t        models.Timeline
		id       uuid.UUID
		warnings pq.Int64Array
		closedAt sql.NullTime
	)
	if err := row.Scan(&id, &t.CreatedAt, &t.Deadline, &warnings, &closedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan timeline: %w", err)
	}
	t.RequestID = domain.RequestID(id)
	for _, w := range warnings {
		t.WarningsSent = append(t.WarningsSent, int(w))
	}
	if closedAt.Valid {
		t.ClosedAt = &closedAt.Time
	}
	return &t, nil
}

func (s *PostgresStore) SaveEscalation(ctx context.Context, e *models.Escalation) error {
	_, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO dsr_escalations (id, request_id, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, uuid.UUID(e.RequestID), string(e.Reason), e.Detail, e.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkEscalationDelivered(ctx context.Context, id uuid.UUID, seq uint64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dsr_escalations SET delivered_at = $2, audit_seq = $3 WHERE id = $1
	`, id, at, int64(seq))
	if err != nil {
		return fmt.Errorf("mark escalation delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const escalationColumns = `id, request_id, reason, detail, created_at, delivered_at, audit_seq`

func (s *PostgresStore) ListUndelivered(ctx context.Context) ([]*models.Escalation, error) {
	return s.queryEscalations(ctx,
		`SELECT `+escalationColumns+` FROM dsr_escalations WHERE delivered_at IS NULL ORDER BY created_at ASC`)
}

func (s *PostgresStore) ListEscalations(ctx context.Context, requestID domain.RequestID) ([]*models.Escalation, error) {
	return s.queryEscalations(ctx,
		`SELECT `+escalationColumns+` FROM dsr_escalations WHERE request_id = $1 ORDER BY created_at ASC`,
		uuid.UUID(requestID))
}

func (s *PostgresStore) CountEscalations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dsr_escalations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count escalations: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) queryEscalations(ctx context.Context, query string, args ...any) ([]*models.Escalation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()
	var out []*models.Escalation
	for rows.Next() {
		var (
			e         models.Escalation
			requestID uuid.UUID
			reason    string
			delivered sql.NullTime
			seq       sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &requestID, &reason, &e.Detail, &e.CreatedAt, &delivered, &seq); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		e.RequestID = domain.RequestID(requestID)
		e.Reason = models.EscalationReason(reason)
		if delivered.Valid {
			e.DeliveredAt = &delivered.Time
		}
		e.AuditSeq = uint64(seq.Int64)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
