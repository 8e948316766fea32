package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/sentinel"
	txcontext "dsrengine/pkg/platform/tx"
)

// chainLockKey serializes writers across processes via pg_advisory_xact_lock.
const chainLockKey int64 = 0x647372617564 // "dsraud"

// Store implements audit.Store on the audit_chain table. Each row carries its
// prev_hash and hash explicitly so the chain is re-verifiable from storage alone.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit chain store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Head(ctx context.Context) (audit.Head, error) {
	return s.head(ctx, txcontext.Conn(ctx, s.db))
}

func (s *Store) head(ctx context.Context, conn txcontext.Execer) (audit.Head, error) {
	var h audit.Head
	err := conn.QueryRowContext(ctx,
		`SELECT seq, hash FROM audit_chain ORDER BY seq DESC LIMIT 1`,
	).Scan(&h.Seq, &h.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Head{Seq: 0, Hash: audit.GenesisHash}, nil
	}
	if err != nil {
		return audit.Head{}, fmt.Errorf("read audit head: %w", err)
	}
	return h, nil
}

// AppendBatch inserts events after checking the head under an advisory lock.
func (s *Store) AppendBatch(ctx context.Context, expected audit.Head, events []audit.Event) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		conn := txcontext.Conn(ctx, s.db)
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
			return fmt.Errorf("lock audit chain: %w", err)
		}
		head, err := s.head(ctx, conn)
		if err != nil {
			return err
		}
		if head != expected {
			return sentinel.ErrConflict
		}
		const query = `
			INSERT INTO audit_chain (
				seq, ts, actor, action, category, severity,
				request_id, payload, prev_hash, hash
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		for _, e := range events {
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("marshal audit payload: %w", err)
			}
			_, err = conn.ExecContext(ctx, query,
				int64(e.Seq),
				e.Timestamp,
				e.Actor,
				e.Action,
				string(e.Category),
				string(e.Severity),
				e.RequestID,
				string(payload),
				e.PrevHash,
				e.Hash,
			)
			if err != nil {
				return fmt.Errorf("insert audit event %d: %w", e.Seq, err)
			}
		}
		return nil
	})
}

func (s *Store) Range(ctx context.Context, from, to uint64) ([]audit.Event, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT seq, ts, actor, action, category, severity,
			   request_id, payload, prev_hash, hash
		FROM audit_chain
		WHERE seq BETWEEN $1 AND $2
		ORDER BY seq ASC
	`, int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByRequest returns every event correlated with a DSR request, oldest first.
func (s *Store) ListByRequest(ctx context.Context, requestID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, ts, actor, action, category, severity,
			   request_id, payload, prev_hash, hash
		FROM audit_chain
		WHERE request_id = $1
		ORDER BY seq ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query audit chain: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			seq      int64
			category string
			severity string
			payload  string
		)
		err := rows.Scan(
			&seq,
			&e.Timestamp,
			&e.Actor,
			&e.Action,
			&category,
			&severity,
			&e.RequestID,
			&payload,
			&e.PrevHash,
			&e.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Seq = uint64(seq)
		e.Category = audit.EventCategory(category)
		e.Severity = audit.Severity(severity)
		e.Timestamp = audit.NormalizeTime(e.Timestamp)
		if e.Payload, err = audit.DecodePayload([]byte(payload)); err != nil {
			return nil, fmt.Errorf("seq %d: %w", seq, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
