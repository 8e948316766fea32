package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dsrengine/internal/export/models"
	"dsrengine/internal/platform/postgres"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
	txcontext "dsrengine/pkg/platform/tx"
)

// PostgresStore persists export jobs in export_jobs. Ciphertext lives in the
// blob store; only salt, KDF and cipher parameters are kept here.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, request_id, format, status, salt, kdf, cipher_algorithm, nonce, blob_key,
	size, item_count, created_at, expires_at, download_count, first_download_at, expired_at`

// Create relies on export_jobs_one_ready_idx to reject a second READY job
// for the same request.
func (s *PostgresStore) Create(ctx context.Context, job *models.ExportJob) error {
	kdf, err := json.Marshal(job.KDF)
	if err != nil {
		return fmt.Errorf("marshal kdf params: %w", err)
	}
	_, err = txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO export_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, uuid.UUID(job.ID), uuid.UUID(job.RequestID), string(job.Format), string(job.Status),
		job.Salt, kdf, job.Cipher.Algorithm, job.Cipher.Nonce, job.BlobKey,
		job.Size, job.ItemCount, job.CreatedAt, job.ExpiresAt, job.DownloadCount,
		job.FirstDownloadAt, job.ExpiredAt)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.ExportID) (*models.ExportJob, error) {
	row := txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM export_jobs WHERE id = $1`, uuid.UUID(id))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return job, err
}

func (s *PostgresStore) ListByRequest(ctx context.Context, requestID domain.RequestID) ([]*models.ExportJob, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE request_id = $1 ORDER BY created_at`, uuid.UUID(requestID))
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time) ([]*models.ExportJob, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at`,
		string(models.StatusReady), now)
}

func (s *PostgresStore) RecordDownload(ctx context.Context, id domain.ExportID, at time.Time, graceUntil *time.Time) (*models.ExportJob, error) {
	row := txcontext.Conn(ctx, s.db).QueryRowContext(ctx, `
		UPDATE export_jobs SET
			download_count = download_count + 1,
			expires_at = CASE
				WHEN first_download_at IS NULL AND $3::timestamptz IS NOT NULL THEN LEAST(expires_at, $3::timestamptz)
				ELSE expires_at END,
			first_download_at = COALESCE(first_download_at, $2)
		WHERE id = $1 AND status = 'READY' AND expires_at > $2
		RETURNING `+jobColumns,
		uuid.UUID(id), at, graceUntil)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, sentinel.ErrExpired
	}
	return job, err
}

func (s *PostgresStore) MarkExpired(ctx context.Context, id domain.ExportID, at time.Time) error {
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx,
		`UPDATE export_jobs SET status = $2, expired_at = $3 WHERE id = $1`,
		uuid.UUID(id), string(models.StatusExpired), at)
	if err != nil {
		return fmt.Errorf("mark export expired: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Conn(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM export_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count export jobs: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.ExportJob, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()
	var out []*models.ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.ExportJob, error) {
	var (
		job                  models.ExportJob
		id, requestID        uuid.UUID
		format, status       string
		kdf                  []byte
		firstDownload, expAt sql.NullTime
	)
	err := row.Scan(&id, &requestID, &format, &status, &job.Salt, &kdf, &job.Cipher.Algorithm,
		&job.Cipher.Nonce, &job.BlobKey, &job.Size, &job.ItemCount, &job.CreatedAt, &job.ExpiresAt,
		&job.DownloadCount, &firstDownload, &expAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan export job: %w", err)
	}
	if err := json.Unmarshal(kdf, &job.KDF); err != nil {
		return nil, fmt.Errorf("unmarshal kdf params: %w", err)
	}
	job.ID = domain.ExportID(id)
	job.RequestID = domain.RequestID(requestID)
	job.Format = models.Format(format)
	job.Status = models.Status(status)
	if firstDownload.Valid {
		t := firstDownload.Time
		job.FirstDownloadAt = &t
	}
	if expAt.Valid {
		t := expAt.Time
		job.ExpiredAt = &t
	}
	return &job, nil
}
