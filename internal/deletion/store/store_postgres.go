package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dsrengine/internal/deletion/models"
	"dsrengine/internal/platform/postgres"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/sentinel"
	txcontext "dsrengine/pkg/platform/tx"
)

// PostgresStore persists deletion jobs, their items and certificates.
// deletion_certificates has no foreign key to requests so certificates
// outlive the request rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.DeletionJob) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		conn := txcontext.Conn(ctx, s.db)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO deletion_jobs (id, request_id, subject_hash, method, status, failure_reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.UUID(job.ID), uuid.UUID(job.RequestID), job.SubjectHash, job.Method, string(job.Status),
			job.FailureReason, job.CreatedAt)
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert deletion job: %w", err)
		}
		for pos, it := range job.Items {
			_, err := conn.ExecContext(ctx, `
				INSERT INTO deletion_items (deletion_id, position, module, item_id, kind, status, pass_hashes, empty, attempts, erased_at, last_error)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`, uuid.UUID(job.ID), pos, it.Module, it.ItemID, it.Kind, string(it.Status),
				pq.Array(it.PassHashes[:]), it.Empty, it.Attempts, it.ErasedAt, it.LastError)
			if err != nil {
				return fmt.Errorf("insert deletion item: %w", err)
			}
		}
		return nil
	})
}

const jobColumns = `id, request_id, subject_hash, method, status, certificate_id, failure_reason, created_at, completed_at`

func (s *PostgresStore) GetJob(ctx context.Context, id domain.DeletionID) (*models.DeletionJob, error) {
	return s.getJob(ctx, `SELECT `+jobColumns+` FROM deletion_jobs WHERE id = $1`, uuid.UUID(id))
}

func (s *PostgresStore) GetJobByRequest(ctx context.Context, requestID domain.RequestID) (*models.DeletionJob, error) {
	return s.getJob(ctx, `SELECT `+jobColumns+` FROM deletion_jobs WHERE request_id = $1`, uuid.UUID(requestID))
}

func (s *PostgresStore) getJob(ctx context.Context, query string, arg any) (*models.DeletionJob, error) {
	conn := txcontext.Conn(ctx, s.db)
	var (
		job           models.DeletionJob
		id, requestID uuid.UUID
		status        string
		certID        uuid.NullUUID
		completedAt   sql.NullTime
	)
	err := conn.QueryRowContext(ctx, query, arg).Scan(&id, &requestID, &job.SubjectHash, &job.Method, &status,
		&certID, &job.FailureReason, &job.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get deletion job: %w", err)
	}
	job.ID = domain.DeletionID(id)
	job.RequestID = domain.RequestID(requestID)
	job.Status = models.Status(status)
	if certID.Valid {
		c := domain.CertificateID(certID.UUID)
		job.CertificateID = &c
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT module, item_id, kind, status, pass_hashes, empty, attempts, erased_at, last_error
		FROM deletion_items WHERE deletion_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list deletion items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it       models.Item
			status   string
			hashes   pq.StringArray
			erasedAt sql.NullTime
		)
		if err := rows.Scan(&it.Module, &it.ItemID, &it.Kind, &status, &hashes, &it.Empty, &it.Attempts, &erasedAt, &it.LastError); err != nil {
			return nil, fmt.Errorf("scan deletion item: %w", err)
		}
		it.Status = models.ItemStatus(status)
		copy(it.PassHashes[:], hashes)
		if erasedAt.Valid {
			t := erasedAt.Time
			it.ErasedAt = &t
		}
		job.Items = append(job.Items, it)
	}
	return &job, rows.Err()
}

func (s *PostgresStore) UpdateItem(ctx context.Context, id domain.DeletionID, it models.Item) error {
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE deletion_items
		SET status = $4, pass_hashes = $5, empty = $6, attempts = $7, erased_at = $8, last_error = $9
		WHERE deletion_id = $1 AND module = $2 AND item_id = $3
	`, uuid.UUID(id), it.Module, it.ItemID, string(it.Status), pq.Array(it.PassHashes[:]),
		it.Empty, it.Attempts, it.ErasedAt, it.LastError)
	if err != nil {
		return fmt.Errorf("update deletion item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.DeletionJob) error {
	var certID uuid.NullUUID
	if job.CertificateID != nil {
		certID = uuid.NullUUID{UUID: uuid.UUID(*job.CertificateID), Valid: true}
	}
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE deletion_jobs
		SET status = $2, certificate_id = COALESCE($3, certificate_id), failure_reason = $4, completed_at = $5
		WHERE id = $1
	`, uuid.UUID(job.ID), string(job.Status), certID, job.FailureReason, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("update deletion job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const certColumns = `id, deletion_id, request_id, subject_hash, item_count, method, items, items_digest,
	issued_at, retain_until, key_id, signature`

func (s *PostgresStore) SaveCertificate(ctx context.Context, cert *models.Certificate) error {
	items, err := json.Marshal(cert.Items)
	if err != nil {
		return fmt.Errorf("marshal certificate items: %w", err)
	}
	_, err = txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO deletion_certificates (`+certColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, uuid.UUID(cert.ID), uuid.UUID(cert.DeletionID), uuid.UUID(cert.RequestID), cert.SubjectHash,
		cert.ItemCount, cert.Method, items, cert.ItemsDigest, cert.IssuedAt, cert.RetainUntil,
		cert.KeyID, cert.Signature)
	if postgres.IsUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCertificate(ctx context.Context, id domain.CertificateID) (*models.Certificate, error) {
	return s.getCertificate(ctx, `SELECT `+certColumns+` FROM deletion_certificates WHERE id = $1`, uuid.UUID(id))
}

func (s *PostgresStore) GetCertificateByDeletion(ctx context.Context, id domain.DeletionID) (*models.Certificate, error) {
	return s.getCertificate(ctx, `SELECT `+certColumns+` FROM deletion_certificates WHERE deletion_id = $1`, uuid.UUID(id))
}

func (s *PostgresStore) getCertificate(ctx context.Context, query string, arg any) (*models.Certificate, error) {
	var (
		cert                      models.Certificate
		id, deletionID, requestID uuid.UUID
		items                     []byte
		issuedAt, retainUntil     time.Time
	)
	err := txcontext.Conn(ctx, s.db).QueryRowContext(ctx, query, arg).Scan(&id, &deletionID, &requestID,
		&cert.SubjectHash, &cert.ItemCount, &cert.Method, &items, &cert.ItemsDigest, &issuedAt, &retainUntil,
		&cert.KeyID, &cert.Signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	if err := json.Unmarshal(items, &cert.Items); err != nil {
		return nil, fmt.Errorf("unmarshal certificate items: %w", err)
	}
	if len(cert.Items) == 0 {
		cert.Items = nil
	}
	cert.ID = domain.CertificateID(id)
	cert.DeletionID = domain.DeletionID(deletionID)
	cert.RequestID = domain.RequestID(requestID)
	cert.IssuedAt = issuedAt.UTC()
	cert.RetainUntil = retainUntil.UTC()
	return &cert, nil
}

func (s *PostgresStore) CountCertificates(ctx context.Context) (int, error) {
	var n int
	if err := txcontext.Conn(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM deletion_certificates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return n, nil
}
