package postgres

import (
	"context"
	"database/sql"
	"fmt"

	txcontext "dsrengine/pkg/platform/tx"
)

// migrationLockKey serializes concurrent Migrate calls across replicas.
const migrationLockKey = 0x6473725f6d6967

type migration struct {
	version int
	name    string
	stmt    string
}

// migrations are append-only; never edit an applied entry.
var migrations = []migration{
	{1, "dsr_requests", `
		CREATE TABLE dsr_requests (
			id                 uuid PRIMARY KEY,
			subject_id         text NOT NULL,
			contact            text NOT NULL,
			type               text NOT NULL,
			priority           text NOT NULL,
			description        text NOT NULL DEFAULT '',
			status             text NOT NULL,
			failed_from        text NOT NULL DEFAULT '',
			failure_code       text NOT NULL DEFAULT '',
			failure_reason     text NOT NULL DEFAULT '',
			retry_count        integer NOT NULL DEFAULT 0,
			next_retry_at      timestamptz,
			escalated          boolean NOT NULL DEFAULT false,
			verified_at        timestamptz,
			risk_score         double precision NOT NULL DEFAULT 0,
			manifest           jsonb,
			discovery_attempts integer NOT NULL DEFAULT 0,
			dispatched_at      timestamptz,
			created_at         timestamptz NOT NULL,
			deadline           timestamptz NOT NULL,
			updated_at         timestamptz NOT NULL,
			closed_at          timestamptz,
			version            bigint NOT NULL DEFAULT 1
		);
		CREATE INDEX dsr_requests_open_idx ON dsr_requests (status) WHERE closed_at IS NULL;
		CREATE INDEX dsr_requests_subject_idx ON dsr_requests (subject_id);
	`},
	{2, "audit_chain", `
		CREATE TABLE audit_chain (
			seq        bigint PRIMARY KEY,
			ts         timestamptz NOT NULL,
			actor      text NOT NULL,
			action     text NOT NULL,
			category   text NOT NULL,
			severity   text NOT NULL,
			request_id text NOT NULL DEFAULT '',
			payload    jsonb NOT NULL DEFAULT '{}'::jsonb,
			prev_hash  text NOT NULL,
			hash       text NOT NULL UNIQUE
		);
		CREATE INDEX audit_chain_request_idx ON audit_chain (request_id, seq);
	`},
	{3, "timelines", `
		CREATE TABLE dsr_timelines (
			request_id    uuid PRIMARY KEY,
			created_at    timestamptz NOT NULL,
			deadline      timestamptz NOT NULL,
			warnings_sent bigint[] NOT NULL DEFAULT '{}',
			closed_at     timestamptz
		);
		CREATE TABLE dsr_escalations (
			id           uuid PRIMARY KEY,
			request_id   uuid NOT NULL,
			reason       text NOT NULL,
			detail       text NOT NULL DEFAULT '',
			created_at   timestamptz NOT NULL,
			delivered_at timestamptz,
			audit_seq    bigint NOT NULL DEFAULT 0
		);
		CREATE INDEX dsr_escalations_pending_idx ON dsr_escalations (created_at) WHERE delivered_at IS NULL;
	`},
	{4, "export_jobs", `
		CREATE TABLE export_jobs (
			id                uuid PRIMARY KEY,
			request_id        uuid NOT NULL,
			format            text NOT NULL,
			status            text NOT NULL,
			salt              bytea NOT NULL,
			kdf               jsonb NOT NULL,
			cipher_algorithm  text NOT NULL,
			nonce             bytea NOT NULL,
			blob_key          text NOT NULL,
			size              bigint NOT NULL,
			item_count        integer NOT NULL,
			created_at        timestamptz NOT NULL,
			expires_at        timestamptz NOT NULL,
			download_count    integer NOT NULL DEFAULT 0,
			first_download_at timestamptz,
			expired_at        timestamptz
		);
		CREATE INDEX export_jobs_request_idx ON export_jobs (request_id, created_at);
		CREATE INDEX export_jobs_ready_idx ON export_jobs (expires_at) WHERE status = 'READY';
	`},
	{5, "deletion", `
		CREATE TABLE deletion_jobs (
			id             uuid PRIMARY KEY,
			request_id     uuid NOT NULL UNIQUE,
			subject_hash   text NOT NULL,
			method         text NOT NULL,
			status         text NOT NULL,
			certificate_id uuid,
			failure_reason text NOT NULL DEFAULT '',
			created_at     timestamptz NOT NULL,
			completed_at   timestamptz
		);
		CREATE TABLE deletion_items (
			deletion_id uuid NOT NULL REFERENCES deletion_jobs (id),
			position    integer NOT NULL,
			module      text NOT NULL,
			item_id     text NOT NULL,
			kind        text NOT NULL DEFAULT '',
			status      text NOT NULL,
			pass_hashes text[] NOT NULL DEFAULT '{}',
			empty       boolean NOT NULL DEFAULT false,
			attempts    integer NOT NULL DEFAULT 0,
			erased_at   timestamptz,
			last_error  text NOT NULL DEFAULT '',
			PRIMARY KEY (deletion_id, module, item_id)
		);
		CREATE TABLE deletion_certificates (
			id           uuid PRIMARY KEY,
			deletion_id  uuid NOT NULL UNIQUE,
			request_id   uuid NOT NULL,
			subject_hash text NOT NULL,
			item_count   integer NOT NULL,
			method       text NOT NULL,
			items        jsonb NOT NULL,
			items_digest text NOT NULL DEFAULT '',
			issued_at    timestamptz NOT NULL,
			retain_until timestamptz NOT NULL,
			key_id       text NOT NULL,
			signature    bytea NOT NULL
		);
	`},
	{6, "processing_flags", `
		CREATE TABLE processing_flags (
			request_id uuid NOT NULL,
			module     text NOT NULL,
			item_id    text NOT NULL,
			kind       text NOT NULL DEFAULT '',
			flag       text NOT NULL,
			created_at timestamptz NOT NULL,
			PRIMARY KEY (request_id, module, item_id)
		);
	`},
	{7, "export_jobs_one_ready", `
		CREATE UNIQUE INDEX export_jobs_one_ready_idx ON export_jobs (request_id) WHERE status = 'READY';
	`},
}

// Migrate applies pending schema migrations in order. Each migration runs in
// its own transaction and is recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    integer PRIMARY KEY,
			name       text NOT NULL,
			applied_at timestamptz NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	for _, m := range migrations {
		err := txcontext.Run(ctx, db, func(ctx context.Context) error {
			conn := txcontext.Conn(ctx, db)
			if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return fmt.Errorf("lock migrations: %w", err)
			}
			var applied bool
			if err := conn.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version,
			).Scan(&applied); err != nil {
				return fmt.Errorf("check migration %d: %w", m.version, err)
			}
			if applied {
				return nil
			}
			if _, err := conn.ExecContext(ctx, m.stmt); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
			}
			_, err := conn.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
