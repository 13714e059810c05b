package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/af-corp/prompt-gateway/internal/types"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore inserts audit records into PostgreSQL.
type PostgresStore struct {
	db         Execer
	onConnLost func(error)
}

func NewPostgresStore(db Execer) *PostgresStore {
	return &PostgresStore{db: db}
}

// OnConnectionLost registers a hook for errors that did not come from the
// server, i.e. the connection itself failed.
func (s *PostgresStore) OnConnectionLost(fn func(error)) { s.onConnLost = fn }

func (s *PostgresStore) InsertAudit(ctx context.Context, rec *types.AuditRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_records
			(id, request_id, method, url, client_ip, status_code, raw_body, prompt,
			 model, response, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.RequestID, rec.Method, rec.URL, rec.ClientIP, rec.StatusCode,
		rec.RawBody, rec.Prompt, rec.Model, rec.Response, rec.StartedAt, rec.DurationMs,
	)
	if err != nil {
		s.checkConn(err)
		return fmt.Errorf("insert audit_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertErrorAudit(ctx context.Context, rec *types.ErrorAuditRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO error_audit_records
			(id, request_id, method, url, client_ip, name, message, stack,
			 status_code, category, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID, rec.RequestID, rec.Method, rec.URL, rec.ClientIP, rec.Name, rec.Message,
		rec.Stack, rec.StatusCode, rec.Category, rec.StartedAt, rec.DurationMs,
	)
	if err != nil {
		s.checkConn(err)
		return fmt.Errorf("insert error_audit_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) checkConn(err error) {
	var pgErr *pgconn.PgError
	if s.onConnLost == nil || errors.As(err, &pgErr) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	s.onConnLost(err)
}
