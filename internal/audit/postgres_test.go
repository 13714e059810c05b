package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/af-corp/prompt-gateway/internal/types"
)

type fakeExecer struct {
	sql  string
	args []any
	err  error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPostgresStore_InsertAudit(t *testing.T) {
	db := &fakeExecer{}
	s := NewPostgresStore(db)
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	err := s.InsertAudit(context.Background(), &types.AuditRecord{
		ID: "id-1", RequestID: "req-1", Method: "POST", URL: "/", StatusCode: 200,
		RawBody: `{"prompt":"hi"}`, Prompt: "hi", Model: "llama3.2", Response: "hello",
		StartedAt: started, DurationMs: 12,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(db.sql, "INSERT INTO audit_records") {
		t.Errorf("unexpected sql: %s", db.sql)
	}
	if len(db.args) != 12 || db.args[0] != "id-1" || db.args[1] != "req-1" || db.args[11] != int64(12) {
		t.Errorf("unexpected args: %v", db.args)
	}
}

func TestPostgresStore_InsertErrorAudit(t *testing.T) {
	db := &fakeExecer{}
	s := NewPostgresStore(db)

	err := s.InsertErrorAudit(context.Background(), &types.ErrorAuditRecord{
		ID: "id-2", RequestID: "req-2", Name: "*inference.Error", StatusCode: 503, Category: "service_unavailable",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(db.sql, "INSERT INTO error_audit_records") {
		t.Errorf("unexpected sql: %s", db.sql)
	}
	if db.args[5] != "*inference.Error" || db.args[8] != 503 || db.args[9] != "service_unavailable" {
		t.Errorf("unexpected args: %v", db.args)
	}
}

func TestPostgresStore_ConnectionLoss(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantLost bool
	}{
		{"server error", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, false},
		{"timeout", context.DeadlineExceeded, false},
		{"broken connection", errors.New("conn closed"), true},
	}

	for _, tt := range tests {
		var lost error
		s := NewPostgresStore(&fakeExecer{err: tt.err})
		s.OnConnectionLost(func(err error) { lost = err })

		err := s.InsertAudit(context.Background(), &types.AuditRecord{ID: "x"})
		if !errors.Is(err, tt.err) {
			t.Errorf("%s: expected wrapped error, got %v", tt.name, err)
		}
		if (lost != nil) != tt.wantLost {
			t.Errorf("%s: connection lost = %v, want %v", tt.name, lost != nil, tt.wantLost)
		}
	}
}

func TestNopPublisher(t *testing.T) {
	if err := (NopPublisher{}).Publish(context.Background(), "audit.completed", []byte("{}")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
