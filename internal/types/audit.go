package types

import "time"

// AuditRecord is written once per completed request. Records are append-only
// and keyed by RequestID; duplicates are not collapsed.
type AuditRecord struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	ClientIP   string    `json:"client_ip"`
	StatusCode int       `json:"status_code"`
	RawBody    string    `json:"raw_body"`
	Prompt     string    `json:"prompt"`
	Model      string    `json:"model"`
	Response   string    `json:"response"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// ErrorAuditRecord is written once per classified error.
type ErrorAuditRecord struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	ClientIP   string    `json:"client_ip"`
	Name       string    `json:"name"`
	Message    string    `json:"message"`
	Stack      string    `json:"stack,omitempty"`
	StatusCode int       `json:"status_code"`
	Category   string    `json:"category"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}
