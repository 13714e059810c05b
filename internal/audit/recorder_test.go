package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/af-corp/prompt-gateway/internal/types"
)

type fakeStore struct {
	mu        sync.Mutex
	successes []types.AuditRecord
	failures  []types.ErrorAuditRecord
	err       error
	panics    bool
	delay     time.Duration
}

func (s *fakeStore) InsertAudit(ctx context.Context, rec *types.AuditRecord) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.panics {
		panic("store exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.successes = append(s.successes, *rec)
	return nil
}

func (s *fakeStore) InsertErrorAudit(ctx context.Context, rec *types.ErrorAuditRecord) error {
	if s.panics {
		panic("store exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.failures = append(s.failures, *rec)
	return nil
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, payload: payload})
	return nil
}

type stageCounter struct {
	mu     sync.Mutex
	stages map[string]int
}

func (c *stageCounter) record(stage string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stages == nil {
		c.stages = make(map[string]int)
	}
	c.stages[stage]++
}

func (c *stageCounter) get(stage string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stages[stage]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AsyncBuffer = 16
	cfg.WriteTimeout = time.Second
	return cfg
}

func TestRecorder_PersistsAndPublishes(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	r := NewRecorder(store, pub, testConfig(), slog.Default())

	r.RecordSuccess(types.AuditRecord{RequestID: "req-1", StatusCode: 200, Prompt: "hi"})
	r.RecordFailure(types.ErrorAuditRecord{RequestID: "req-2", StatusCode: 503, Category: "service_unavailable"})
	r.Close()

	if len(store.successes) != 1 || store.successes[0].RequestID != "req-1" {
		t.Fatalf("expected 1 success record, got %+v", store.successes)
	}
	if store.successes[0].ID == "" {
		t.Error("expected generated record id")
	}
	if len(store.failures) != 1 || store.failures[0].Category != "service_unavailable" {
		t.Fatalf("expected 1 failure record, got %+v", store.failures)
	}

	if len(pub.msgs) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(pub.msgs))
	}
	topics := map[string]bool{pub.msgs[0].topic: true, pub.msgs[1].topic: true}
	if !topics["audit.completed"] || !topics["audit.failed"] {
		t.Errorf("unexpected topics: %v", topics)
	}
	var decoded types.AuditRecord
	for _, m := range pub.msgs {
		if m.topic == "audit.completed" {
			if err := json.Unmarshal(m.payload, &decoded); err != nil {
				t.Fatalf("invalid payload: %v", err)
			}
		}
	}
	if decoded.RequestID != "req-1" {
		t.Errorf("expected published payload for req-1, got %+v", decoded)
	}
}

func TestRecorder_NoDedup(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, nil, testConfig(), slog.Default())

	r.RecordFailure(types.ErrorAuditRecord{RequestID: "req-1"})
	r.RecordFailure(types.ErrorAuditRecord{RequestID: "req-1"})
	r.Close()

	if len(store.failures) != 2 {
		t.Errorf("expected both records kept, got %d", len(store.failures))
	}
	if store.failures[0].ID == store.failures[1].ID {
		t.Error("each record should get its own id")
	}
}

func TestRecorder_PersistFailureIsContained(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}
	pub := &fakePublisher{}
	counter := &stageCounter{}
	r := NewRecorder(store, pub, testConfig(), slog.Default())
	r.OnFailure(counter.record)

	r.RecordSuccess(types.AuditRecord{RequestID: "req-1"})
	r.Close()

	if counter.get(StagePersist) != 1 {
		t.Errorf("expected 1 persist failure, got %d", counter.get(StagePersist))
	}
	if len(pub.msgs) != 1 {
		t.Errorf("publish should still run after a persist failure, got %d", len(pub.msgs))
	}
}

func TestRecorder_PublishFailureIsContained(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{err: errors.New("broker down")}
	counter := &stageCounter{}
	r := NewRecorder(store, pub, testConfig(), slog.Default())
	r.OnFailure(counter.record)

	r.RecordSuccess(types.AuditRecord{RequestID: "req-1"})
	r.Close()

	if counter.get(StagePublish) != 1 {
		t.Errorf("expected 1 publish failure, got %d", counter.get(StagePublish))
	}
	if len(store.successes) != 1 {
		t.Error("record should be persisted even when publishing fails")
	}
}

func TestRecorder_PanicIsContained(t *testing.T) {
	store := &fakeStore{panics: true}
	counter := &stageCounter{}
	r := NewRecorder(store, nil, testConfig(), slog.Default())
	r.OnFailure(counter.record)

	r.RecordSuccess(types.AuditRecord{RequestID: "req-1"})
	r.RecordFailure(types.ErrorAuditRecord{RequestID: "req-2"})
	r.Close()

	if counter.get(StagePanic) != 2 {
		t.Errorf("expected the worker to survive both panics, got %d", counter.get(StagePanic))
	}
}

func TestRecorder_ReturnsImmediately(t *testing.T) {
	store := &fakeStore{delay: 200 * time.Millisecond}
	r := NewRecorder(store, nil, testConfig(), slog.Default())
	defer r.Close()

	start := time.Now()
	r.RecordSuccess(types.AuditRecord{RequestID: "req-1"})
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("RecordSuccess blocked for %v", elapsed)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	store := &blockingStore{release: block, started: make(chan struct{})}
	counter := &stageCounter{}
	cfg := testConfig()
	cfg.AsyncBuffer = 1
	r := NewRecorder(store, nil, cfg, slog.Default())
	r.OnFailure(counter.record)

	// First record is picked up by the worker and blocks it, second fills
	// the buffer, third is dropped.
	r.RecordSuccess(types.AuditRecord{RequestID: "req-1"})
	<-store.started
	r.RecordSuccess(types.AuditRecord{RequestID: "req-2"})
	r.RecordSuccess(types.AuditRecord{RequestID: "req-3"})

	close(block)
	r.Close()

	if counter.get(StageDropped) != 1 {
		t.Errorf("expected 1 dropped record, got %d", counter.get(StageDropped))
	}
}

func TestRecorder_DropsAfterClose(t *testing.T) {
	store := &fakeStore{}
	counter := &stageCounter{}
	r := NewRecorder(store, nil, testConfig(), slog.Default())
	r.OnFailure(counter.record)
	r.Close()

	r.RecordSuccess(types.AuditRecord{RequestID: "late"})
	if counter.get(StageDropped) != 1 {
		t.Errorf("expected record after close to be dropped, got %d", counter.get(StageDropped))
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, nil, testConfig(), slog.Default())

	for i := 0; i < 10; i++ {
		r.RecordSuccess(types.AuditRecord{RequestID: "req"})
	}
	r.Close()

	if len(store.successes) != 10 {
		t.Errorf("expected all 10 records persisted before Close returns, got %d", len(store.successes))
	}
}

func TestRecorder_Disabled(t *testing.T) {
	store := &fakeStore{}
	cfg := testConfig()
	cfg.Enabled = false
	r := NewRecorder(store, nil, cfg, slog.Default())

	r.RecordSuccess(types.AuditRecord{RequestID: "req-1"})
	r.Close()

	if len(store.successes) != 0 {
		t.Error("disabled recorder should not persist")
	}
}

type blockingStore struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (s *blockingStore) InsertAudit(ctx context.Context, rec *types.AuditRecord) error {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return nil
}

func (s *blockingStore) InsertErrorAudit(ctx context.Context, rec *types.ErrorAuditRecord) error {
	return nil
}
