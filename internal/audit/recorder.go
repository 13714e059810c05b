// Package audit records the outcome of every request. Recording is
// asynchronous and never affects the response sent to the client.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/prompt-gateway/internal/types"
)

// Store persists audit records. Inserts are append-only.
type Store interface {
	InsertAudit(ctx context.Context, rec *types.AuditRecord) error
	InsertErrorAudit(ctx context.Context, rec *types.ErrorAuditRecord) error
}

// Publisher delivers audit payloads to a topic, fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Failure stages reported to the OnFailure hook.
const (
	StageDropped = "dropped"
	StagePersist = "persist"
	StagePublish = "publish"
	StagePanic   = "panic"
)

type Config struct {
	Enabled      bool
	AsyncBuffer  int
	WriteTimeout time.Duration
	SuccessTopic string
	FailureTopic string
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
		SuccessTopic: "audit.completed",
		FailureTopic: "audit.failed",
	}
}

type job struct {
	success *types.AuditRecord
	failure *types.ErrorAuditRecord
}

func (j job) ids() (id, requestID string) {
	if j.success != nil {
		return j.success.ID, j.success.RequestID
	}
	return j.failure.ID, j.failure.RequestID
}

// Recorder writes audit records from a single background worker.
type Recorder struct {
	store     Store
	publisher Publisher
	cfg       Config
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
	wg     sync.WaitGroup

	onFailure func(stage string)
}

// NewRecorder starts the background worker. A nil publisher disables
// publishing.
func NewRecorder(store Store, publisher Publisher, cfg Config, logger *slog.Logger) *Recorder {
	def := DefaultConfig()
	if cfg.AsyncBuffer <= 0 {
		cfg.AsyncBuffer = def.AsyncBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SuccessTopic == "" {
		cfg.SuccessTopic = def.SuccessTopic
	}
	if cfg.FailureTopic == "" {
		cfg.FailureTopic = def.FailureTopic
	}
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "audit.recorder"),
		queue:     make(chan job, cfg.AsyncBuffer),
		done:      make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("audit recorder initialized",
		"enabled", cfg.Enabled,
		"async_buffer", cfg.AsyncBuffer,
		"write_timeout", cfg.WriteTimeout,
	)
	return r
}

// OnFailure registers a hook invoked with the failing stage. Must be called
// before records are submitted.
func (r *Recorder) OnFailure(fn func(stage string)) { r.onFailure = fn }

// RecordSuccess enqueues a success record and returns immediately.
func (r *Recorder) RecordSuccess(rec types.AuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.enqueue(job{success: &rec})
}

// RecordFailure enqueues an error record and returns immediately.
func (r *Recorder) RecordFailure(rec types.ErrorAuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.enqueue(job{failure: &rec})
}

func (r *Recorder) enqueue(j job) {
	if !r.cfg.Enabled {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, requestID := j.ids()
	if r.closed {
		r.logger.Warn("recorder shut down, dropping audit record",
			"record_id", id,
			"request_id", requestID,
		)
		r.fail(StageDropped)
		return
	}
	select {
	case r.queue <- j:
	default:
		r.logger.Error("audit queue full, dropping record",
			"record_id", id,
			"request_id", requestID,
			"queue_capacity", r.cfg.AsyncBuffer,
		)
		r.fail(StageDropped)
	}
}

// Close stops accepting records and waits until the queue is drained.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.logger.Info("shutting down audit recorder", "pending_count", len(r.queue))
	close(r.done)
	r.wg.Wait()
	r.logger.Info("audit recorder shut down complete")
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case j := <-r.queue:
			r.write(j)
		case <-r.done:
			for {
				select {
				case j := <-r.queue:
					r.write(j)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(j job) {
	id, requestID := j.ids()
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("panic while writing audit record",
				"record_id", id,
				"request_id", requestID,
				"panic", fmt.Sprint(v),
			)
			r.fail(StagePanic)
		}
	}()

	var (
		topic   string
		payload any
	)
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	var err error
	if j.success != nil {
		topic, payload = r.cfg.SuccessTopic, j.success
		err = r.store.InsertAudit(ctx, j.success)
	} else {
		topic, payload = r.cfg.FailureTopic, j.failure
		err = r.store.InsertErrorAudit(ctx, j.failure)
	}
	if err != nil {
		r.logger.Error("failed to persist audit record",
			"record_id", id,
			"request_id", requestID,
			"error", err,
		)
		r.fail(StagePersist)
	} else {
		r.logger.Debug("audit recorded",
			"record_id", id,
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to encode audit payload", "record_id", id, "error", err)
		r.fail(StagePublish)
		return
	}
	if err := r.publisher.Publish(ctx, topic, data); err != nil {
		r.logger.Warn("failed to publish audit record",
			"record_id", id,
			"request_id", requestID,
			"topic", topic,
			"error", err,
		)
		r.fail(StagePublish)
	}
}

func (r *Recorder) fail(stage string) {
	if r.onFailure != nil {
		r.onFailure(stage)
	}
}
