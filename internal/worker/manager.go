package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pyxis/internal/logging"
	"pyxis/internal/registry"
	"pyxis/internal/services"
)

// Processor claims and runs the next pending batch. A nil batch means the
// queue is empty. A non-nil batch with an error means the batch was claimed
// and then failed; the failure is already recorded on the batch.
type Processor interface {
	ProcessNext(ctx context.Context) (*registry.Batch, error)
}

// Manager runs a fixed number of worker loops that drain pending batches.
type Manager struct {
	processor    Processor
	logger       *slog.Logger
	workers      int
	pollInterval time.Duration
	errorRetry   time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error

	completed atomic.Int64
	failed    atomic.Int64
}

// StatusSummary reports worker progress since Start.
type StatusSummary struct {
	Running   bool
	Workers   int
	Completed int64
	Failed    int64
	LastError string
}

// NewManager constructs a manager. Non-positive workers fall back to one and a
// non-positive poll interval to one second.
func NewManager(processor Processor, workers int, pollInterval time.Duration, logger *slog.Logger) *Manager {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		processor:    processor,
		logger:       logging.NewComponentLogger(logger, "worker"),
		workers:      workers,
		pollInterval: pollInterval,
		errorRetry:   pollInterval * 5,
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("worker already running")
	}
	if m.processor == nil {
		m.mu.Unlock()
		return errors.New("worker processor not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers)
	m.mu.Unlock()

	for slot := range m.workers {
		go m.runLoop(runCtx, slot)
	}
	m.logger.Info("worker loops started",
		logging.Int("workers", m.workers),
		logging.Duration("poll_interval", m.pollInterval),
		logging.String(logging.FieldEventType, "worker_started"),
	)
	return nil
}

// Stop stops claiming new batches and waits for in-flight batches to finish.
// A claimed batch is not cancelled; it commits or fails as it would have.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Status returns a snapshot of worker progress.
func (m *Manager) Status() StatusSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := StatusSummary{
		Running:   m.running,
		Workers:   m.workers,
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	return summary
}

// Drain processes pending batches on the caller's goroutine until none remain
// or ctx ends. It returns how many batches completed and failed.
func (m *Manager) Drain(ctx context.Context) (completed, failed int, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return completed, failed, err
		}
		batch, procErr := m.processor.ProcessNext(m.correlate(ctx))
		switch {
		case batch == nil && procErr != nil:
			return completed, failed, fmt.Errorf("claim next batch: %w", procErr)
		case batch == nil:
			return completed, failed, nil
		case procErr != nil:
			failed++
		default:
			completed++
		}
	}
}

func (m *Manager) runLoop(ctx context.Context, slot int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", slot))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := m.processor.ProcessNext(m.correlate(ctx))
		if batch == nil && err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if batch == nil {
			m.waitForBatchOrShutdown(ctx)
			continue
		}
		if err != nil {
			m.failed.Add(1)
			m.setLastError(err)
			continue
		}
		m.completed.Add(1)
	}
}

// correlate tags each claim attempt so every log line from one batch run can
// be grouped.
func (m *Manager) correlate(ctx context.Context) context.Context {
	return services.WithRequestID(ctx, uuid.NewString())
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next batch",
		logging.Error(err),
		logging.String(logging.FieldEventType, "batch_claim_failed"),
		logging.String(logging.FieldErrorHint, "check registry database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.errorRetry):
	}
}

func (m *Manager) waitForBatchOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
