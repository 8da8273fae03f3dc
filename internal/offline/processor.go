package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/franciscozunigap/sofinance/internal/errs"
	"github.com/franciscozunigap/sofinance/internal/log"
)

// Handler replays one queued operation of a given type.
type Handler func(ctx context.Context, op Operation) error

// ProcessorConfig holds configuration for the replay processor.
type ProcessorConfig struct {
	// PollInterval is how often the pending set is swept (default: 30s)
	PollInterval time.Duration

	// MaxRetries is the retry budget before an operation is parked as
	// failed. Zero retries forever; negative selects the default (5).
	MaxRetries int

	// BaseBackoff is the delay after the first failure; it doubles per
	// attempt (default: 5s)
	BaseBackoff time.Duration
}

// DefaultProcessorConfig returns sensible defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval: 30 * time.Second,
		MaxRetries:   5,
		BaseBackoff:  5 * time.Second,
	}
}

// Processor sweeps the pending queue and replays operations through
// registered handlers.
type Processor struct {
	queue    *Queue
	handlers map[string]Handler
	config   ProcessorConfig
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewProcessor(queue *Queue, config ProcessorConfig, logger *log.Logger) *Processor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultProcessorConfig().PollInterval
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultProcessorConfig().MaxRetries
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultProcessorConfig().BaseBackoff
	}
	return &Processor{
		queue:    queue,
		handlers: make(map[string]Handler),
		config:   config,
		logger:   logger.WithComponent(log.ComponentOffline),
		now:      time.Now,
	}
}

// Register installs the handler used to replay operations of the given type.
func (p *Processor) Register(opType string, h Handler) {
	p.handlers[opType] = h
}

// Start begins the sweep loop. Returns an error if already running.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("offline processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "offline processor started",
		"poll_interval", p.config.PollInterval,
		"max_retries", p.config.MaxRetries)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "offline processor stopped")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "offline processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning reports whether the sweep loop is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Sweep immediately on startup so a restart drains whatever
	// accumulated while the process was down.
	p.Sweep(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep replays every eligible pending operation once. It is safe to call
// from a scheduler as well as from the internal loop.
func (p *Processor) Sweep(ctx context.Context) {
	ops, err := p.queue.Pending(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to list pending operations",
			log.FieldError, err)
		return
	}
	if len(ops) == 0 {
		return
	}

	p.logger.DebugContext(ctx, "sweeping pending operations",
		log.FieldOperation, log.OpSweep, "count", len(ops))

	for _, op := range ops {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !p.due(op) {
			continue
		}
		p.replay(ctx, op)
	}
}

// maxBackoffShift caps the exponential delay so the shift can never
// overflow time.Duration on long retry streaks.
const maxBackoffShift = 16

// due applies exponential backoff between attempts.
func (p *Processor) due(op Operation) bool {
	if op.LastAttempt.IsZero() {
		return true
	}
	shift := op.RetryCount - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := p.config.BaseBackoff << uint(shift)
	return !p.now().Before(op.LastAttempt.Add(delay))
}

func (p *Processor) replay(ctx context.Context, op Operation) {
	handler, ok := p.handlers[op.Type]
	if !ok {
		p.park(ctx, op, fmt.Errorf("no handler for operation type %q", op.Type))
		return
	}

	err := handler(ctx, op)
	if err == nil {
		if err := p.queue.Remove(ctx, op.ID); err != nil {
			p.logger.ErrorContext(ctx, "failed to remove replayed operation",
				log.FieldOpID, op.ID, log.FieldError, err)
			return
		}
		p.logger.InfoContext(ctx, "operation replayed",
			log.FieldOperation, log.OpReplay,
			log.FieldOpID, op.ID,
			"type", op.Type,
			log.FieldRetryCount, op.RetryCount)
		return
	}

	if !errs.Retryable(err) || p.exhausted(op) {
		p.park(ctx, op, err)
		return
	}

	p.logger.WarnContext(ctx, "replay attempt failed",
		log.FieldOpID, op.ID,
		"type", op.Type,
		"attempt", op.RetryCount+1,
		log.FieldError, err)
	if err := p.queue.RecordFailure(ctx, op, err); err != nil {
		p.logger.ErrorContext(ctx, "failed to record replay failure",
			log.FieldOpID, op.ID, log.FieldError, err)
	}
}

// exhausted reports whether this attempt spends the last of the retry
// budget. A zero budget never exhausts.
func (p *Processor) exhausted(op Operation) bool {
	return p.config.MaxRetries > 0 && op.RetryCount+1 >= p.config.MaxRetries
}

// park moves an operation to the failed set when retries are exhausted or
// the failure is not retryable.
func (p *Processor) park(ctx context.Context, op Operation, cause error) {
	p.logger.ErrorContext(ctx, "operation failed permanently",
		log.FieldOpID, op.ID,
		"type", op.Type,
		"attempts", op.RetryCount+1,
		log.FieldError, cause)
	if err := p.queue.MarkFailed(ctx, op, cause); err != nil {
		p.logger.ErrorContext(ctx, "failed to park operation",
			log.FieldOpID, op.ID, log.FieldError, err)
	}
}
