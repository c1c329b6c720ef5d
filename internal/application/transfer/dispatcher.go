package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marshalcore/backend/internal/domain/transfer"
	applogger "github.com/marshalcore/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// ErrDispatcherClosed is returned when work is submitted after Stop
var ErrDispatcherClosed = errors.New("transfer: dispatcher is stopped")

// SplitProcessor is implemented by SplitOrchestrator
type SplitProcessor interface {
	Process(ctx context.Context, ref string, amount int64) (*SplitResult, error)
}

// FailedTransferRetrier is implemented by RetryCoordinator
type FailedTransferRetrier interface {
	RetryFailed(ctx context.Context, ref string, opts transfer.RetryOptions) (*SplitResult, error)
}

// DispatcherConfig holds configuration for the background dispatcher
type DispatcherConfig struct {
	// Timeout bounds each background run
	Timeout time.Duration
	// SweepInterval is the period of the recovery sweep; zero disables it
	SweepInterval time.Duration
	// SweepAge is how long a non-terminal row must be idle before the sweep picks it up
	SweepAge time.Duration
	// SweepBatchSize caps the payments handled per sweep
	SweepBatchSize int
	// MaxRetries matches the retry policy so exhausted rows are not swept
	MaxRetries int
}

// DefaultDispatcherConfig returns default configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Timeout:        2 * time.Minute,
		SweepInterval:  time.Minute,
		SweepAge:       5 * time.Minute,
		SweepBatchSize: 50,
		MaxRetries:     transfer.DefaultMaxRetries,
	}
}

// Dispatcher runs split and retry work in the background on a detached
// context, and periodically sweeps payments left with non-terminal rows.
type Dispatcher struct {
	processor SplitProcessor
	retrier   FailedTransferRetrier
	ledger    transfer.TransferLedger
	config    DispatcherConfig
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher
func NewDispatcher(
	processor SplitProcessor,
	retrier FailedTransferRetrier,
	ledger transfer.TransferLedger,
	config DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.SweepAge <= 0 {
		config.SweepAge = defaults.SweepAge
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = defaults.SweepBatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: processor,
		retrier:   retrier,
		ledger:    ledger,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// DispatchProcess runs SplitOrchestrator.Process in the background.
// ctx only contributes values such as the request logger; its cancellation is ignored.
func (d *Dispatcher) DispatchProcess(ctx context.Context, ref string, amount int64) error {
	return d.spawn(ctx, ref, "process", func(runCtx context.Context) (*SplitResult, error) {
		return d.processor.Process(runCtx, ref, amount)
	})
}

// DispatchRetry runs RetryCoordinator.RetryFailed in the background
func (d *Dispatcher) DispatchRetry(ctx context.Context, ref string, opts transfer.RetryOptions) error {
	return d.spawn(ctx, ref, "retry", func(runCtx context.Context) (*SplitResult, error) {
		return d.retrier.RetryFailed(runCtx, ref, opts)
	})
}

func (d *Dispatcher) spawn(ctx context.Context, ref, kind string, fn func(context.Context) (*SplitResult, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	log := applogger.FromContext(ctx, d.logger).With(applogger.PaymentReference(ref), zap.String("run", kind))
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.Timeout)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Error("Background split run panicked", zap.Any("panic", r))
			}
		}()

		res, err := fn(runCtx)
		if err != nil {
			if errors.Is(err, transfer.ErrLockNotAcquired) {
				log.Info("Background split run skipped, payment busy")
				return
			}
			log.Error("Background split run failed", zap.Error(err))
			return
		}
		log.Info("Background split run finished", zap.String("status", string(res.Status)))
	}()
	return nil
}

// Start launches the recovery sweep loop when an interval is configured
func (d *Dispatcher) Start(ctx context.Context) {
	if d.config.SweepInterval <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.sweepLoop(ctx)

	d.logger.Info("Split recovery sweep started",
		zap.Duration("interval", d.config.SweepInterval),
		zap.Duration("age", d.config.SweepAge),
		zap.Int("batch_size", d.config.SweepBatchSize))
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("Split recovery sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep retries, with backoff respected, every payment whose non-terminal
// rows have been idle longer than SweepAge. It returns the number of payments handled.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	refs, err := d.ledger.PaymentsNeedingAttention(ctx, transfer.AttentionQuery{
		UpdatedBefore: d.now().Add(-d.config.SweepAge),
		MaxRetries:    d.config.MaxRetries,
		Limit:         d.config.SweepBatchSize,
	})
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}
		log := d.logger.With(applogger.PaymentReference(ref))
		runCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
		res, err := d.retrier.RetryFailed(runCtx, ref, transfer.RetryOptions{RespectBackoff: true})
		cancel()
		switch {
		case errors.Is(err, transfer.ErrLockNotAcquired):
			log.Debug("Sweep skipped busy payment")
			continue
		case err != nil:
			log.Warn("Sweep retry failed", zap.Error(err))
			continue
		}
		handled++
		log.Info("Sweep retried payment", zap.String("status", string(res.Status)))
	}
	return handled, nil
}

// Stop rejects new work and waits for running work to finish or ctx to end
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Split dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
