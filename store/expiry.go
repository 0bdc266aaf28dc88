package store

import (
	"context"
	"sync"
	"time"

	"github.com/invoiceflow/invoiceflow/core"
)

// ExpiryProcessor periodically fails reviews that sat in the queue past
// their deadline. Run one per deployment.
type ExpiryProcessor struct {
	store    Store
	logger   core.Logger
	interval time.Duration
	hours    int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewExpiryProcessor builds a processor that sweeps every interval and
// expires reviews older than hours.
func NewExpiryProcessor(s Store, interval time.Duration, hours int, logger core.Logger) *ExpiryProcessor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if hours <= 0 {
		hours = 72
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ExpiryProcessor{
		store:    s,
		logger:   logger,
		interval: interval,
		hours:    hours,
	}
}

// Start launches the background sweep loop. Calling Start on a running
// processor is a no-op.
func (p *ExpiryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(ctx)
	p.logger.Info("Review expiry processor started", map[string]interface{}{
		"interval":     p.interval.String(),
		"expiry_hours": p.hours,
	})
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (p *ExpiryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *ExpiryProcessor) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and returns the number of reviews expired.
func (p *ExpiryProcessor) Sweep(ctx context.Context) int {
	count, err := p.store.ExpireStale(ctx, p.hours)
	if err != nil {
		p.logger.Error("Expiry sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}
	if count > 0 {
		p.logger.Info("Expired stale reviews", map[string]interface{}{
			"count": count,
		})
	}
	return count
}
