package analysis

import (
	"context"
	"log/slog"
	"time"
)

// Timer periodically sweeps the loaded range so flagged days raise
// alerts without anyone asking for them. Days already audited at the
// current catalog revision cost a store read each, nothing more.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
}

// NewTimer creates a new audit sweep timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) sweep(ctx context.Context) {
	flagged, err := t.service.Sweep(ctx)
	if err != nil {
		t.logger.Warn("audit sweep failed", "error", err)
		return
	}
	if flagged > 0 {
		t.logger.Info("audit sweep found flagged days", "flagged", flagged)
	}
}
