package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/potionwatch/internal/metrics"
	"github.com/mbd888/potionwatch/internal/traces"
	"github.com/mbd888/potionwatch/internal/upstream"
)

// Fetcher is the slice of the upstream client the loader needs.
type Fetcher interface {
	Metadata(ctx context.Context) (*upstream.Metadata, error)
	Frames(ctx context.Context) ([]upstream.Frame, error)
	Cauldrons(ctx context.Context) ([]upstream.Cauldron, error)
	Market(ctx context.Context) (*upstream.Market, error)
	Couriers(ctx context.Context) ([]upstream.Courier, error)
	Network(ctx context.Context) ([]upstream.Edge, error)
	Tickets(ctx context.Context) ([]upstream.Ticket, error)
}

// Loader fills the catalog from the upstream and keeps it fresh.
//
// The level series and its metadata are required; the directory, network,
// and ticket datasets load best-effort so a broken side endpoint never
// takes the dashboard down. On refresh, previously loaded data stays
// served until its replacement arrives intact.
type Loader struct {
	fetcher Fetcher
	catalog *Catalog
	logger  *slog.Logger

	// onRange fires after every successful metadata load with the parsed
	// range, so the clock can adopt new bounds without touching playback.
	onRange func(Range)

	mu      sync.Mutex // serializes refresh passes
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithRangeHook sets a callback fired with the parsed range after every
// successful metadata load.
func WithRangeHook(fn func(Range)) LoaderOption {
	return func(l *Loader) {
		l.onRange = fn
	}
}

// NewLoader creates a loader writing into catalog.
func NewLoader(fetcher Fetcher, catalog *Catalog, opts ...LoaderOption) *Loader {
	l := &Loader{
		fetcher: fetcher,
		catalog: catalog,
		logger:  slog.Default(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the periodic refresh loop. A non-positive interval
// disables background refresh entirely.
func (l *Loader) Start(interval time.Duration) {
	if interval <= 0 {
		close(l.done)
		return
	}
	l.started = true
	l.logger.Info("dataset refresh loop started", "interval", interval)
	go l.refreshLoop(interval)
}

// Stop halts the refresh loop and waits for it to exit.
func (l *Loader) Stop() {
	close(l.stop)
	if l.started {
		<-l.done
	}
}

func (l *Loader) refreshLoop(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := l.Refresh(ctx); err != nil {
				l.logger.Error("dataset refresh failed", "error", err)
			}
			cancel()
		}
	}
}

// Refresh runs one full load pass. Concurrent calls serialize; each pass
// fetches all datasets in parallel and swaps in whatever arrived intact.
// The returned error covers only the required datasets.
func (l *Loader) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, span := traces.StartSpan(ctx, "dataset.refresh")
	defer span.End()

	type result struct {
		name string
		err  error
	}
	results := make([]result, 7)

	var wg sync.WaitGroup
	run := func(slot int, name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[slot] = result{name: name, err: fn(ctx)}
		}()
	}

	run(0, NameMetadata, l.loadMetadata)
	run(1, NameFrames, l.loadFrames)
	run(2, NameCauldrons, l.loadCauldrons)
	run(3, NameMarket, l.loadMarket)
	run(4, NameCouriers, l.loadCouriers)
	run(5, NameNetwork, l.loadNetwork)
	run(6, NameTickets, l.loadTickets)
	wg.Wait()

	var required error
	for _, r := range results {
		if r.err == nil {
			continue
		}
		l.catalog.MarkFailed(r.name, r.err)
		l.logger.Warn("dataset load failed", "dataset", r.name, "error", r.err)
		if r.name == NameMetadata || r.name == NameFrames {
			required = fmt.Errorf("load %s: %w", r.name, r.err)
		}
	}

	if required != nil {
		metrics.DatasetRefreshesTotal.WithLabelValues("error").Inc()
		span.RecordError(required)
		return required
	}

	metrics.DatasetRefreshesTotal.WithLabelValues("success").Inc()
	l.logger.Info("dataset refresh complete",
		"revision", l.catalog.Revision(),
		"frames", l.catalog.Frames().Len(),
		"tickets", l.catalog.Tickets().Len(),
	)
	return nil
}

func (l *Loader) loadMetadata(ctx context.Context) error {
	md, err := l.fetcher.Metadata(ctx)
	if err != nil {
		return err
	}
	r, err := l.catalog.SetMetadata(*md)
	if err != nil {
		return err
	}
	if l.onRange != nil {
		l.onRange(*r)
	}
	return nil
}

func (l *Loader) loadFrames(ctx context.Context) error {
	frames, err := l.fetcher.Frames(ctx)
	if err != nil {
		return err
	}
	if dropped := l.catalog.SetFrames(frames); dropped > 0 {
		l.logger.Warn("dropped frames with bad timestamps", "count", dropped)
	}
	metrics.DatasetFrames.Set(float64(l.catalog.Frames().Len()))
	return nil
}

func (l *Loader) loadCauldrons(ctx context.Context) error {
	cauldrons, err := l.fetcher.Cauldrons(ctx)
	if err != nil {
		return err
	}
	l.catalog.SetCauldrons(cauldrons)
	return nil
}

func (l *Loader) loadMarket(ctx context.Context) error {
	m, err := l.fetcher.Market(ctx)
	if err != nil {
		return err
	}
	l.catalog.SetMarket(*m)
	return nil
}

func (l *Loader) loadCouriers(ctx context.Context) error {
	couriers, err := l.fetcher.Couriers(ctx)
	if err != nil {
		return err
	}
	l.catalog.SetCouriers(couriers)
	return nil
}

func (l *Loader) loadNetwork(ctx context.Context) error {
	edges, err := l.fetcher.Network(ctx)
	if err != nil {
		return err
	}
	l.catalog.SetNetwork(edges)
	return nil
}

func (l *Loader) loadTickets(ctx context.Context) error {
	tickets, err := l.fetcher.Tickets(ctx)
	if err != nil {
		return err
	}
	if errs := l.catalog.SetTickets(tickets); len(errs) > 0 {
		l.logger.Warn("dropped malformed tickets", "count", len(errs), "first", errs[0])
	}
	metrics.DatasetTickets.Set(float64(l.catalog.Tickets().Len()))
	return nil
}
