package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/potionwatch/internal/dataset"
	"github.com/mbd888/potionwatch/internal/metrics"
	"github.com/mbd888/potionwatch/internal/scene"
	"github.com/mbd888/potionwatch/internal/syncutil"
	"github.com/mbd888/potionwatch/internal/traces"
)

// Service computes day audits on demand and caches the reports.
//
// Each stored report carries the catalog revision it was computed from.
// A report that trails the current revision is recomputed on the next
// request, so a dataset refresh invalidates every cached day at once.
// At most one computation per day runs at a time; concurrent requests
// for the same day wait and then read the fresh report.
type Service struct {
	catalog *dataset.Catalog
	engine  *Engine
	store   Store
	alerts  *Dispatcher
	logger  *slog.Logger
	days    *syncutil.ContextShardedMutex

	remoteURL string
	client    *http.Client

	onFlagged func(DayReport)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore sets the report store. Defaults to an in-memory store.
func WithStore(store Store) ServiceOption {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithAlerts attaches a dispatcher that is notified for every freshly
// computed flagged day.
func WithAlerts(d *Dispatcher) ServiceOption {
	return func(s *Service) { s.alerts = d }
}

// WithFlaggedHook registers a callback fired for every freshly computed
// flagged day, after alert dispatch. The realtime hub hangs off this.
func WithFlaggedHook(fn func(DayReport)) ServiceOption {
	return func(s *Service) { s.onFlagged = fn }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEngine replaces the default audit engine.
func WithEngine(e *Engine) ServiceOption {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithRemote delegates audit computation to an external analysis service
// that speaks the same POST /query_days surface. Reports still land in
// the local store and still raise alerts.
func WithRemote(baseURL string) ServiceOption {
	return func(s *Service) { s.remoteURL = baseURL }
}

// WithServiceClient sets the HTTP client used for delegated audits.
func WithServiceClient(client *http.Client) ServiceOption {
	return func(s *Service) {
		if client != nil {
			s.client = client
		}
	}
}

// NewService creates an audit service over the given catalog.
// The catalog is required; passing nil panics.
func NewService(catalog *dataset.Catalog, opts ...ServiceOption) *Service {
	if catalog == nil {
		panic("analysis: nil catalog")
	}
	s := &Service{
		catalog: catalog,
		engine:  NewEngine(),
		store:   NewMemoryStore(),
		logger:  slog.Default(),
		days:    &syncutil.ContextShardedMutex{},
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryDays audits the given days and returns one report per day, in
// request order. Cached reports at the current catalog revision are
// returned as-is; stale or missing days are recomputed.
func (s *Service) QueryDays(ctx context.Context, days []string) ([]DayReport, error) {
	reports := make([]DayReport, 0, len(days))
	for _, day := range days {
		report, err := s.queryDay(ctx, day)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Day audits a single day.
func (s *Service) Day(ctx context.Context, day string) (DayReport, error) {
	return s.queryDay(ctx, day)
}

func (s *Service) queryDay(ctx context.Context, day string) (DayReport, error) {
	unlock, err := s.days.LockContext(ctx, day)
	if err != nil {
		return DayReport{}, err
	}
	defer unlock()

	// The flight that held the lock before us may have already stored a
	// report at the current revision.
	revision := s.catalog.Revision()
	if rec, err := s.store.Get(ctx, day); err == nil && rec.Revision >= revision {
		return rec.Report, nil
	}

	ctx, span := traces.StartSpan(ctx, "analysis.audit_day",
		traces.Day(day), traces.DatasetRevision(revision))
	defer span.End()

	mode := "local"
	if s.remoteURL != "" {
		mode = "delegated"
	}

	timer := prometheus.NewTimer(metrics.AuditDuration)
	report, err := s.compute(ctx, day)
	timer.ObserveDuration()
	if err != nil {
		metrics.AuditRunsTotal.WithLabelValues(mode, "error").Inc()
		return DayReport{}, err
	}
	metrics.AuditRunsTotal.WithLabelValues(mode, "success").Inc()

	if err := s.store.Put(ctx, &StoredReport{
		Report:     report,
		Revision:   revision,
		ComputedAt: time.Now().UTC(),
	}); err != nil {
		// The store is a cache; a write failure costs a recompute, not
		// the response.
		s.logger.Warn("audit report store failed", "day", day, "error", err)
	}

	if report.Flagged {
		s.logger.Info("audit day flagged",
			"day", day,
			"discrepancy", report.Discrepancy,
			"flagged_tickets", report.FlaggedCount,
			"unlogged_drains", report.UnloggedCount)
		if s.alerts != nil {
			s.alerts.Notify(report)
		}
		if s.onFlagged != nil {
			s.onFlagged(report)
		}
	}
	return report, nil
}

func (s *Service) compute(ctx context.Context, day string) (DayReport, error) {
	if s.remoteURL != "" {
		return s.computeRemote(ctx, day)
	}
	reports := s.engine.Analyze(s.catalog.Frames(), s.catalog.Tickets(), []string{day})
	return reports[0], nil
}

// computeRemote asks the external analysis service for one day. The
// remote speaks the same query_days contract, so a report for the day is
// expected in the response; a remote that skips empty days yields an
// explicit no-data report instead.
func (s *Service) computeRemote(ctx context.Context, day string) (DayReport, error) {
	body, err := json.Marshal(map[string][]string{"days": {day}})
	if err != nil {
		return DayReport{}, fmt.Errorf("encode audit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.remoteURL+"/query_days", bytes.NewReader(body))
	if err != nil {
		return DayReport{}, fmt.Errorf("build audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return DayReport{}, fmt.Errorf("delegated audit for %s: %w", day, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return DayReport{}, fmt.Errorf("delegated audit for %s: status %d", day, resp.StatusCode)
	}

	var reports []DayReport
	if err := json.NewDecoder(resp.Body).Decode(&reports); err != nil {
		return DayReport{}, fmt.Errorf("decode delegated audit for %s: %w", day, err)
	}
	for _, r := range reports {
		if r.Date == day {
			return r, nil
		}
	}
	return emptyDayReport(day), nil
}

// AnnotateDay answers ticket annotations from already-stored reports. It
// never computes: the scene render path stays cheap, and a day nobody has
// audited simply shows unannotated tickets. Reports from an older catalog
// revision are still served; the sweep refreshes them in the background.
func (s *Service) AnnotateDay(day string) map[string]scene.TicketAnnotation {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec, err := s.store.Get(ctx, day)
	if err != nil {
		return nil
	}

	out := make(map[string]scene.TicketAnnotation,
		len(rec.Report.FlaggedTickets)+len(rec.Report.Matches))
	for _, ft := range rec.Report.FlaggedTickets {
		out[ft.TicketID] = scene.TicketAnnotation{Flagged: true}
	}
	for _, m := range rec.Report.Matches {
		a := out[m.TicketID]
		a.DrainStart = m.DrainStart
		out[m.TicketID] = a
	}
	return out
}

// FlaggedReports lists stored flagged reports, newest day first.
func (s *Service) FlaggedReports(ctx context.Context, limit int) ([]*StoredReport, error) {
	return s.store.ListFlagged(ctx, limit)
}

// Sweep audits every day in the loaded range, recomputing only days whose
// stored report trails the catalog revision. It returns the number of
// flagged days.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	r := s.catalog.Meta()
	if r == nil {
		return 0, nil
	}
	reports, err := s.QueryDays(ctx, r.Days())
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, rep := range reports {
		if rep.Flagged {
			flagged++
		}
	}
	return flagged, nil
}
