package analysis

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mbd888/potionwatch/internal/idgen"
	"github.com/mbd888/potionwatch/internal/metrics"
	"github.com/mbd888/potionwatch/internal/retry"
	"github.com/mbd888/potionwatch/internal/syncutil"
)

// AlertEventType marks the one alert event this service emits.
const AlertEventType = "audit.day_flagged"

// alertRetryBase is the initial backoff between delivery attempts.
// Tests shrink it.
var alertRetryBase = 500 * time.Millisecond

// Alert is the envelope POSTed to operator sinks when a day fails its
// audit.
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Report    DayReport `json:"report"`
}

// Dispatcher delivers audit alerts to operator-configured sink URLs.
// Deliveries are fire-and-forget with bounded retries; a slow or dead
// sink never blocks the audit path. Deliveries to the same sink are
// serialized so a sink is never hit concurrently.
type Dispatcher struct {
	sinks   []string
	secret  string
	client  *http.Client
	logger  *slog.Logger
	perSink *syncutil.ShardedMutex
	wg      sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherClient sets the HTTP client used for deliveries.
func WithDispatcherClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// NewDispatcher creates a dispatcher for the given sink URLs. The secret
// signs every payload; leave it empty to send unsigned.
func NewDispatcher(sinks []string, secret string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks:   sinks,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
		perSink: &syncutil.ShardedMutex{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify fans a flagged day report out to every sink. It returns
// immediately; deliveries run in the background.
func (d *Dispatcher) Notify(report DayReport) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	metrics.AuditAlertsTotal.Inc()

	alert := &Alert{
		ID:        idgen.WithPrefix("alr_"),
		Type:      AlertEventType,
		Timestamp: time.Now().UTC(),
		Report:    report,
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		d.logger.Warn("alert encode failed", "day", report.Date, "error", err)
		return
	}

	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(url string) {
			defer d.wg.Done()
			d.deliver(url, alert, payload)
		}(sink)
	}
}

// Wait blocks until every in-flight delivery has finished. Shutdown and
// tests use it; the serving path never does.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(url string, alert *Alert, payload []byte) {
	unlock := d.perSink.Lock(url)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := retry.Do(ctx, 3, alertRetryBase, func() error {
		return d.post(ctx, url, alert, payload)
	})
	if err != nil {
		metrics.AlertDeliveriesTotal.WithLabelValues("error").Inc()
		d.logger.Warn("alert delivery failed", "sink", url, "day", alert.Report.Date, "error", err)
		return
	}
	metrics.AlertDeliveriesTotal.WithLabelValues("success").Inc()
}

func (d *Dispatcher) post(ctx context.Context, url string, alert *Alert, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Potionwatch-Event", alert.Type)
	req.Header.Set("X-Potionwatch-Timestamp", fmt.Sprintf("%d", alert.Timestamp.Unix()))
	if d.secret != "" {
		req.Header.Set("X-Potionwatch-Signature", Sign(payload, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("sink returned status %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(err)
	}
	return err
}

// Sign computes the hex HMAC-SHA256 signature sinks use to verify a
// payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
