package analysis

import (
	"context"
	"errors"
	"time"
)

// ErrReportNotFound is returned when no report exists for a day.
var ErrReportNotFound = errors.New("audit report not found")

// StoredReport wraps a computed day report with its provenance. Revision
// records the dataset revision the report was computed from; a report
// whose revision trails the catalog is stale and gets recomputed.
type StoredReport struct {
	Report     DayReport `json:"report"`
	Revision   uint64    `json:"revision"`
	ComputedAt time.Time `json:"computed_at"`
}

// Store persists audit reports.
type Store interface {
	Get(ctx context.Context, day string) (*StoredReport, error)
	Put(ctx context.Context, rec *StoredReport) error
	ListFlagged(ctx context.Context, limit int) ([]*StoredReport, error)
}
