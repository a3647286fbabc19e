package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/mbd888/potionwatch/internal/dataset"
	"github.com/mbd888/potionwatch/internal/upstream"
)

func frameIndex(t *testing.T, frames []upstream.Frame) *dataset.FrameIndex {
	t.Helper()
	ix, dropped := dataset.NewFrameIndex(frames)
	if dropped != 0 {
		t.Fatalf("dropped %d frames", dropped)
	}
	return ix
}

func ticketIndex(t *testing.T, tickets []upstream.Ticket) *dataset.TicketIndex {
	t.Helper()
	ix, errs := dataset.NewTicketIndex(tickets)
	if len(errs) != 0 {
		t.Fatalf("ticket errors: %v", errs)
	}
	return ix
}

// levels turns a run of minute samples starting at ts into frames for a
// single cauldron.
func levels(ts string, cauldronID string, values ...float64) []upstream.Frame {
	start, err := dataset.ParseTimestamp(ts)
	if err != nil {
		panic(err)
	}
	frames := make([]upstream.Frame, len(values))
	for i, v := range values {
		frames[i] = upstream.Frame{
			Timestamp:      dataset.CanonicalTime(start.Add(time.Duration(i) * time.Minute)),
			CauldronLevels: map[string]float64{cauldronID: v},
		}
	}
	return frames
}

// drainDay is a series that fills at 2 L/min, drains 10 L/min for two
// minutes, then resumes filling. The reconstructed event totals 20 L.
func drainDay(t *testing.T) *dataset.FrameIndex {
	t.Helper()
	return frameIndex(t, levels("2025-11-01T00:00:00+00:00", "C01",
		10, 12, 14, 16, 18, 20, // five +2 deltas set the baseline
		12, 4, // two -8 deltas: drain of 10 each
		6, 8, 10, // refills at baseline
	))
}

func TestBaselineFillRate(t *testing.T) {
	tests := []struct {
		name   string
		levels []float64
		want   float64
	}{
		{"steady fill", []float64{0, 2, 4, 6, 8}, 2},
		{"mode wins over outliers", []float64{0, 2, 4, 6, 20, 22, 24}, 2},
		{"tie breaks to smallest", []float64{0, 2, 4, 6, 9, 12, 15}, 2},
		{"never rises", []float64{10, 8, 6, 6}, 0},
		{"single sample", []float64{10}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var series []dataset.SeriesPoint
			base, _ := dataset.ParseTimestamp("2025-11-01T00:00:00+00:00")
			for i, v := range tt.levels {
				series = append(series, dataset.SeriesPoint{Time: base.Add(time.Duration(i) * time.Minute), Level: v})
			}
			if got := baselineFillRate(series); got != tt.want {
				t.Errorf("baselineFillRate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyze_MatchedTicketReconciles(t *testing.T) {
	frames := drainDay(t)
	tickets := ticketIndex(t, []upstream.Ticket{
		{TicketID: "TT-1", CauldronID: "C01", AmountCollected: 20, CourierID: "K1", Date: "2025-11-01"},
	})

	reports := NewEngine().Analyze(frames, tickets, []string{"2025-11-01"})
	if len(reports) != 1 {
		t.Fatalf("reports = %d", len(reports))
	}
	r := reports[0]

	if !r.HasData {
		t.Fatal("day has samples and tickets")
	}
	if r.TotalCalculated != 20 || r.TotalTicketed != 20 || r.Discrepancy != 0 {
		t.Errorf("totals = %v/%v/%v", r.TotalCalculated, r.TotalTicketed, r.Discrepancy)
	}
	if len(r.Matches) != 1 || r.FlaggedCount != 0 || r.UnloggedCount != 0 {
		t.Fatalf("reconciliation = %+v", r)
	}
	m := r.Matches[0]
	if m.TicketID != "TT-1" || m.DrainStart != "2025-11-01T00:06:00+00:00" || m.DrainTotal != 20 {
		t.Errorf("match = %+v", m)
	}
	if r.Flagged {
		t.Error("clean day must not be flagged")
	}
}

func TestAnalyze_ToleranceBoundary(t *testing.T) {
	frames := drainDay(t)

	// 20.4 against a 20 L event: off by 0.4, within 2% of 20.4.
	tickets := ticketIndex(t, []upstream.Ticket{
		{TicketID: "TT-1", CauldronID: "C01", AmountCollected: 20.4, Date: "2025-11-01"},
	})
	r := NewEngine().Analyze(frames, tickets, []string{"2025-11-01"})[0]
	if len(r.Matches) != 1 || r.FlaggedCount != 0 {
		t.Errorf("within tolerance should match: %+v", r)
	}

	// 21 against 20: off by 1, beyond 2% of 21.
	tickets = ticketIndex(t, []upstream.Ticket{
		{TicketID: "TT-2", CauldronID: "C01", AmountCollected: 21, Date: "2025-11-01"},
	})
	r = NewEngine().Analyze(frames, tickets, []string{"2025-11-01"})[0]
	if r.FlaggedCount != 1 || r.UnloggedCount != 1 {
		t.Errorf("out of tolerance should flag ticket and leave event: %+v", r)
	}
	if !r.Flagged {
		t.Error("day with flagged ticket must be flagged")
	}
}

func TestAnalyze_GhostTicketFlagged(t *testing.T) {
	// Steady fill, no drains at all.
	frames := frameIndex(t, levels("2025-11-01T00:00:00+00:00", "C01", 0, 2, 4, 6, 8))
	tickets := ticketIndex(t, []upstream.Ticket{
		{TicketID: "TT-9", CauldronID: "C01", AmountCollected: 50, CourierID: "K9", Date: "2025-11-01"},
	})

	r := NewEngine().Analyze(frames, tickets, []string{"2025-11-01"})[0]
	if r.FlaggedCount != 1 || r.FlaggedTickets[0].TicketID != "TT-9" {
		t.Fatalf("ghost ticket not flagged: %+v", r)
	}
	if r.Discrepancy != -50 {
		t.Errorf("discrepancy = %v, want -50", r.Discrepancy)
	}
	if !r.Flagged {
		t.Error("expected flagged day")
	}
}

func TestAnalyze_UnloggedDrain(t *testing.T) {
	frames := drainDay(t)
	r := NewEngine().Analyze(frames, ticketIndex(t, nil), []string{"2025-11-01"})[0]

	if r.UnloggedCount != 1 {
		t.Fatalf("unlogged = %+v", r.UnloggedDrains)
	}
	ev := r.UnloggedDrains[0]
	if ev.CauldronID != "C01" || ev.Total != 20 ||
		ev.Start != "2025-11-01T00:06:00+00:00" || ev.End != "2025-11-01T00:07:00+00:00" {
		t.Errorf("event = %+v", ev)
	}
	if !r.Flagged {
		t.Error("a drain nobody ticketed is exactly what flagging is for")
	}
}

func TestAnalyze_DiscrepancyThreshold(t *testing.T) {
	// Flat-by-one: fills +2 except one minute at +1, a 1 L shortfall.
	// That is a tiny drain event with no ticket, so test totals only
	// against a raised threshold engine that ignores the event count.
	frames := frameIndex(t, levels("2025-11-01T00:00:00+00:00", "C01", 0, 2, 4, 5, 7, 9))
	r := NewEngine().Analyze(frames, ticketIndex(t, nil), []string{"2025-11-01"})[0]

	if r.TotalCalculated != 1 {
		t.Fatalf("calculated = %v, want 1", r.TotalCalculated)
	}
	if math.Abs(r.Discrepancy) > DefaultDiscrepancyThreshold {
		t.Errorf("1 L is at the threshold, not above it: %v", r.Discrepancy)
	}
	// Still flagged: the shortfall shows up as an unticketed event.
	if !r.Flagged || r.UnloggedCount != 1 {
		t.Errorf("report = %+v", r)
	}
}

func TestAnalyze_BaselineSpansDays(t *testing.T) {
	// Day one teaches the 2 L/min baseline; day two only stalls and
	// drops. The stall itself reads as a 2 L/min drain.
	frames := frameIndex(t, append(
		levels("2025-11-01T00:00:00+00:00", "C01", 0, 2, 4, 6),
		levels("2025-11-02T00:00:00+00:00", "C01", 6, 4, 2)...,
	))
	r := NewEngine().Analyze(frames, ticketIndex(t, nil), []string{"2025-11-02"})[0]

	// Day two deltas: 0 (stall, 2 L short), -2, -2 (4 L short each).
	if r.TotalCalculated != 10 {
		t.Errorf("calculated = %v, want 10", r.TotalCalculated)
	}
	if r.UnloggedCount != 1 || r.UnloggedDrains[0].Total != 10 {
		t.Errorf("expected one 10 L event, got %+v", r.UnloggedDrains)
	}
	if r.UnloggedDrains[0].Start != "2025-11-02T00:00:00+00:00" {
		t.Errorf("event start = %s", r.UnloggedDrains[0].Start)
	}
}

func TestAnalyze_GapDoesNotSplitEvent(t *testing.T) {
	// The 00:07 sample is missing; the drain runs across the gap.
	frames := frameIndex(t, append(
		levels("2025-11-01T00:00:00+00:00", "C01", 10, 12, 14, 16, 18, 20, 12),
		levels("2025-11-01T00:08:00+00:00", "C01", 4, 6, 8)...,
	))
	r := NewEngine().Analyze(frames, ticketIndex(t, nil), []string{"2025-11-01"})[0]

	if r.UnloggedCount != 1 || r.UnloggedDrains[0].Total != 20 {
		t.Errorf("events = %+v", r.UnloggedDrains)
	}
}

func TestAnalyze_SeparateDrainsSeparateEvents(t *testing.T) {
	frames := frameIndex(t, levels("2025-11-01T00:00:00+00:00", "C01",
		10, 12, 14, 16, 18, 20, // baseline +2
		12, // drain of 10
		14, 16, // refill
		8,      // second drain of 10
		10, 12, // refill
	))
	r := NewEngine().Analyze(frames, ticketIndex(t, nil), []string{"2025-11-01"})[0]

	if r.UnloggedCount != 2 {
		t.Fatalf("events = %+v", r.UnloggedDrains)
	}
	if r.UnloggedDrains[0].Total != 10 || r.UnloggedDrains[1].Total != 10 {
		t.Errorf("events = %+v", r.UnloggedDrains)
	}
}

func TestAnalyze_OneEventCannotCoverTwoTickets(t *testing.T) {
	frames := drainDay(t)
	tickets := ticketIndex(t, []upstream.Ticket{
		{TicketID: "TT-1", CauldronID: "C01", AmountCollected: 20, Date: "2025-11-01"},
		{TicketID: "TT-2", CauldronID: "C01", AmountCollected: 20, Date: "2025-11-01"},
	})

	r := NewEngine().Analyze(frames, tickets, []string{"2025-11-01"})[0]
	if len(r.Matches) != 1 || r.Matches[0].TicketID != "TT-1" {
		t.Errorf("matches = %+v", r.Matches)
	}
	if r.FlaggedCount != 1 || r.FlaggedTickets[0].TicketID != "TT-2" {
		t.Errorf("flagged = %+v", r.FlaggedTickets)
	}
}

func TestAnalyze_EmptyDay(t *testing.T) {
	frames := drainDay(t)
	r := NewEngine().Analyze(frames, ticketIndex(t, nil), []string{"2025-12-25"})[0]

	if r.HasData {
		t.Error("no samples, no tickets, no data")
	}
	if r.Flagged {
		t.Error("a day with no data has nothing to flag")
	}
	if r.FlaggedTickets == nil || r.UnloggedDrains == nil || r.Matches == nil {
		t.Error("report lists must be empty, not absent")
	}
}

func TestAnalyze_NilIndexes(t *testing.T) {
	r := NewEngine().Analyze(nil, nil, []string{"2025-11-01"})[0]
	if r.HasData || r.Flagged {
		t.Errorf("report = %+v", r)
	}
}

func TestEngine_ThresholdOption(t *testing.T) {
	if e := NewEngine(WithDiscrepancyThreshold(50)); e.threshold != 50 {
		t.Errorf("threshold = %v", e.threshold)
	}
	if NewEngine(WithDiscrepancyThreshold(-1)).threshold != DefaultDiscrepancyThreshold {
		t.Error("non-positive thresholds fall back to the default")
	}
}
