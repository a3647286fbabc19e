package dataset

import (
	"testing"
	"time"

	"github.com/mbd888/potionwatch/internal/upstream"
)

func rawFrames() []upstream.Frame {
	return []upstream.Frame{
		{Timestamp: "2025-11-01T00:02:00+00:00", CauldronLevels: map[string]float64{"C01": 12.0, "C02": 5.0}},
		{Timestamp: "2025-11-01T00:00:00+00:00", CauldronLevels: map[string]float64{"C01": 10.0, "C02": 5.0}},
		{Timestamp: "2025-11-01T00:01:00+00:00", CauldronLevels: map[string]float64{"C01": 11.0}},
		{Timestamp: "2025-11-02T00:00:00+00:00", CauldronLevels: map[string]float64{"C01": 40.0, "C02": 6.5}},
	}
}

func TestFrameIndex_ExactMatch(t *testing.T) {
	ix, dropped := NewFrameIndex(rawFrames())
	if dropped != 0 {
		t.Fatalf("unexpected drops: %d", dropped)
	}
	if ix.Len() != 4 {
		t.Fatalf("Len = %d, want 4", ix.Len())
	}

	at := time.Date(2025, 11, 1, 0, 1, 0, 0, time.UTC)
	frame := ix.At(at)
	if frame == nil {
		t.Fatal("expected frame at 00:01")
	}
	if frame.Levels["C01"] != 11.0 {
		t.Errorf("C01 = %f, want 11.0", frame.Levels["C01"])
	}
}

func TestFrameIndex_MissReturnsNil(t *testing.T) {
	ix, _ := NewFrameIndex(rawFrames())

	// 30 seconds off the minute grid: exact match only, no nearest-neighbor.
	at := time.Date(2025, 11, 1, 0, 1, 30, 0, time.UTC)
	if frame := ix.At(at); frame != nil {
		t.Errorf("expected nil for off-grid time, got %v", frame)
	}

	// Inside a gap between samples.
	at = time.Date(2025, 11, 1, 5, 0, 0, 0, time.UTC)
	if frame := ix.At(at); frame != nil {
		t.Errorf("expected nil inside gap, got %v", frame)
	}
}

func TestFrameIndex_OrderedAndBounds(t *testing.T) {
	ix, _ := NewFrameIndex(rawFrames())

	if got := ix.First().Key; got != "2025-11-01T00:00:00+00:00" {
		t.Errorf("First = %s", got)
	}
	if got := ix.Last().Key; got != "2025-11-02T00:00:00+00:00" {
		t.Errorf("Last = %s", got)
	}

	all := ix.All()
	for i := 1; i < len(all); i++ {
		if !all[i-1].Time.Before(all[i].Time) {
			t.Fatalf("frames out of order at %d", i)
		}
	}
}

func TestFrameIndex_DuplicateTimestampLastWins(t *testing.T) {
	frames := []upstream.Frame{
		{Timestamp: "2025-11-01T00:00:00+00:00", CauldronLevels: map[string]float64{"C01": 1.0}},
		{Timestamp: "2025-11-01T00:00:00+00:00", CauldronLevels: map[string]float64{"C01": 2.0}},
	}
	ix, _ := NewFrameIndex(frames)
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
	if got := ix.First().Levels["C01"]; got != 2.0 {
		t.Errorf("C01 = %f, want 2.0 (last wins)", got)
	}
}

func TestFrameIndex_DropsBadTimestamps(t *testing.T) {
	frames := append(rawFrames(), upstream.Frame{Timestamp: "garbage"})
	ix, dropped := NewFrameIndex(frames)
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if ix.Len() != 4 {
		t.Errorf("Len = %d, want 4", ix.Len())
	}
}

func TestFrameIndex_Day(t *testing.T) {
	ix, _ := NewFrameIndex(rawFrames())

	day1, err := ix.Day("2025-11-01")
	if err != nil {
		t.Fatalf("Day failed: %v", err)
	}
	if len(day1) != 3 {
		t.Errorf("day1 frames = %d, want 3", len(day1))
	}

	day2, _ := ix.Day("2025-11-02")
	if len(day2) != 1 {
		t.Errorf("day2 frames = %d, want 1", len(day2))
	}

	empty, _ := ix.Day("2025-12-25")
	if len(empty) != 0 {
		t.Errorf("empty day frames = %d, want 0", len(empty))
	}

	if _, err := ix.Day("bad-day"); err == nil {
		t.Error("expected error for malformed day")
	}
}

func TestFrameIndex_Series(t *testing.T) {
	ix, _ := NewFrameIndex(rawFrames())

	// C02 has no sample in the 00:01 frame; the series skips it.
	series := ix.Series("C02")
	if len(series) != 3 {
		t.Fatalf("series length = %d, want 3", len(series))
	}
	if series[0].Level != 5.0 || series[2].Level != 6.5 {
		t.Errorf("unexpected series: %+v", series)
	}
}

func TestFrameIndex_NilSafe(t *testing.T) {
	var ix *FrameIndex
	if ix.Len() != 0 || ix.At(time.Now()) != nil || ix.First() != nil {
		t.Error("nil index should behave as empty")
	}
}

func TestFrameIndex_CauldronIDs(t *testing.T) {
	ix, _ := NewFrameIndex(rawFrames())
	ids := ix.CauldronIDs()
	if len(ids) != 2 || ids[0] != "C01" || ids[1] != "C02" {
		t.Errorf("CauldronIDs = %v", ids)
	}

	var nilIx *FrameIndex
	if got := nilIx.CauldronIDs(); got != nil {
		t.Errorf("nil index CauldronIDs = %v", got)
	}
}
