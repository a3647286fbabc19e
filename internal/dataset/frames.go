package dataset

import (
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/potionwatch/internal/upstream"
)

// LevelFrame is one parsed sample of every cauldron's fill level.
// Frames are immutable once indexed; callers must not modify Levels.
type LevelFrame struct {
	Time   time.Time
	Key    string // canonical timestamp, the exact lookup key
	Levels map[string]float64
}

// FrameIndex provides exact-match lookup of level frames by timestamp.
// A miss returns nil rather than an interpolated or nearest frame, so
// the dashboard can tell "no sample here" apart from "level is zero".
type FrameIndex struct {
	byKey   map[string]*LevelFrame
	ordered []*LevelFrame // ascending by Time
}

// NewFrameIndex parses and indexes raw frames. Duplicate timestamps keep
// the last sample seen. Frames with unparseable timestamps are dropped
// and reported in the returned count.
func NewFrameIndex(frames []upstream.Frame) (*FrameIndex, int) {
	byKey := make(map[string]*LevelFrame, len(frames))
	dropped := 0

	for _, f := range frames {
		t, err := ParseTimestamp(f.Timestamp)
		if err != nil {
			dropped++
			continue
		}
		lf := &LevelFrame{
			Time:   t,
			Key:    CanonicalTime(t),
			Levels: f.CauldronLevels,
		}
		byKey[lf.Key] = lf
	}

	ordered := make([]*LevelFrame, 0, len(byKey))
	for _, lf := range byKey {
		ordered = append(ordered, lf)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Time.Before(ordered[j].Time)
	})

	return &FrameIndex{byKey: byKey, ordered: ordered}, dropped
}

// At returns the frame whose timestamp exactly matches t, or nil.
func (ix *FrameIndex) At(t time.Time) *LevelFrame {
	if ix == nil {
		return nil
	}
	return ix.byKey[CanonicalTime(t)]
}

// AtKey returns the frame for a canonical timestamp string, or nil.
func (ix *FrameIndex) AtKey(key string) *LevelFrame {
	if ix == nil {
		return nil
	}
	return ix.byKey[key]
}

// Len returns the number of indexed frames.
func (ix *FrameIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.ordered)
}

// First returns the earliest frame, or nil if the index is empty.
func (ix *FrameIndex) First() *LevelFrame {
	if ix == nil || len(ix.ordered) == 0 {
		return nil
	}
	return ix.ordered[0]
}

// Last returns the latest frame, or nil if the index is empty.
func (ix *FrameIndex) Last() *LevelFrame {
	if ix == nil || len(ix.ordered) == 0 {
		return nil
	}
	return ix.ordered[len(ix.ordered)-1]
}

// All returns every frame in ascending time order. The returned slice is
// a copy; the frames it points to are shared and must not be modified.
func (ix *FrameIndex) All() []*LevelFrame {
	if ix == nil {
		return nil
	}
	out := make([]*LevelFrame, len(ix.ordered))
	copy(out, ix.ordered)
	return out
}

// Day returns all frames falling on the given calendar day, in order.
func (ix *FrameIndex) Day(day string) ([]*LevelFrame, error) {
	if ix == nil {
		return nil, nil
	}
	start, err := ParseDay(day)
	if err != nil {
		return nil, err
	}
	end := start.Add(24 * time.Hour)

	lo := sort.Search(len(ix.ordered), func(i int) bool {
		return !ix.ordered[i].Time.Before(start)
	})
	hi := sort.Search(len(ix.ordered), func(i int) bool {
		return !ix.ordered[i].Time.Before(end)
	})
	if lo >= hi {
		return nil, nil
	}
	out := make([]*LevelFrame, hi-lo)
	copy(out, ix.ordered[lo:hi])
	return out, nil
}

// Series returns the level of one cauldron across all frames, in time
// order, skipping frames that carry no sample for it.
func (ix *FrameIndex) Series(cauldronID string) []SeriesPoint {
	if ix == nil {
		return nil
	}
	out := make([]SeriesPoint, 0, len(ix.ordered))
	for _, lf := range ix.ordered {
		if level, ok := lf.Levels[cauldronID]; ok {
			out = append(out, SeriesPoint{Time: lf.Time, Level: level})
		}
	}
	return out
}

// SeriesPoint is one (time, level) sample for a single cauldron.
type SeriesPoint struct {
	Time  time.Time
	Level float64
}

// CauldronIDs returns every cauldron ID that appears in any frame,
// sorted. The sample stream decides the set, not the directory, so
// cauldrons missing from the directory still get analyzed.
func (ix *FrameIndex) CauldronIDs() []string {
	if ix == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, lf := range ix.ordered {
		for id := range lf.Levels {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer for debug logging.
func (f *LevelFrame) String() string {
	return fmt.Sprintf("frame %s (%d cauldrons)", f.Key, len(f.Levels))
}
