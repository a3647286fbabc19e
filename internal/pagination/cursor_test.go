package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicket struct {
	id   string
	date time.Time
}

func ticketsEveryMinute(n int) []fakeTicket {
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	out := make([]fakeTicket, n)
	for i := range out {
		out[i] = fakeTicket{
			id:   "TT-" + string(rune('a'+i)),
			date: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestCursorRoundTrip(t *testing.T) {
	date := time.Date(2025, 11, 3, 10, 30, 0, 0, time.UTC)

	cur, err := Decode(Encode(date, "TT-10023"))
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.True(t, date.Equal(cur.Date), "date changed through the cursor: %v", cur.Date)
	assert.Equal(t, "TT-10023", cur.TicketID)
}

func TestDecodeFirstPage(t *testing.T) {
	cur, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, cur, "empty cursor means first page, not an error")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, bad := range []string{
		"%%%not-base64%%%",
		"bm9waXBl",     // decodes, but has no separator
		"eHxUVC0x",     // "x|TT-1": non-numeric date part
		"MTIzNDU2Nzh8", // "12345678|": separator but empty id
	} {
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrBadCursor, "input %q", bad)
	}
}

func TestComputePageLastPage(t *testing.T) {
	recs := ticketsEveryMinute(3)

	page, cur, more := ComputePage(recs, 5, func(r fakeTicket) (time.Time, string) {
		return r.date, r.id
	})
	assert.Len(t, page, 3)
	assert.Empty(t, cur)
	assert.False(t, more)
}

func TestComputePageOverfetch(t *testing.T) {
	// limit+1 records fetched: the extra one proves more pages exist.
	recs := ticketsEveryMinute(4)

	page, cur, more := ComputePage(recs, 3, func(r fakeTicket) (time.Time, string) {
		return r.date, r.id
	})
	require.Len(t, page, 3)
	assert.True(t, more)

	decoded, err := Decode(cur)
	require.NoError(t, err)
	assert.Equal(t, page[2].id, decoded.TicketID, "cursor must point at the page's last ticket")
	assert.True(t, page[2].date.Equal(decoded.Date))
}

func TestComputePageExactlyFull(t *testing.T) {
	// Exactly limit records: a full page, but nothing after it.
	recs := ticketsEveryMinute(3)

	page, cur, more := ComputePage(recs, 3, func(r fakeTicket) (time.Time, string) {
		return r.date, r.id
	})
	assert.Len(t, page, 3)
	assert.Empty(t, cur)
	assert.False(t, more)
}
