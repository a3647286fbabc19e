package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{APIURL: ts.URL}
	client := NewPotionwatchClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func runningClockJSON() map[string]any {
	return map[string]any{
		"has_range":        true,
		"start":            "2025-11-01T00:00:00+00:00",
		"end":              "2025-11-07T23:59:00+00:00",
		"now":              "2025-11-03T14:05:00+00:00",
		"offset_minutes":   3725,
		"total_minutes":    10079,
		"interval_minutes": 1,
		"speed":            60,
		"paused":           false,
		"at_end":           false,
	}
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "no_range",
			"message": "clock has no dataset range to seek in",
		})
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	_, err := client.GetClock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "clock has no dataset range to seek in")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	_, err := client.GetClock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewPotionwatchClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.GetClock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := client.GetClock(ctx)
	require.Error(t, err)
}

func TestClient_SeekClock_MinuteBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/clock/seek", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, float64(90), m["minute"])
		_, hasTS := m["ts"]
		assert.False(t, hasTS, "ts should not be sent for a minute seek")

		_ = json.NewEncoder(w).Encode(runningClockJSON())
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	minute := 90
	_, err := client.SeekClock(context.Background(), &minute, "")
	require.NoError(t, err)
}

func TestClient_SeekClock_TimestampBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, "2025-11-03T14:00:00+00:00", m["ts"])
		_, hasMinute := m["minute"]
		assert.False(t, hasMinute, "minute should not be sent for a timestamp seek")

		_ = json.NewEncoder(w).Encode(runningClockJSON())
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	_, err := client.SeekClock(context.Background(), nil, "2025-11-03T14:00:00+00:00")
	require.NoError(t, err)
}

func TestClient_SetPaused_Paths(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(runningClockJSON())
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})

	_, err := client.SetPaused(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "/v1/clock/play", gotPath)

	_, err = client.SetPaused(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "/v1/clock/pause", gotPath)
}

func TestClient_SetSpeed_Body(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/clock/speed", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var m map[string]int
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, 60, m["multiplier"])

		_ = json.NewEncoder(w).Encode(runningClockJSON())
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	_, err := client.SetSpeed(context.Background(), 60)
	require.NoError(t, err)
}

func TestClient_GetLevelsAt_QueryParam(t *testing.T) {
	const stamp = "2025-11-01T06:00:00+00:00"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The + in the offset must survive URL encoding.
		assert.Equal(t, stamp, r.URL.Query().Get("ts"))
		_ = json.NewEncoder(w).Encode(map[string]any{"timestamp": stamp, "found": false})
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	_, err := client.GetLevelsAt(context.Background(), stamp)
	require.NoError(t, err)
}

func TestClient_AuditDay_Path(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audit/2025-11-03", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"report": map[string]any{"date": "2025-11-03"}})
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	_, err := client.AuditDay(context.Background(), "2025-11-03")
	require.NoError(t, err)
}

func TestClient_FlaggedDays_LimitParam(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"reports": []any{}, "count": 0})
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	_, err := client.FlaggedDays(context.Background(), 10)
	require.NoError(t, err)
}

func TestClient_FlaggedDays_ZeroLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("limit"), "limit=0 should not be sent")
		_ = json.NewEncoder(w).Encode(map[string]any{"reports": []any{}, "count": 0})
	}))
	defer ts.Close()

	client := NewPotionwatchClient(Config{APIURL: ts.URL})
	_, err := client.FlaggedDays(context.Background(), 0)
	require.NoError(t, err)
}

// ============================================================
// Handler: get_clock
// ============================================================

func TestHandleGetClock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(runningClockJSON())
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetClock(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Playback clock")
	assert.Contains(t, text, "2025-11-01T00:00:00+00:00 .. 2025-11-07T23:59:00+00:00")
	assert.Contains(t, text, "minute 3725 of 10079")
	assert.Contains(t, text, "60x")
	assert.Contains(t, text, "playing")
}

func TestHandleGetClock_PausedAtEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock", func(w http.ResponseWriter, r *http.Request) {
		st := runningClockJSON()
		st["paused"] = true
		st["at_end"] = true
		_ = json.NewEncoder(w).Encode(st)
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetClock(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "paused, at end of range")
}

func TestHandleGetClock_NoRange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"has_range": false})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetClock(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no dataset range")
}

func TestHandleGetClock_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "internal", "message": "catalog not ready"})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetClock(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "catalog not ready")
}

// ============================================================
// Handler: seek_clock
// ============================================================

func TestHandleSeekClock_ByMinute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock/seek", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, float64(240), m["minute"])

		st := runningClockJSON()
		st["offset_minutes"] = 240
		st["now"] = "2025-11-01T04:00:00+00:00"
		_ = json.NewEncoder(w).Encode(st)
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleSeekClock(context.Background(), makeRequest(map[string]any{
		"minute": float64(240),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Clock moved")
	assert.Contains(t, text, "2025-11-01T04:00:00+00:00")
	assert.Contains(t, text, "minute 240")
}

func TestHandleSeekClock_MinuteZero(t *testing.T) {
	var gotMinute atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock/seek", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		if v, ok := m["minute"]; ok && v == float64(0) {
			gotMinute.Store(true)
		}
		_ = json.NewEncoder(w).Encode(runningClockJSON())
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleSeekClock(context.Background(), makeRequest(map[string]any{
		"minute": float64(0),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.True(t, gotMinute.Load(), "minute 0 must reach the service")
}

func TestHandleSeekClock_ByTimestamp(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock/seek", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, "2025-11-03T14:00:00+00:00", m["ts"])

		_ = json.NewEncoder(w).Encode(runningClockJSON())
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleSeekClock(context.Background(), makeRequest(map[string]any{
		"timestamp": "2025-11-03T14:00:00+00:00",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestHandleSeekClock_MissingArgs(t *testing.T) {
	h := NewHandlers(NewPotionwatchClient(Config{}))
	result, err := h.HandleSeekClock(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "either minute or timestamp is required")
}

func TestHandleSeekClock_NoRange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock/seek", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "no_range",
			"message": "no dataset range loaded yet",
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleSeekClock(context.Background(), makeRequest(map[string]any{
		"minute": float64(10),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Seek failed")
	assert.Contains(t, resultText(t, result), "no dataset range loaded yet")
}

// ============================================================
// Handler: set_playback
// ============================================================

func TestHandleSetPlayback_Play(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock/play", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(runningClockJSON())
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleSetPlayback(context.Background(), makeRequest(map[string]any{
		"action": "play",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "playing")
}

func TestHandleSetPlayback_PauseWithSpeed(t *testing.T) {
	var speedCalls, pauseCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock/speed", func(w http.ResponseWriter, r *http.Request) {
		speedCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var m map[string]int
		_ = json.Unmarshal(body, &m)
		assert.Equal(t, 360, m["multiplier"])
		_ = json.NewEncoder(w).Encode(runningClockJSON())
	})
	mux.HandleFunc("/v1/clock/pause", func(w http.ResponseWriter, r *http.Request) {
		pauseCalls.Add(1)
		st := runningClockJSON()
		st["paused"] = true
		st["speed"] = 360
		_ = json.NewEncoder(w).Encode(st)
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleSetPlayback(context.Background(), makeRequest(map[string]any{
		"action": "pause",
		"speed":  float64(360),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, int32(1), speedCalls.Load())
	assert.Equal(t, int32(1), pauseCalls.Load())

	text := resultText(t, result)
	assert.Contains(t, text, "360x")
	assert.Contains(t, text, "paused")
}

func TestHandleSetPlayback_MissingAction(t *testing.T) {
	h := NewHandlers(NewPotionwatchClient(Config{}))
	result, err := h.HandleSetPlayback(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "action is required")
}

func TestHandleSetPlayback_UnknownAction(t *testing.T) {
	h := NewHandlers(NewPotionwatchClient(Config{}))
	result, err := h.HandleSetPlayback(context.Background(), makeRequest(map[string]any{
		"action": "rewind",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unknown action")
}

func TestHandleSetPlayback_SpeedNotNumber(t *testing.T) {
	h := NewHandlers(NewPotionwatchClient(Config{}))
	result, err := h.HandleSetPlayback(context.Background(), makeRequest(map[string]any{
		"action": "play",
		"speed":  "fast",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "speed must be a number")
}

func TestHandleSetPlayback_SpeedRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/clock/speed", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_speed",
			"message": "speed must be a positive number of minutes per tick",
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleSetPlayback(context.Background(), makeRequest(map[string]any{
		"action": "play",
		"speed":  float64(0),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Failed to set speed")
	assert.Contains(t, resultText(t, result), "positive number of minutes")
}

// ============================================================
// Handler: list_cauldrons
// ============================================================

func TestHandleListCauldrons(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/cauldrons", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"cauldrons": []map[string]any{
				{"id": "C001", "name": "Old Iron Pot", "max_volume": 200.0, "latitude": 40.0123, "longitude": -83.1045},
				{"id": "C002", "name": "Copper Vat", "max_volume": 150.0, "latitude": 40.0500, "longitude": -83.0900},
			},
			"count": 2,
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleListCauldrons(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 cauldron(s)")
	assert.Contains(t, text, "Old Iron Pot (C001)")
	assert.Contains(t, text, "Capacity: 200 L")
	assert.Contains(t, text, "40.0123, -83.1045")
	assert.Contains(t, text, "Copper Vat (C002)")
}

func TestHandleListCauldrons_Empty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/cauldrons", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"cauldrons": []any{}, "count": 0})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleListCauldrons(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No cauldrons")
}

func TestHandleListCauldrons_DirectArray(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/cauldrons", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "C001", "name": "Solo Pot", "max_volume": 90.0},
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleListCauldrons(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Solo Pot")
}

func TestHandleListCauldrons_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/cauldrons", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "internal", "message": "directory unavailable"})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleListCauldrons(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "directory unavailable")
}

// ============================================================
// Handler: get_levels_at
// ============================================================

func TestHandleGetLevelsAt(t *testing.T) {
	const stamp = "2025-11-01T06:00:00+00:00"
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/levels/at", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, stamp, r.URL.Query().Get("ts"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"timestamp": stamp,
			"found":     true,
			"levels":    map[string]float64{"C002": 87.1, "C001": 142.5},
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetLevelsAt(context.Background(), makeRequest(map[string]any{
		"timestamp": stamp,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Levels at "+stamp)
	assert.Contains(t, text, "2 cauldron(s)")
	assert.Contains(t, text, "142.5 L")
	assert.Contains(t, text, "87.1 L")
	// Output is sorted by cauldron ID.
	assert.Less(t, strings.Index(text, "C001"), strings.Index(text, "C002"))
}

func TestHandleGetLevelsAt_Miss(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/levels/at", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"timestamp": "2025-10-01T00:00:00+00:00",
			"found":     false,
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetLevelsAt(context.Background(), makeRequest(map[string]any{
		"timestamp": "2025-10-01T00:00:00+00:00",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No sample at 2025-10-01T00:00:00+00:00")
}

func TestHandleGetLevelsAt_MissingTimestamp(t *testing.T) {
	h := NewHandlers(NewPotionwatchClient(Config{}))
	result, err := h.HandleGetLevelsAt(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "timestamp is required")
}

func TestHandleGetLevelsAt_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/levels/at", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_timestamp",
			"message": "ts must be an ISO timestamp",
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetLevelsAt(context.Background(), makeRequest(map[string]any{
		"timestamp": "not-a-time",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "ts must be an ISO timestamp")
}

// ============================================================
// Handler: audit_day
// ============================================================

func flaggedReportJSON() map[string]any {
	return map[string]any{
		"date":                   "2025-11-03",
		"has_data":               true,
		"total_calculated_drain": 412.5,
		"total_ticketed_drain":   398.2,
		"total_discrepancy":      14.3,
		"flagged_tickets_count":  1,
		"unlogged_drains_count":  1,
		"flagged_tickets": []map[string]any{
			{"ticket_id": "TT1042", "cauldron_id": "C003", "courier_id": "courier_2",
				"amount_collected": 9.5, "date": "2025-11-03T10:12:00+00:00"},
		},
		"unlogged_drains": []map[string]any{
			{"cauldron_id": "C005", "start_time": "2025-11-03T04:00:00+00:00",
				"end_time": "2025-11-03T04:45:00+00:00", "total_drain": 11.2},
		},
		"matches": []map[string]any{
			{"ticket_id": "TT1001", "cauldron_id": "C001", "amount_collected": 12.0,
				"drain_start": "2025-11-03T02:00:00+00:00", "drain_total": 12.1},
			{"ticket_id": "TT1002", "cauldron_id": "C002", "amount_collected": 8.0,
				"drain_start": "2025-11-03T06:30:00+00:00", "drain_total": 8.2},
		},
		"flagged": true,
	}
}

func TestHandleAuditDay(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/2025-11-03", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"report": flaggedReportJSON()})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleAuditDay(context.Background(), makeRequest(map[string]any{
		"date": "2025-11-03",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Audit for 2025-11-03: FLAGGED")
	assert.Contains(t, text, "Calculated drain: 412.5 L")
	assert.Contains(t, text, "Ticketed drain:   398.2 L")
	assert.Contains(t, text, "Discrepancy:      14.3 L")
	assert.Contains(t, text, "Matched tickets:  2")
	assert.Contains(t, text, "TT1042  cauldron C003  courier courier_2  9.5 L")
	assert.Contains(t, text, "C005  2025-11-03T04:00:00+00:00 .. 2025-11-03T04:45:00+00:00  11.2 L")
}

func TestHandleAuditDay_CleanDay(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/2025-11-04", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"report": map[string]any{
			"date":                   "2025-11-04",
			"has_data":               true,
			"total_calculated_drain": 300.0,
			"total_ticketed_drain":   300.2,
			"total_discrepancy":      0.2,
			"flagged":                false,
		}})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleAuditDay(context.Background(), makeRequest(map[string]any{
		"date": "2025-11-04",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "reconciles")
	assert.NotContains(t, text, "Flagged tickets")
	assert.NotContains(t, text, "Unlogged drains")
}

func TestHandleAuditDay_NoData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/2030-01-01", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"report": map[string]any{
			"date":     "2030-01-01",
			"has_data": false,
		}})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleAuditDay(context.Background(), makeRequest(map[string]any{
		"date": "2030-01-01",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No level data for 2030-01-01")
}

func TestHandleAuditDay_MissingDate(t *testing.T) {
	h := NewHandlers(NewPotionwatchClient(Config{}))
	result, err := h.HandleAuditDay(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "date is required")
}

func TestHandleAuditDay_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/nope", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_date",
			"message": "date must be YYYY-MM-DD",
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleAuditDay(context.Background(), makeRequest(map[string]any{
		"date": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "date must be YYYY-MM-DD")
}

// ============================================================
// Handler: find_flagged_tickets
// ============================================================

func TestHandleFindFlaggedTickets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/flagged", func(w http.ResponseWriter, r *http.Request) {
		second := map[string]any{
			"date":              "2025-11-05",
			"has_data":          true,
			"total_discrepancy": 6.1,
			"flagged_tickets": []map[string]any{
				{"ticket_id": "TT1203", "cauldron_id": "C002", "courier_id": "courier_1", "amount_collected": 6.1},
			},
			"flagged": true,
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"reports": []any{flaggedReportJSON(), second},
			"count":   2,
		})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleFindFlaggedTickets(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "2 flagged day(s), 2 flagged ticket(s)")
	assert.Contains(t, text, "2025-11-03 (discrepancy 14.3 L)")
	assert.Contains(t, text, "TT1042")
	assert.Contains(t, text, "plus 1 unlogged drain(s)")
	assert.Contains(t, text, "2025-11-05 (discrepancy 6.1 L)")
	assert.Contains(t, text, "TT1203")
}

func TestHandleFindFlaggedTickets_Empty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/flagged", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"reports": []any{}, "count": 0})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleFindFlaggedTickets(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No flagged days on record")
}

func TestHandleFindFlaggedTickets_DefaultLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/flagged", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "31", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"reports": []any{}, "count": 0})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	_, err := h.HandleFindFlaggedTickets(context.Background(), makeRequest(nil))
	require.NoError(t, err)
}

func TestHandleFindFlaggedTickets_PassesLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/flagged", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"reports": []any{}, "count": 0})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	_, err := h.HandleFindFlaggedTickets(context.Background(), makeRequest(map[string]any{
		"limit": float64(7),
	}))
	require.NoError(t, err)
}

func TestHandleFindFlaggedTickets_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audit/flagged", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "internal", "message": "store unavailable"})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleFindFlaggedTickets(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "store unavailable")
}

// ============================================================
// Handler: get_travel_time
// ============================================================

func travelTimesJSON() map[string]any {
	return map[string]any{
		"nodes": []string{"market", "C001", "C002"},
		"minutes": [][]any{
			{0.0, 12.0, 37.0},
			{12.0, 0.0, 25.0},
			{37.0, 25.0, 0.0},
		},
	}
}

func TestHandleGetTravelTime(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/network/travel-times", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(travelTimesJSON())
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetTravelTime(context.Background(), makeRequest(map[string]any{
		"from": "market",
		"to":   "C002",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "from market to C002: 37.0 minutes")
}

func TestHandleGetTravelTime_Unreachable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/network/travel-times", func(w http.ResponseWriter, r *http.Request) {
		tt := travelTimesJSON()
		tt["minutes"] = [][]any{
			{0.0, 12.0, nil},
			{12.0, 0.0, nil},
			{nil, nil, 0.0},
		}
		_ = json.NewEncoder(w).Encode(tt)
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetTravelTime(context.Background(), makeRequest(map[string]any{
		"from": "market",
		"to":   "C002",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No route between market and C002")
}

func TestHandleGetTravelTime_UnknownNode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/network/travel-times", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(travelTimesJSON())
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetTravelTime(context.Background(), makeRequest(map[string]any{
		"from": "C999",
		"to":   "market",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, `unknown facility "C999"`)
	assert.Contains(t, text, "market, C001, C002")
}

func TestHandleGetTravelTime_MissingArgs(t *testing.T) {
	h := NewHandlers(NewPotionwatchClient(Config{}))

	result, err := h.HandleGetTravelTime(context.Background(), makeRequest(map[string]any{"to": "market"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "from is required")

	result, err = h.HandleGetTravelTime(context.Background(), makeRequest(map[string]any{"from": "market"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "to is required")
}

func TestHandleGetTravelTime_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/network/travel-times", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "internal", "message": "network not loaded"})
	})

	h, cleanup := newTestSetup(mux)
	defer cleanup()

	result, err := h.HandleGetTravelTime(context.Background(), makeRequest(map[string]any{
		"from": "market",
		"to":   "C001",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "network not loaded")
}

// ============================================================
// Formatter helpers
// ============================================================

func TestFormatClockState_MalformedJSON(t *testing.T) {
	_, err := formatClockState(json.RawMessage(`{`))
	require.Error(t, err)
}

func TestParseCauldrons_Malformed(t *testing.T) {
	_, err := parseCauldrons(json.RawMessage(`"not a list"`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected cauldrons response format")
}

func TestParseDayReport_BareReport(t *testing.T) {
	raw, _ := json.Marshal(flaggedReportJSON())
	rep, err := parseDayReport(raw)
	require.NoError(t, err)
	assert.Equal(t, "2025-11-03", rep.Date)
	assert.True(t, rep.Flagged)
	assert.Len(t, rep.FlaggedTickets, 1)
}

func TestParseDayReport_Malformed(t *testing.T) {
	_, err := parseDayReport(json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected report response format")
}

func TestLookupTravelTime_Malformed(t *testing.T) {
	_, err := lookupTravelTime(json.RawMessage(`[]`), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected travel times response format")
}

func TestFormatFlaggedTickets_MalformedJSON(t *testing.T) {
	_, err := formatFlaggedTickets(json.RawMessage(`{`))
	require.Error(t, err)
}

func TestFormatLevels_MalformedJSON(t *testing.T) {
	_, err := formatLevels(json.RawMessage(`{`))
	require.Error(t, err)
}
