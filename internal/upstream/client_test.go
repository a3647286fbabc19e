package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestUpstream(t *testing.T, handler http.Handler) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(srv.URL, WithRetry(2, time.Millisecond))
	return srv, client
}

func TestClient_Metadata(t *testing.T) {
	_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/Data/metadata" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"start":"2025-11-01T00:00:00+00:00","end":"2025-11-08T00:00:00+00:00","interval_minutes":1,"unit":"liters"}`))
	}))

	md, err := client.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if md.Start != "2025-11-01T00:00:00+00:00" {
		t.Errorf("unexpected start: %s", md.Start)
	}
	if md.IntervalMinutes != 1 {
		t.Errorf("unexpected interval: %d", md.IntervalMinutes)
	}
	if md.Unit != "liters" {
		t.Errorf("unexpected unit: %s", md.Unit)
	}
}

func TestClient_Frames(t *testing.T) {
	_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"timestamp":"2025-11-01T00:00:00+00:00","cauldron_levels":{"C01":10.5,"C02":3.25}}]`))
	}))

	frames, err := client.Frames(context.Background())
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].CauldronLevels["C01"] != 10.5 {
		t.Errorf("unexpected level: %f", frames[0].CauldronLevels["C01"])
	}
}

func TestClient_TicketsWrapped(t *testing.T) {
	_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"metadata":{"count":2},"transport_tickets":[
			{"ticket_id":"TT-1","cauldron_id":"C01","amount_collected":40.0,"courier_id":"K1","date":"2025-11-03"},
			{"ticket_id":"TT-2","cauldron_id":"C02","amount_collected":12.5,"courier_id":"K2","date":"2025-11-03"}
		]}`))
	}))

	tickets, err := client.Tickets(context.Background())
	if err != nil {
		t.Fatalf("Tickets failed: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(tickets))
	}
	if tickets[0].TicketID != "TT-1" || tickets[0].AmountCollected != 40.0 {
		t.Errorf("unexpected ticket: %+v", tickets[0])
	}
}

func TestClient_TicketsBareList(t *testing.T) {
	_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"ticket_id":"TT-9","cauldron_id":"C03","amount_collected":7.0,"courier_id":"K1","date":"2025-11-04"}]`))
	}))

	tickets, err := client.Tickets(context.Background())
	if err != nil {
		t.Fatalf("Tickets failed: %v", err)
	}
	if len(tickets) != 1 || tickets[0].TicketID != "TT-9" {
		t.Errorf("unexpected tickets: %+v", tickets)
	}
}

func TestClient_NetworkBothShapes(t *testing.T) {
	shapes := []string{
		`{"edges":[{"from":"C01","to":"market","travel_time_minutes":17.5}]}`,
		`[{"from":"C01","to":"market","travel_time_minutes":17.5}]`,
	}

	for _, body := range shapes {
		payload := body
		_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(payload))
		}))

		edges, err := client.Network(context.Background())
		if err != nil {
			t.Fatalf("Network failed for %s: %v", payload, err)
		}
		if len(edges) != 1 || edges[0].TravelTimeMinutes != 17.5 {
			t.Errorf("unexpected edges for %s: %+v", payload, edges)
		}
	}
}

func TestClient_ServerErrorRetries(t *testing.T) {
	var calls atomic.Int32
	_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Metadata(context.Background())
	if err == nil {
		t.Fatal("expected error from 500 upstream")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts (retry once), got %d", got)
	}
}

func TestClient_ClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Metadata(context.Background())
	if err == nil {
		t.Fatal("expected error from 404 upstream")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", got)
	}
}

func TestClient_CircuitOpensAfterFailures(t *testing.T) {
	_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	// Breaker trips after 5 recorded failures for the endpoint.
	for i := 0; i < 5; i++ {
		if _, err := client.Metadata(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := client.Metadata(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once circuit is open, got %v", err)
	}
}

func TestClient_DecodeErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	_, client := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"start": not-json`))
	}))

	_, err := client.Metadata(context.Background())
	if err == nil {
		t.Fatal("expected decode error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt (no retry on decode failure), got %d", got)
	}
}
