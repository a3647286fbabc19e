package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *PotionwatchClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *PotionwatchClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetClock reads the playback clock.
func (h *Handlers) HandleGetClock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetClock(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read clock: %v", err)), nil
	}

	text, err := formatClockState(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse clock state: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleSeekClock jumps the clock to a minute offset or timestamp.
func (h *Handlers) HandleSeekClock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timestamp := req.GetString("timestamp", "")

	// minute 0 is a valid seek target, so presence matters, not value.
	var minute *int
	if v, ok := req.GetArguments()["minute"]; ok {
		if f, ok := v.(float64); ok {
			m := int(f)
			minute = &m
		}
	}

	if timestamp == "" && minute == nil {
		return mcp.NewToolResultError("either minute or timestamp is required"), nil
	}

	raw, err := h.client.SeekClock(ctx, minute, timestamp)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Seek failed: %v", err)), nil
	}

	text, err := formatClockState(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse clock state: %v", err)), nil
	}

	return mcp.NewToolResultText("Clock moved.\n\n" + text), nil
}

// HandleSetPlayback starts or stops playback, optionally changing speed first.
func (h *Handlers) HandleSetPlayback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := req.GetString("action", "")
	if action == "" {
		return mcp.NewToolResultError("action is required ('play' or 'pause')"), nil
	}
	if action != "play" && action != "pause" {
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q: use 'play' or 'pause'", action)), nil
	}

	// Apply the speed before unpausing so playback starts at the new rate.
	if v, ok := req.GetArguments()["speed"]; ok {
		f, ok := v.(float64)
		if !ok {
			return mcp.NewToolResultError("speed must be a number"), nil
		}
		if _, err := h.client.SetSpeed(ctx, int(f)); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to set speed: %v", err)), nil
		}
	}

	raw, err := h.client.SetPaused(ctx, action == "pause")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", action, err)), nil
	}

	text, err := formatClockState(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse clock state: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListCauldrons lists the cauldron directory.
func (h *Handlers) HandleListCauldrons(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListCauldrons(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list cauldrons: %v", err)), nil
	}

	text, err := formatCauldronList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse cauldrons: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetLevelsAt reads the level frame at one sample timestamp.
func (h *Handlers) HandleGetLevelsAt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timestamp := req.GetString("timestamp", "")
	if timestamp == "" {
		return mcp.NewToolResultError("timestamp is required"), nil
	}

	raw, err := h.client.GetLevelsAt(ctx, timestamp)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get levels: %v", err)), nil
	}

	text, err := formatLevels(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse levels: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleAuditDay reconciles one calendar day.
func (h *Handlers) HandleAuditDay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	date := req.GetString("date", "")
	if date == "" {
		return mcp.NewToolResultError("date is required (YYYY-MM-DD)"), nil
	}

	raw, err := h.client.AuditDay(ctx, date)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Audit failed: %v", err)), nil
	}

	text, err := formatDayReport(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse report: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleFindFlaggedTickets lists flagged tickets across all audited days.
func (h *Handlers) HandleFindFlaggedTickets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 31)

	raw, err := h.client.FlaggedDays(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch flagged days: %v", err)), nil
	}

	text, err := formatFlaggedTickets(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse flagged days: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetTravelTime looks up the fastest route between two facilities.
func (h *Handlers) HandleGetTravelTime(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from", "")
	if from == "" {
		return mcp.NewToolResultError("from is required"), nil
	}
	to := req.GetString("to", "")
	if to == "" {
		return mcp.NewToolResultError("to is required"), nil
	}

	raw, err := h.client.TravelTimes(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch travel times: %v", err)), nil
	}

	text, err := lookupTravelTime(raw, from, to)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type clockState struct {
	HasRange        bool   `json:"has_range"`
	Start           string `json:"start"`
	End             string `json:"end"`
	Now             string `json:"now"`
	OffsetMinutes   int    `json:"offset_minutes"`
	TotalMinutes    int    `json:"total_minutes"`
	IntervalMinutes int    `json:"interval_minutes"`
	Speed           int    `json:"speed"`
	Paused          bool   `json:"paused"`
	AtEnd           bool   `json:"at_end"`
}

func formatClockState(raw json.RawMessage) (string, error) {
	var st clockState
	if err := json.Unmarshal(raw, &st); err != nil {
		return "", err
	}

	if !st.HasRange {
		return "The clock has no dataset range yet. Nothing to play until the level series loads.", nil
	}

	state := "playing"
	if st.Paused {
		state = "paused"
	}
	if st.AtEnd {
		state += ", at end of range"
	}

	var sb strings.Builder
	sb.WriteString("Playback clock:\n")
	sb.WriteString(fmt.Sprintf("  Range: %s .. %s\n", st.Start, st.End))
	sb.WriteString(fmt.Sprintf("  Now:   %s (minute %d of %d)\n", st.Now, st.OffsetMinutes, st.TotalMinutes))
	sb.WriteString(fmt.Sprintf("  Speed: %dx | State: %s\n", st.Speed, state))
	return sb.String(), nil
}

type cauldronInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	MaxVolume float64 `json:"max_volume"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func formatCauldronList(raw json.RawMessage) (string, error) {
	cauldrons, err := parseCauldrons(raw)
	if err != nil {
		return "", err
	}
	if len(cauldrons) == 0 {
		return "No cauldrons in the directory yet.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d cauldron(s):\n\n", len(cauldrons)))
	for i, cd := range cauldrons {
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, cd.Name, cd.ID))
		sb.WriteString(fmt.Sprintf("   Capacity: %.0f L | Location: %.4f, %.4f\n", cd.MaxVolume, cd.Latitude, cd.Longitude))
	}
	return sb.String(), nil
}

func parseCauldrons(raw json.RawMessage) ([]cauldronInfo, error) {
	// Try as {"cauldrons": [...]}
	var wrapper struct {
		Cauldrons []cauldronInfo `json:"cauldrons"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Cauldrons != nil {
		return wrapper.Cauldrons, nil
	}

	// Try as direct array
	var arr []cauldronInfo
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, nil
	}

	return nil, fmt.Errorf("unexpected cauldrons response format")
}

func formatLevels(raw json.RawMessage) (string, error) {
	var resp struct {
		Timestamp string             `json:"timestamp"`
		Found     bool               `json:"found"`
		Levels    map[string]float64 `json:"levels"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if !resp.Found {
		return fmt.Sprintf(
			"No sample at %s. Samples are minute resolution; use get_clock to see the valid range.",
			resp.Timestamp), nil
	}

	ids := make([]string, 0, len(resp.Levels))
	for id := range resp.Levels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Levels at %s (%d cauldron(s)):\n", resp.Timestamp, len(ids)))
	for _, id := range ids {
		sb.WriteString(fmt.Sprintf("  %-10s %8.1f L\n", id, resp.Levels[id]))
	}
	return sb.String(), nil
}

type dayReport struct {
	Date            string  `json:"date"`
	HasData         bool    `json:"has_data"`
	TotalCalculated float64 `json:"total_calculated_drain"`
	TotalTicketed   float64 `json:"total_ticketed_drain"`
	Discrepancy     float64 `json:"total_discrepancy"`
	FlaggedTickets  []struct {
		TicketID   string  `json:"ticket_id"`
		CauldronID string  `json:"cauldron_id"`
		CourierID  string  `json:"courier_id"`
		Amount     float64 `json:"amount_collected"`
		Date       string  `json:"date"`
	} `json:"flagged_tickets"`
	UnloggedDrains []struct {
		CauldronID string  `json:"cauldron_id"`
		Start      string  `json:"start_time"`
		End        string  `json:"end_time"`
		Total      float64 `json:"total_drain"`
	} `json:"unlogged_drains"`
	Matches []struct {
		TicketID string `json:"ticket_id"`
	} `json:"matches"`
	Flagged bool `json:"flagged"`
}

func parseDayReport(raw json.RawMessage) (dayReport, error) {
	// Try as {"report": {...}}
	var wrapper struct {
		Report *dayReport `json:"report"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Report != nil {
		return *wrapper.Report, nil
	}

	// Try as a bare report
	var rep dayReport
	if err := json.Unmarshal(raw, &rep); err == nil && rep.Date != "" {
		return rep, nil
	}

	return dayReport{}, fmt.Errorf("unexpected report response format")
}

func formatDayReport(raw json.RawMessage) (string, error) {
	rep, err := parseDayReport(raw)
	if err != nil {
		return "", err
	}
	return renderDayReport(rep), nil
}

func renderDayReport(rep dayReport) string {
	if !rep.HasData {
		return fmt.Sprintf("No level data for %s; nothing to audit.", rep.Date)
	}

	verdict := "ticket log reconciles with observed drains"
	if rep.Flagged {
		verdict = "FLAGGED"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Audit for %s: %s\n", rep.Date, verdict))
	sb.WriteString(fmt.Sprintf("  Calculated drain: %.1f L\n", rep.TotalCalculated))
	sb.WriteString(fmt.Sprintf("  Ticketed drain:   %.1f L\n", rep.TotalTicketed))
	sb.WriteString(fmt.Sprintf("  Discrepancy:      %.1f L\n", rep.Discrepancy))
	sb.WriteString(fmt.Sprintf("  Matched tickets:  %d\n", len(rep.Matches)))

	if len(rep.FlaggedTickets) > 0 {
		sb.WriteString(fmt.Sprintf("\nFlagged tickets (%d), no drain accounts for them:\n", len(rep.FlaggedTickets)))
		for _, ft := range rep.FlaggedTickets {
			sb.WriteString(fmt.Sprintf("  %s  cauldron %s  courier %s  %.1f L  %s\n",
				ft.TicketID, ft.CauldronID, ft.CourierID, ft.Amount, ft.Date))
		}
	}

	if len(rep.UnloggedDrains) > 0 {
		sb.WriteString(fmt.Sprintf("\nUnlogged drains (%d), no ticket covers them:\n", len(rep.UnloggedDrains)))
		for _, d := range rep.UnloggedDrains {
			sb.WriteString(fmt.Sprintf("  %s  %s .. %s  %.1f L\n",
				d.CauldronID, d.Start, d.End, d.Total))
		}
	}

	return sb.String()
}

func formatFlaggedTickets(raw json.RawMessage) (string, error) {
	var resp struct {
		Reports []dayReport `json:"reports"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if len(resp.Reports) == 0 {
		return "No flagged days on record. Audit a day with audit_day, or wait for the next sweep.", nil
	}

	total := 0
	for _, rep := range resp.Reports {
		total += len(rep.FlaggedTickets)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d flagged day(s), %d flagged ticket(s):\n", len(resp.Reports), total))
	for _, rep := range resp.Reports {
		sb.WriteString(fmt.Sprintf("\n%s (discrepancy %.1f L):\n", rep.Date, rep.Discrepancy))
		for _, ft := range rep.FlaggedTickets {
			sb.WriteString(fmt.Sprintf("  %s  cauldron %s  courier %s  %.1f L\n",
				ft.TicketID, ft.CauldronID, ft.CourierID, ft.Amount))
		}
		if len(rep.UnloggedDrains) > 0 {
			sb.WriteString(fmt.Sprintf("  plus %d unlogged drain(s)\n", len(rep.UnloggedDrains)))
		}
	}
	return sb.String(), nil
}

func lookupTravelTime(raw json.RawMessage, from, to string) (string, error) {
	var m struct {
		Nodes   []string     `json:"nodes"`
		Minutes [][]*float64 `json:"minutes"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("unexpected travel times response format")
	}

	fi, ti := -1, -1
	for i, n := range m.Nodes {
		if n == from {
			fi = i
		}
		if n == to {
			ti = i
		}
	}
	if fi < 0 {
		return "", fmt.Errorf("unknown facility %q: the network knows %s", from, strings.Join(m.Nodes, ", "))
	}
	if ti < 0 {
		return "", fmt.Errorf("unknown facility %q: the network knows %s", to, strings.Join(m.Nodes, ", "))
	}
	if fi >= len(m.Minutes) || ti >= len(m.Minutes[fi]) {
		return "", fmt.Errorf("travel time matrix is malformed")
	}

	cell := m.Minutes[fi][ti]
	if cell == nil {
		return fmt.Sprintf("No route between %s and %s in the travel network.", from, to), nil
	}
	return fmt.Sprintf("Fastest travel time from %s to %s: %.1f minutes.", from, to, *cell), nil
}
