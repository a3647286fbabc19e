package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the potionwatch MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetClock = mcp.NewTool("get_clock",
	mcp.WithDescription(
		"Read the playback clock: the dataset's time range, the current position, "+
			"speed, and whether playback is paused. Every other view is synchronized "+
			"to this clock, so check it first to know what moment you are looking at."),
)

var ToolSeekClock = mcp.NewTool("seek_clock",
	mcp.WithDescription(
		"Jump the playback clock to a point in the dataset. Give either a minute "+
			"offset from the start of the range or an absolute timestamp; the "+
			"timestamp wins if both are present. Seeking past the ends clamps."),
	mcp.WithNumber("minute",
		mcp.Description("Minute offset from the start of the dataset range (0 = start)")),
	mcp.WithString("timestamp",
		mcp.Description("Absolute timestamp inside the range, e.g. '2025-11-03T14:00:00+00:00'")),
)

var ToolSetPlayback = mcp.NewTool("set_playback",
	mcp.WithDescription(
		"Start or stop playback, optionally changing speed in the same call. "+
			"Speed is the number of dataset minutes each real-time tick advances, "+
			"one tick per second by default, so speed 60 replays an hour per second."),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("'play' to run the clock, 'pause' to freeze it"),
		mcp.Enum("play", "pause")),
	mcp.WithNumber("speed",
		mcp.Description("Playback speed multiplier, a positive integer (typical values: 1, 5, 15, 60, 360)")),
)

var ToolListCauldrons = mcp.NewTool("list_cauldrons",
	mcp.WithDescription(
		"List every brewing cauldron in the facility directory with its capacity "+
			"and map position. Cauldron IDs from this list are what the level and "+
			"audit tools key on."),
)

var ToolGetLevelsAt = mcp.NewTool("get_levels_at",
	mcp.WithDescription(
		"Read every cauldron's fill level at one exact sample timestamp. "+
			"Samples are minute resolution; a timestamp between samples or outside "+
			"the range comes back as not found rather than interpolated."),
	mcp.WithString("timestamp",
		mcp.Required(),
		mcp.Description("Sample timestamp, e.g. '2025-11-01T06:00:00+00:00'")),
)

var ToolAuditDay = mcp.NewTool("audit_day",
	mcp.WithDescription(
		"Reconcile one calendar day: compare the potion drained from every "+
			"cauldron against the transport tickets couriers logged. Reports "+
			"tickets no drain accounts for, drains no ticket covers, and the "+
			"day's total discrepancy."),
	mcp.WithString("date",
		mcp.Required(),
		mcp.Description("Calendar day to audit, in YYYY-MM-DD form")),
)

var ToolFindFlaggedTickets = mcp.NewTool("find_flagged_tickets",
	mcp.WithDescription(
		"List the transport tickets flagged across all audited days: tickets "+
			"claiming potion that never left the cauldron. Use audit_day first "+
			"if a specific day has not been audited yet."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of flagged day reports to include (default 31)")),
)

var ToolGetTravelTime = mcp.NewTool("get_travel_time",
	mcp.WithDescription(
		"Look up the fastest travel time between two facilities over the road "+
			"network. Facilities are cauldron IDs or 'market'. Useful for judging "+
			"whether a courier could plausibly have made a run."),
	mcp.WithString("from",
		mcp.Required(),
		mcp.Description("Starting facility ID (a cauldron ID or 'market')")),
	mcp.WithString("to",
		mcp.Required(),
		mcp.Description("Destination facility ID (a cauldron ID or 'market')")),
)
