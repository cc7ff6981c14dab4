package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer builds an MCP server with the practice progress tools.
// Mounted on the main service at /mcp and served over stdio by cmd/posecoach_mcp.
func NewServer(reader ProgressReader) *mcp.Server {
	h := NewHandler(NewContextService(reader))
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "posecoach-progress",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_progress",
		Description: "Returns the whole practice progress document: practiced dates, per-day session counts and best accuracy, badges, streak and last practice date.",
	}, h.GetProgressTool())

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_streak",
		Description: "Returns the current streak of consecutive practice days, whether today was practiced, the unlocked badges and the next badge with the days still needed.",
	}, h.GetStreakTool())

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_history",
		Description: "Returns every recorded session (id, date, time, count, accuracy) in a date range. Args: from_date, to_date (YYYY-MM-DD, both optional and inclusive).",
	}, h.GetHistoryTool())

	return s
}
