package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/2beens/posecoach/internal/progress"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// mockContextService implements contextService for tests.
type mockContextService struct {
	progress    *progress.Progress
	progressErr error
	streak      *StreakInfo
	streakErr   error
	history     []progress.HistoryEntry
	historyErr  error

	gotFrom, gotTo string
}

func (m *mockContextService) GetProgress(context.Context) (*progress.Progress, error) {
	return m.progress, m.progressErr
}

func (m *mockContextService) GetStreak(context.Context) (*StreakInfo, error) {
	return m.streak, m.streakErr
}

func (m *mockContextService) GetHistory(_ context.Context, from, to string) ([]progress.HistoryEntry, error) {
	m.gotFrom, m.gotTo = from, to
	return m.history, m.historyErr
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 content, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestHandler_GetProgressTool(t *testing.T) {
	t.Run("returns_progress", func(t *testing.T) {
		p := progress.New()
		p.Streak = 4
		h := NewHandler(&mockContextService{progress: p})
		res, _, err := h.GetProgressTool()(context.Background(), &mcp.CallToolRequest{}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.IsError {
			t.Fatalf("unexpected IsError")
		}
		got, err := progress.Parse([]byte(resultText(t, res)))
		if err != nil {
			t.Fatalf("parse result: %v", err)
		}
		if got.Streak != 4 {
			t.Fatalf("streak = %d, want 4", got.Streak)
		}
	})

	t.Run("returns_error", func(t *testing.T) {
		h := NewHandler(&mockContextService{progressErr: errors.New("file gone")})
		res, _, err := h.GetProgressTool()(context.Background(), &mcp.CallToolRequest{}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.IsError {
			t.Fatalf("expected IsError")
		}
		if text := resultText(t, res); text != "Error fetching progress: file gone" {
			t.Fatalf("content text = %q", text)
		}
	})
}

func TestHandler_GetStreakTool(t *testing.T) {
	h := NewHandler(&mockContextService{streak: &StreakInfo{Streak: 8, NextBadge: "gayatri", DaysToNext: 6}})
	res, _, err := h.GetStreakTool()(context.Background(), &mcp.CallToolRequest{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var info StreakInfo
	if err := json.Unmarshal([]byte(resultText(t, res)), &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if info.Streak != 8 || info.NextBadge != "gayatri" || info.DaysToNext != 6 {
		t.Fatalf("unexpected streak info: %+v", info)
	}

	h = NewHandler(&mockContextService{streakErr: errors.New("boom")})
	res, _, _ = h.GetStreakTool()(context.Background(), &mcp.CallToolRequest{}, nil)
	if !res.IsError {
		t.Fatalf("expected IsError")
	}
}

func TestHandler_GetHistoryTool(t *testing.T) {
	t.Run("invalid_from_date", func(t *testing.T) {
		h := NewHandler(&mockContextService{})
		res, _, _ := h.GetHistoryTool()(context.Background(), &mcp.CallToolRequest{}, HistoryInput{FromDate: "01/02/2025"})
		if !res.IsError || resultText(t, res) != "Invalid from_date: use YYYY-MM-DD" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("invalid_to_date", func(t *testing.T) {
		h := NewHandler(&mockContextService{})
		res, _, _ := h.GetHistoryTool()(context.Background(), &mcp.CallToolRequest{}, HistoryInput{ToDate: "tomorrow"})
		if !res.IsError || resultText(t, res) != "Invalid to_date: use YYYY-MM-DD" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})

	t.Run("returns_entries", func(t *testing.T) {
		svc := &mockContextService{history: []progress.HistoryEntry{
			{ID: "01J0", Date: "2025-03-02", Time: "07:00:00", Count: 1, Accuracy: 81.5},
		}}
		h := NewHandler(svc)
		res, _, err := h.GetHistoryTool()(context.Background(), &mcp.CallToolRequest{}, HistoryInput{FromDate: "2025-03-01", ToDate: "2025-03-31"})
		if err != nil || res.IsError {
			t.Fatalf("unexpected failure: %v %+v", err, res)
		}
		if svc.gotFrom != "2025-03-01" || svc.gotTo != "2025-03-31" {
			t.Fatalf("range not passed through: %s - %s", svc.gotFrom, svc.gotTo)
		}
		var entries []progress.HistoryEntry
		if err := json.Unmarshal([]byte(resultText(t, res)), &entries); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(entries) != 1 || entries[0].Accuracy != 81.5 {
			t.Fatalf("unexpected entries: %+v", entries)
		}
	})

	t.Run("service_error", func(t *testing.T) {
		h := NewHandler(&mockContextService{historyErr: errors.New("nope")})
		res, _, _ := h.GetHistoryTool()(context.Background(), &mcp.CallToolRequest{}, HistoryInput{})
		if !res.IsError || resultText(t, res) != "Error fetching history: nope" {
			t.Fatalf("unexpected result: %+v", res)
		}
	})
}
