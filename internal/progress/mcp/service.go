package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/2beens/posecoach/internal/progress"
)

// ProgressReader is the read side of the progress service.
type ProgressReader interface {
	Get(ctx context.Context) (*progress.Progress, error)
	History(ctx context.Context, from, to string) ([]progress.HistoryEntry, error)
}

// StreakInfo summarizes the current streak and what comes next.
type StreakInfo struct {
	Streak         int      `json:"streak"`
	LastDate       *string  `json:"last_date"`
	PracticedToday bool     `json:"practiced_today"`
	Badges         []string `json:"badges"`
	NextBadge      string   `json:"next_badge,omitempty"`
	DaysToNext     int      `json:"days_to_next,omitempty"`
}

// contextService is what the Handler needs, so tests can swap it.
type contextService interface {
	GetProgress(ctx context.Context) (*progress.Progress, error)
	GetStreak(ctx context.Context) (*StreakInfo, error)
	GetHistory(ctx context.Context, from, to string) ([]progress.HistoryEntry, error)
}

// ContextService exposes progress data to MCP clients.
type ContextService struct {
	reader ProgressReader
	now    func() time.Time
}

func NewContextService(reader ProgressReader) *ContextService {
	return &ContextService{
		reader: reader,
		now:    time.Now,
	}
}

func (s *ContextService) GetProgress(ctx context.Context) (*progress.Progress, error) {
	return s.reader.Get(ctx)
}

func (s *ContextService) GetStreak(ctx context.Context) (*StreakInfo, error) {
	p, err := s.reader.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	info := &StreakInfo{
		Streak:   p.Streak,
		LastDate: p.LastDate,
		Badges:   p.Badges,
	}
	if p.LastDate != nil {
		info.PracticedToday = *p.LastDate == s.now().Format(progress.DateLayout)
	}
	for _, b := range progress.Badges {
		if b.Days > p.Streak {
			info.NextBadge = b.Name
			info.DaysToNext = b.Days - p.Streak
			break
		}
	}
	return info, nil
}

func (s *ContextService) GetHistory(ctx context.Context, from, to string) ([]progress.HistoryEntry, error) {
	return s.reader.History(ctx, from, to)
}
