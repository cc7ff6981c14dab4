package progress

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/2beens/posecoach/internal/telemetry/metrics"
	"github.com/2beens/posecoach/internal/telemetry/tracing"

	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidCount = errors.New("session count must be positive")

// Service owns every read-modify-write of the progress document.
type Service struct {
	mu      sync.Mutex
	repo    Repo
	metrics *metrics.Manager
	entropy io.Reader
}

func NewService(repo Repo, metrics *metrics.Manager) *Service {
	return &Service{
		repo:    repo,
		metrics: metrics,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *Service) Get(ctx context.Context) (_ *Progress, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progressService.get")
	defer tracing.EndSpanWithErrCheck(span, &err)

	return s.repo.Load(ctx)
}

// RecordSession adds count completed sessions at the given accuracy to the
// day of now and recalculates streak and badges.
func (s *Service) RecordSession(ctx context.Context, count int, accuracy float64, now time.Time) (_ *Progress, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progressService.recordSession")
	defer tracing.EndSpanWithErrCheck(span, &err)

	if count <= 0 {
		return nil, ErrInvalidCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return nil, fmt.Errorf("new history id: %w", err)
	}

	badgesBefore := len(p.Badges)
	p.record(id.String(), count, accuracy, now)

	if err := s.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}

	if s.metrics != nil {
		s.metrics.CounterSessionsRecorded.Add(float64(count))
		s.metrics.GaugeCurrentStreak.Set(float64(p.Streak))
	}

	log.Debugf("progress: recorded %d session(s) at %.2f%%, streak %d", count, accuracy, p.Streak)
	if len(p.Badges) > badgesBefore {
		log.Infof("progress: badges unlocked, now holding %v", p.Badges)
	}

	return p, nil
}

// Reset replaces the stored document with an empty one.
func (s *Service) Reset(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progressService.reset")
	defer tracing.EndSpanWithErrCheck(span, &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Save(ctx, New()); err != nil {
		return fmt.Errorf("save empty progress: %w", err)
	}
	if s.metrics != nil {
		s.metrics.GaugeCurrentStreak.Set(0)
	}
	log.Warnln("progress: reset")
	return nil
}

// History returns the sessions recorded between from and to (YYYY-MM-DD,
// inclusive, empty means unbounded).
func (s *Service) History(ctx context.Context, from, to string) (_ []HistoryEntry, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progressService.history")
	defer tracing.EndSpanWithErrCheck(span, &err)

	p, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	return p.HistoryBetween(from, to), nil
}
