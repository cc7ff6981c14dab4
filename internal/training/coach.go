package training

import (
	"context"
	"fmt"

	"github.com/2beens/posecoach/internal/progress"
	"github.com/2beens/posecoach/internal/telemetry/metrics"
	"github.com/2beens/posecoach/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type progressReader interface {
	Get(ctx context.Context) (*progress.Progress, error)
}

// Snapshot is the answer to a practitioner action.
type Snapshot struct {
	Step     int      `json:"step"`
	Locked   bool     `json:"locked"`
	Score    int      `json:"score"`
	Sessions int      `json:"sessions"`
	Best     int      `json:"best"`
	Streak   int      `json:"streak"`
	Badges   []string `json:"badges"`
}

// Coach applies actions to the session and enriches the result with the
// stored practice progress.
type Coach struct {
	session  *Session
	progress progressReader
	hub      *Hub
	metrics  *metrics.Manager
}

func NewCoach(session *Session, progress progressReader, hub *Hub, metrics *metrics.Manager) *Coach {
	return &Coach{
		session:  session,
		progress: progress,
		hub:      hub,
		metrics:  metrics,
	}
}

func (c *Coach) Act(ctx context.Context, action Action, step *int) (_ *Snapshot, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "coach.act")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(attribute.String("action", string(action)))

	state, err := c.session.Act(action, step)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.CounterActions.WithLabelValues(string(action)).Inc()
	}

	p, err := c.progress.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	snapshot := NewSnapshot(state, p)
	log.Tracef("action %s -> step %d, locked %t, score %d", action, snapshot.Step, snapshot.Locked, snapshot.Score)

	if c.hub != nil {
		c.hub.Publish(Message{Type: MessageTypeAction, Snapshot: snapshot})
	}
	return snapshot, nil
}

func NewSnapshot(state State, p *progress.Progress) *Snapshot {
	score := state.Score()
	best := score
	if acc, ok := p.BestAccuracy(); ok {
		best = int(acc)
	}
	return &Snapshot{
		Step:     state.Step,
		Locked:   state.Locked,
		Score:    score,
		Sessions: p.TotalSessions(),
		Best:     best,
		Streak:   p.Streak,
		Badges:   p.Badges,
	}
}
