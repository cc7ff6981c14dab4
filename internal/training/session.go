package training

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/2beens/posecoach/internal/pose"
)

var ErrUnknownAction = errors.New("unknown action")

type Action string

const (
	ActionStop  Action = "stop"
	ActionNext  Action = "next"
	ActionBack  Action = "back"
	ActionRetry Action = "retry"
	ActionJump  Action = "jump"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStop, ActionNext, ActionBack, ActionRetry, ActionJump:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

type poseCounter interface {
	Len() int
}

// State is a point-in-time copy of the session.
type State struct {
	Step    int
	Total   int
	Locked  bool
	Highest float64
	Live    float64
}

// Score is what the practitioner sees: the best score once the pose is
// locked, the live one otherwise.
func (s State) Score() int {
	if s.Locked {
		return int(s.Highest)
	}
	return int(s.Live)
}

// Session is the state of the one practice session of this process.
type Session struct {
	mu          sync.Mutex
	poses       poseCounter
	currentStep int
	highest     float64
	live        float64
	locked      bool
	poseScores  []int
}

func NewSession(poses poseCounter) *Session {
	return &Session{
		poses: poses,
	}
}

// state must be called with mu held.
func (s *Session) state() State {
	total := s.poses.Len()
	// the reference set may shrink on reload
	if total > 0 && s.currentStep >= total {
		s.currentStep = total - 1
	}
	return State{
		Step:    s.currentStep,
		Total:   total,
		Locked:  s.locked,
		Highest: s.highest,
		Live:    s.live,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// ObserveScoreFor records the similarity of the latest frame, computed
// against the reference of step. The score is dropped when an action moved
// the session off that step in the meantime. The highest score is frozen
// while the pose is locked.
func (s *Session) ObserveScoreFor(step int, score float64) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state()
	if state.Step != step {
		return state
	}
	s.live = score
	if !s.locked {
		s.highest = math.Max(s.highest, score)
	}
	return s.state()
}

// finalize must be called with mu held.
func (s *Session) finalize() {
	if s.highest > 0 {
		s.poseScores = append(s.poseScores, int(s.highest))
	}
	s.locked = true
}

// resetPose must be called with mu held.
func (s *Session) resetPose() {
	s.highest = 0
	s.live = 0
	s.locked = false
}

// Act applies a practitioner action. A non nil step moves the session to
// that step before the action runs.
func (s *Session) Act(action Action, step *int) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.poses.Len()
	if step != nil {
		if *step < 0 || (total > 0 && *step >= total) {
			return State{}, fmt.Errorf("%w: %d of %d", pose.ErrStepOutOfRange, *step, total)
		}
	}

	switch action {
	case ActionStop, ActionNext, ActionBack, ActionRetry, ActionJump:
	default:
		return State{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	if step != nil {
		s.currentStep = *step
	}

	switch action {
	case ActionStop:
		s.finalize()
	case ActionNext:
		if !s.locked && s.highest > 0 {
			s.finalize()
		}
		if s.currentStep < total-1 {
			s.currentStep++
		}
		s.resetPose()
	case ActionBack:
		if s.currentStep > 0 {
			s.currentStep--
		}
		s.resetPose()
	case ActionRetry, ActionJump:
		s.resetPose()
	}

	return s.state(), nil
}

// SessionAccuracy is the mean of the finalized pose scores rounded to two
// decimals, or the current highest score when no pose was finalized yet.
func (s *Session) SessionAccuracy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.poseScores) == 0 {
		return round2(s.highest)
	}
	sum := 0
	for _, score := range s.poseScores {
		sum += score
	}
	return round2(float64(sum) / float64(len(s.poseScores)))
}

// ResetSession clears the scores after they were recorded. The current step
// is kept.
func (s *Session) ResetSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.poseScores = nil
	s.highest = 0
	s.locked = false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
