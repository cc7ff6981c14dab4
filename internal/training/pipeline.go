package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/2beens/posecoach/internal/camera"
	"github.com/2beens/posecoach/internal/overlay"
	"github.com/2beens/posecoach/internal/pose"
	"github.com/2beens/posecoach/internal/telemetry/metrics"

	log "github.com/sirupsen/logrus"
)

const (
	estimatorJPEGQuality = 90

	unavailableWidth  = 640
	unavailableHeight = 480
	unavailableName   = "Camera unavailable"
)

type referenceGetter interface {
	Get(step int) (*pose.Reference, error)
	Len() int
}

// Pipeline turns camera frames into scored, annotated JPEG frames.
type Pipeline struct {
	source     camera.Source
	estimator  pose.Estimator
	references referenceGetter
	session    *Session
	renderer   *overlay.Renderer
	hub        *Hub
	metrics    *metrics.Manager
	mirror     bool
}

type PipelineParams struct {
	Source     camera.Source
	Estimator  pose.Estimator
	References referenceGetter
	Session    *Session
	Renderer   *overlay.Renderer
	Hub        *Hub
	Metrics    *metrics.Manager
	Mirror     bool
}

func NewPipeline(params PipelineParams) *Pipeline {
	return &Pipeline{
		source:     params.Source,
		estimator:  params.Estimator,
		references: params.References,
		session:    params.Session,
		renderer:   params.Renderer,
		hub:        params.Hub,
		metrics:    params.Metrics,
		mirror:     params.Mirror,
	}
}

// Stream processes frames until ctx is done, the source closes, or emit
// fails. Each viewer runs its own Stream.
func (p *Pipeline) Stream(ctx context.Context, emit func(jpeg []byte) error) error {
	var lastUpdate ScoreUpdate
	sourceDown := false
	for {
		frame, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, camera.ErrSourceClosed) {
				return err
			}
			if !sourceDown {
				log.Warnf("pipeline: read frame: %s", err)
				sourceDown = true
			}
			out, err := p.unavailableFrame()
			if err != nil {
				return fmt.Errorf("render unavailable frame: %w", err)
			}
			if err := emit(out); err != nil {
				return err
			}
			continue
		}
		if sourceDown {
			log.Infoln("pipeline: camera frames are back")
			sourceDown = false
		}

		out, update, err := p.ProcessFrame(ctx, frame)
		if err != nil {
			return fmt.Errorf("process frame: %w", err)
		}
		if err := emit(out); err != nil {
			return err
		}

		if p.hub != nil && update != lastUpdate {
			p.hub.Publish(Message{Type: MessageTypeScore, Score: &update})
			lastUpdate = update
		}
	}
}

// ProcessFrame scores one frame against the reference of the current step
// and renders the overlay. Estimator failures only cost the score update,
// the frame is still rendered.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame image.Image) ([]byte, ScoreUpdate, error) {
	if p.mirror {
		frame = camera.Mirror(frame)
	}
	if p.metrics != nil {
		p.metrics.CounterFramesProcessed.Inc()
	}

	landmarks := p.estimate(ctx, frame)

	state := p.session.State()
	ref, refErr := p.references.Get(state.Step)
	if refErr != nil {
		log.Tracef("pipeline: reference for step %d: %s", state.Step, refErr)
	}

	if len(landmarks) > 0 && ref != nil {
		score := pose.Similarity(ref.Landmarks, landmarks)
		state = p.session.ObserveScoreFor(state.Step, score)
		if p.metrics != nil {
			p.metrics.HistogramSimilarity.Observe(score)
		}
	}

	caption := overlay.Caption{
		Step:   state.Step,
		Total:  state.Total,
		Score:  state.Score(),
		Locked: state.Locked,
	}
	if ref != nil {
		caption.PoseName = ref.Name
	} else {
		caption.PoseName = "No reference pose"
	}

	out, err := p.renderer.Render(frame, landmarks, caption)
	if err != nil {
		return nil, ScoreUpdate{}, err
	}

	update := ScoreUpdate{
		Step:     state.Step,
		Total:    state.Total,
		PoseName: caption.PoseName,
		Score:    state.Score(),
		Live:     int(state.Live),
		Locked:   state.Locked,
	}
	return out, update, nil
}

// unavailableFrame is shown to viewers while the camera source yields no
// frames. The session is left untouched.
func (p *Pipeline) unavailableFrame() ([]byte, error) {
	state := p.session.State()
	blank := image.NewRGBA(image.Rect(0, 0, unavailableWidth, unavailableHeight))
	return p.renderer.Render(blank, nil, overlay.Caption{
		PoseName: unavailableName,
		Step:     state.Step,
		Total:    state.Total,
		Score:    state.Score(),
		Locked:   state.Locked,
	})
}

// estimate returns nil when no pose was found or the estimator failed.
func (p *Pipeline) estimate(ctx context.Context, frame image.Image) pose.Landmarks {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: estimatorJPEGQuality}); err != nil {
		log.Errorf("pipeline: encode frame for estimator: %s", err)
		return nil
	}

	start := time.Now()
	landmarks, err := p.estimator.Estimate(ctx, buf.Bytes())
	if p.metrics != nil {
		p.metrics.HistogramEstimatorDuration.Observe(time.Since(start).Seconds())
	}

	switch {
	case errors.Is(err, pose.ErrNoPose):
		return nil
	case err != nil:
		if ctx.Err() == nil {
			log.Warnf("pipeline: estimate pose: %s", err)
			if p.metrics != nil {
				p.metrics.CounterEstimatorErrors.Inc()
			}
		}
		return nil
	}

	if p.metrics != nil {
		p.metrics.CounterPosesDetected.Inc()
	}
	return landmarks
}
