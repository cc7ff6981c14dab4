package pose

import (
	"context"
	"errors"
)

var ErrNoPose = errors.New("no pose detected")

// Estimator extracts body landmarks from a JPEG encoded image.
// It returns ErrNoPose when the image holds no detectable body.
type Estimator interface {
	Estimate(ctx context.Context, jpeg []byte) (Landmarks, error)
	Close() error
}
