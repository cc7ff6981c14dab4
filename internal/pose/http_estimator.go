package pose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/posecoach/internal/telemetry/tracing"

	"github.com/avast/retry-go/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultEstimatorTimeout = 5 * time.Second
	defaultEstimatorRetries = 3
	maxEstimatorRespSize    = 1 << 20
)

// HTTPEstimator calls an external pose estimation service over HTTP:
// POST <baseURL>/pose with the JPEG body, answered with a landmarks document.
type HTTPEstimator struct {
	endpoint   string
	httpClient *http.Client
	attempts   uint
	retryDelay time.Duration
}

type HTTPEstimatorParams struct {
	BaseURL    string
	Timeout    time.Duration
	Attempts   uint
	RetryDelay time.Duration
	// optional, a traced client is created when nil
	HTTPClient *http.Client
}

func NewHTTPEstimator(params HTTPEstimatorParams) *HTTPEstimator {
	if params.Timeout <= 0 {
		params.Timeout = defaultEstimatorTimeout
	}
	if params.Attempts == 0 {
		params.Attempts = defaultEstimatorRetries
	}
	if params.RetryDelay <= 0 {
		params.RetryDelay = 100 * time.Millisecond
	}
	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   params.Timeout,
		}
	}

	return &HTTPEstimator{
		endpoint:   strings.TrimSuffix(params.BaseURL, "/") + "/pose",
		httpClient: httpClient,
		attempts:   params.Attempts,
		retryDelay: params.RetryDelay,
	}
}

func (e *HTTPEstimator) Estimate(ctx context.Context, jpeg []byte) (_ Landmarks, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "httpEstimator.estimate")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(attribute.Int("image.bytes", len(jpeg)))

	landmarks, err := retry.DoWithData(
		func() (Landmarks, error) {
			return e.estimateOnce(ctx, jpeg)
		},
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.Delay(e.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrNoPose)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			log.Debugf("pose estimator attempt %d failed: %s", attempt+1, err)
		}),
	)
	if errors.Is(err, ErrNoPose) {
		// not an error from the span's point of view
		span.SetAttributes(attribute.Bool("pose.detected", false))
		return nil, ErrNoPose
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("pose.landmarks", len(landmarks)))
	return landmarks, nil
}

func (e *HTTPEstimator) estimateOnce(ctx context.Context, jpeg []byte) (Landmarks, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(jpeg))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("create estimator request: %w", err))
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("estimator request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEstimatorRespSize))
	if err != nil {
		return nil, fmt.Errorf("read estimator response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusNoContent:
		return nil, ErrNoPose
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("estimator responded %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Unrecoverable(fmt.Errorf("estimator responded %d: %s", resp.StatusCode, bytes.TrimSpace(body)))
	}

	landmarks, err := ParseLandmarks(body)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	if len(landmarks) == 0 {
		return nil, ErrNoPose
	}

	return landmarks, nil
}

func (e *HTTPEstimator) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}
