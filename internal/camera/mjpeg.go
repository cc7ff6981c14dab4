package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxFrameSize       = 8 << 20
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
)

// MJPEGSource reads a multipart/x-mixed-replace stream, as served by
// mjpg-streamer, ffmpeg or most IP cameras. A single reader goroutine keeps
// the latest frame and wakes every waiting Next call.
type MJPEGSource struct {
	url        string
	httpClient *http.Client

	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	latest  image.Image
	lastErr error
	notify  chan struct{}
}

func NewMJPEGSource(url string) *MJPEGSource {
	ctx, cancel := context.WithCancel(context.Background())
	return &MJPEGSource{
		url: url,
		// no client timeout, the stream is long lived
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		notify:     make(chan struct{}),
	}
}

func (s *MJPEGSource) Next(ctx context.Context) (image.Image, error) {
	s.startOnce.Do(func() {
		if s.ctx.Err() != nil {
			close(s.done)
			return
		}
		go s.run()
	})

	s.mu.Lock()
	wait := s.notify
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrSourceClosed
	case <-wait:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, s.lastErr
	}
	return s.latest, nil
}

func (s *MJPEGSource) publish(img image.Image, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = img
	s.lastErr = err
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *MJPEGSource) run() {
	defer close(s.done)

	delay := reconnectBaseDelay
	for {
		err := s.stream()
		if s.ctx.Err() != nil {
			return
		}
		log.Warnf("mjpeg stream %s: %s, reconnecting in %s", s.url, err, delay)
		// wake the viewers so they can render the error state
		s.publish(nil, err)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// stream reads frames until the connection breaks.
func (s *MJPEGSource) stream() error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return fmt.Errorf("not a multipart stream: %s", mediaType)
	}
	boundary := strings.TrimPrefix(params["boundary"], "--")
	if boundary == "" {
		return errors.New("missing multipart boundary")
	}

	log.Infof("mjpeg stream connected: %s", s.url)
	reader := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			return fmt.Errorf("next part: %w", err)
		}

		img, err := decodeFrame(part)
		_ = part.Close()
		if err != nil {
			log.Debugf("mjpeg stream %s: skip frame: %s", s.url, err)
			continue
		}

		s.publish(img, nil)
	}
}

func decodeFrame(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFrameSize))
	if err != nil {
		return nil, err
	}
	return jpeg.Decode(bytes.NewReader(data))
}

func (s *MJPEGSource) Close() error {
	s.cancel()
	// never started: nothing will close done
	s.startOnce.Do(func() {
		close(s.done)
	})
	<-s.done
	s.httpClient.CloseIdleConnections()
	return nil
}
