package pose

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/2beens/posecoach/internal/telemetry/tracing"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// WSEstimator keeps a websocket open to the pose estimation service.
// Each request is one binary message (the JPEG) answered by one text
// message with the landmarks document. Requests are serialized.
type WSEstimator struct {
	url          string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	reqMu sync.Mutex // one request in flight

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

type wsEstimatorResponse struct {
	Landmarks Landmarks `json:"landmarks"`
	Error     string    `json:"error,omitempty"`
}

func NewWSEstimator(url string, timeout time.Duration) *WSEstimator {
	if timeout <= 0 {
		timeout = defaultEstimatorTimeout
	}
	return &WSEstimator{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		pingInterval: 30 * time.Second,
		readTimeout:  timeout,
		writeTimeout: timeout,
		stop:         make(chan struct{}),
	}
}

// Connect dials eagerly. Estimate dials on demand, so calling it is optional.
func (e *WSEstimator) Connect(ctx context.Context) error {
	_, err := e.connection(ctx)
	return err
}

func (e *WSEstimator) connection(ctx context.Context) (*websocket.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.New("estimator closed")
	}
	if e.conn != nil {
		return e.conn, nil
	}

	log.Debugf("connecting to pose estimator at %s", e.url)
	conn, resp, err := e.dialer.DialContext(ctx, e.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.url, err)
	}

	conn.SetPingHandler(func(appData string) error {
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(e.writeTimeout)); err != nil {
			log.Debugf("pose estimator pong: %s", err)
		}
		return nil
	})

	e.conn = conn
	e.wg.Add(1)
	go e.keepAlive(conn)

	return conn, nil
}

// dropConnection forgets conn if it is still the current one.
func (e *WSEstimator) dropConnection(conn *websocket.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == conn {
		e.conn = nil
	}
	_ = conn.Close()
}

func (e *WSEstimator) keepAlive(conn *websocket.Conn) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			current := e.conn == conn
			e.mu.Unlock()
			if !current {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(e.writeTimeout)); err != nil {
				log.Warnf("pose estimator ping failed, dropping connection: %s", err)
				e.dropConnection(conn)
				return
			}
		}
	}
}

func (e *WSEstimator) Estimate(ctx context.Context, jpeg []byte) (_ Landmarks, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "wsEstimator.estimate")
	defer tracing.EndSpanWithErrCheck(span, &err)
	span.SetAttributes(attribute.Int("image.bytes", len(jpeg)))

	e.reqMu.Lock()
	defer e.reqMu.Unlock()

	conn, err := e.connection(ctx)
	if err != nil {
		return nil, err
	}

	landmarks, err := e.roundTrip(ctx, conn, jpeg)
	if errors.Is(err, ErrNoPose) {
		return nil, ErrNoPose
	}
	if err != nil {
		// next call reconnects
		e.dropConnection(conn)
		return nil, err
	}

	span.SetAttributes(attribute.Int("pose.landmarks", len(landmarks)))
	return landmarks, nil
}

func (e *WSEstimator) roundTrip(ctx context.Context, conn *websocket.Conn, jpeg []byte) (Landmarks, error) {
	writeDeadline := time.Now().Add(e.writeTimeout)
	readDeadline := time.Now().Add(e.readTimeout)
	if d, ok := ctx.Deadline(); ok {
		if d.Before(writeDeadline) {
			writeDeadline = d
		}
		if d.Before(readDeadline) {
			readDeadline = d
		}
	}

	if err := conn.SetWriteDeadline(writeDeadline); err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, jpeg); err != nil {
		return nil, fmt.Errorf("send frame: %w", err)
	}

	if err := conn.SetReadDeadline(readDeadline); err != nil {
		return nil, err
	}
	msgType, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read landmarks: %w", err)
	}
	if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected message type %d", msgType)
	}

	var resp wsEstimatorResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, fmt.Errorf("decode landmarks: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("estimator error: %s", resp.Error)
	}
	if len(resp.Landmarks) == 0 {
		return nil, ErrNoPose
	}

	return resp.Landmarks, nil
}

func (e *WSEstimator) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stop)
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = conn.Close()
	}
	e.wg.Wait()
	return err
}
