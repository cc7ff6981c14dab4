package training

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/2beens/posecoach/internal/pose"
	"github.com/2beens/posecoach/internal/telemetry/metrics"
	"github.com/2beens/posecoach/internal/telemetry/tracing"
	"github.com/2beens/posecoach/pkg"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// must match the boundary of pkg.ContentType.MultiPart
	frameBoundary = "frame"

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

type referenceReloader interface {
	Reload(ctx context.Context) error
	Names() []string
}

type ActionRequest struct {
	Action string `json:"action" validate:"required,oneof=stop next back retry jump"`
	Step   *int   `json:"step" validate:"omitempty,min=0"`
}

// wsCommand is sent by the browser over the score websocket.
type wsCommand struct {
	Command string `json:"command"`
}

type Handler struct {
	coach      *Coach
	pipeline   *Pipeline
	hub        *Hub
	references referenceReloader
	validator  *validator.Validate
	metrics    *metrics.Manager
	upgrader   websocket.Upgrader
}

type HandlerParams struct {
	Coach      *Coach
	Pipeline   *Pipeline
	Hub        *Hub
	References referenceReloader
	Validator  *validator.Validate
	Metrics    *metrics.Manager
}

func NewHandler(params HandlerParams) *Handler {
	return &Handler{
		coach:      params.Coach,
		pipeline:   params.Pipeline,
		hub:        params.Hub,
		references: params.References,
		validator:  params.Validator,
		metrics:    params.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are checked by the cors middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetupRoutes registers the training routes. The action route is returned
// so the caller can rate limit it.
func (h *Handler) SetupRoutes(r *mux.Router) *mux.Route {
	r.HandleFunc("/video_feed", h.HandleVideoFeed).Methods("GET").Name("video-feed")
	r.HandleFunc("/score/ws", h.HandleScoreWS).Methods("GET").Name("score-ws")
	r.HandleFunc("/references/reload", h.HandleReloadReferences).Methods("POST", "OPTIONS").Name("references-reload")
	return r.HandleFunc("/action", h.HandleAction).Methods("POST", "OPTIONS").Name("action")
}

func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("action, unmarshal request: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("invalid action request: %s", err), http.StatusBadRequest)
		return
	}

	action, err := ParseAction(req.Action)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snapshot, err := h.coach.Act(r.Context(), action, req.Step)
	switch {
	case errors.Is(err, ErrUnknownAction), errors.Is(err, pose.ErrStepOutOfRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.Errorf("action %s: %s", action, err)
		http.Error(w, "action failed", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSON(w, snapshot, http.StatusOK)
}

func (h *Handler) HandleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// the stream outlives the server write timeout
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Tracef("video feed, clear write deadline: %s", err)
	}

	if h.metrics != nil {
		h.metrics.GaugeVideoViewers.Inc()
		defer h.metrics.GaugeVideoViewers.Dec()
	}

	w.Header().Set("Content-Type", pkg.ContentType.MultiPart)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	log.Debugf("video feed viewer connected: %s", r.RemoteAddr)
	err := h.pipeline.Stream(r.Context(), func(frame []byte) error {
		if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n", frameBoundary, pkg.ContentType.JPEG, len(frame)); err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warnf("video feed %s stopped: %s", r.RemoteAddr, err)
		return
	}
	log.Debugf("video feed viewer disconnected: %s", r.RemoteAddr)
}

func (h *Handler) HandleScoreWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("score ws upgrade failed: %s", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	if sub == nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait),
		)
		return
	}
	defer h.hub.Unsubscribe(sub)

	readerDone := make(chan struct{})
	var paused atomic.Bool
	go h.wsReader(conn, sub, &paused, readerDone)
	defer func() {
		_ = conn.Close()
		<-readerDone
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait),
				)
				return
			}
			if paused.Load() {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debugf("score ws %s write: %s", sub.ID, err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				log.Debugf("score ws %s ping: %s", sub.ID, err)
				return
			}
		}
	}
}

// wsReader handles pause/resume commands and detects the client going away.
func (h *Handler) wsReader(conn *websocket.Conn, sub *Subscriber, paused *atomic.Bool, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("score ws %s read: %s", sub.ID, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debugf("score ws %s: invalid command: %s", sub.ID, err)
			continue
		}
		switch cmd.Command {
		case "pause":
			paused.Store(true)
		case "resume":
			paused.Store(false)
		default:
			log.Debugf("score ws %s: unknown command %q", sub.ID, cmd.Command)
		}
	}
}

func (h *Handler) HandleReloadReferences(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trainingHandler.reloadReferences")
	defer span.End()

	if err := h.references.Reload(ctx); err != nil {
		log.Errorf("reload references: %s", err)
		http.Error(w, "failed to reload references", http.StatusInternalServerError)
		return
	}

	names := h.references.Names()
	log.Infof("references reloaded: %d poses", len(names))
	pkg.WriteJSON(w, map[string]any{
		"poses": len(names),
		"names": names,
	}, http.StatusOK)
}
