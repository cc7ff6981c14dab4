package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2beens/posecoach/internal/telemetry/tracing"
	"github.com/2beens/posecoach/pkg"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type progressService interface {
	Get(ctx context.Context) (*Progress, error)
	RecordSession(ctx context.Context, count int, accuracy float64, now time.Time) (*Progress, error)
	Reset(ctx context.Context) error
}

// sessionTracker is the live training session whose accuracy is recorded.
type sessionTracker interface {
	SessionAccuracy() float64
	ResetSession()
}

type UpdateProgressRequest struct {
	Count *SessionCount `json:"count" validate:"omitempty,min=1,max=1000"`
}

// SessionCount is a number of sessions sent either as a JSON number or as a
// numeric string, so 3, 3.0 and "3" all mean three. Fractions are rejected.
type SessionCount int

func (c *SessionCount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}

	if n, err := strconv.Atoi(raw); err == nil {
		*c = SessionCount(n)
		return nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("count %s is not a number", data)
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("count %s is not a whole number", data)
	}
	*c = SessionCount(f)
	return nil
}

type statusResponse struct {
	Status   string    `json:"status"`
	Message  string    `json:"message,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
}

type Handler struct {
	service   progressService
	session   sessionTracker
	validator *validator.Validate
	now       func() time.Time
}

func NewHandler(service progressService, session sessionTracker, validate *validator.Validate) *Handler {
	return &Handler{
		service:   service,
		session:   session,
		validator: validate,
		now:       time.Now,
	}
}

// SetupRoutes registers the progress routes. The update route is returned
// so the caller can rate limit it.
func (h *Handler) SetupRoutes(r *mux.Router) *mux.Route {
	r.HandleFunc("/progress_data", h.HandleGet).Methods("GET", "OPTIONS").Name("progress-data")
	r.HandleFunc("/progress", h.HandleReset).Methods("DELETE", "OPTIONS").Name("progress-reset")
	return r.HandleFunc("/update_progress", h.HandleUpdate).Methods("POST", "OPTIONS").Name("update-progress")
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	pkg.WriteJSON(w, statusResponse{Status: "error", Message: message}, statusCode)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "progressHandler.update")
	defer span.End()

	req := UpdateProgressRequest{}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Errorf("update progress, read body: %s", err)
		writeError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	// an empty body records a single session
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			log.Errorf("update progress, unmarshal request: %s", err)
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, "count must be between 1 and 1000", http.StatusBadRequest)
		return
	}

	count := 1
	if req.Count != nil {
		count = int(*req.Count)
	}
	accuracy := h.session.SessionAccuracy()
	span.SetAttributes(
		attribute.Int("count", count),
		attribute.Float64("accuracy", accuracy),
	)

	p, err := h.service.RecordSession(ctx, count, accuracy, h.now())
	if err != nil {
		log.Errorf("update progress: %s", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.session.ResetSession()
	pkg.WriteJSON(w, statusResponse{Status: "success", Progress: p}, http.StatusOK)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "GET, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "progressHandler.get")
	defer span.End()

	p, err := h.service.Get(ctx)
	if err != nil {
		log.Errorf("get progress: %s", err)
		writeError(w, "failed to load progress", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSON(w, p, http.StatusOK)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "DELETE, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, span := tracing.GlobalTracer.Start(r.Context(), "progressHandler.reset")
	defer span.End()

	if err := h.service.Reset(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Errorf("reset progress: %s", err)
		writeError(w, "failed to reset progress", http.StatusInternalServerError)
		return
	}
	h.session.ResetSession()
	pkg.WriteJSON(w, statusResponse{Status: "success", Progress: New()}, http.StatusOK)
}
