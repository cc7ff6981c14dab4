package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/2beens/posecoach/internal/pose"
	"github.com/2beens/posecoach/internal/progress"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProgress struct {
	p   *progress.Progress
	err error
}

func (s *staticProgress) Get(context.Context) (*progress.Progress, error) {
	return s.p, s.err
}

type staticPoses []string

func (p staticPoses) Len() int { return len(p) }

func (p staticPoses) Get(step int) (*pose.Reference, error) {
	if step < 0 || step >= len(p) {
		return nil, pose.ErrStepOutOfRange
	}
	return &pose.Reference{Step: step, Name: p[step], File: fmt.Sprintf("pose%d.json", step+1)}, nil
}

func newTestRouter(t *testing.T, reader progressReader, poses poseLister, imagesPath string) *mux.Router {
	t.Helper()
	h, err := NewHandler(reader, poses, imagesPath)
	require.NoError(t, err)
	r := mux.NewRouter()
	h.SetupRoutes(r)
	return r
}

func TestHandler_Home(t *testing.T) {
	p := progress.New()
	last := "2025-05-02"
	p.Dates = []string{"2025-05-01", "2025-05-02"}
	p.Counts = []int{1, 2}
	p.Accuracy = []float64{70, 84.4}
	p.Streak = 2
	p.Badges = []string{"aruna"}
	p.LastDate = &last

	r := newTestRouter(t, &staticProgress{p: p}, staticPoses{}, "")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	body := rr.Body.String()
	assert.Contains(t, body, `<span class="value" id="streak">2</span>`)
	assert.Contains(t, body, `<span class="value" id="sessions">3</span>`)
	assert.Contains(t, body, `<span class="value" id="best">84%</span>`)
	assert.Contains(t, body, `<li class="badge unlocked" title="1 day streak">`)
	assert.Contains(t, body, `<li class="badge" title="7 day streak">`)
	assert.Contains(t, body, `"2025-05-02"`)
}

func TestHandler_Home_ProgressError(t *testing.T) {
	r := newTestRouter(t, &staticProgress{err: errors.New("corrupt file")}, staticPoses{}, "")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandler_Train(t *testing.T) {
	r := newTestRouter(t, &staticProgress{p: progress.New()}, staticPoses{"Pranamasana (Prayer Pose)", "Phalakasana (Plank)"}, "")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/train", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `<img src="/poses/pose1.jpg" alt="Pranamasana (Prayer Pose)">`)
	assert.Contains(t, body, `<option value="1">Phalakasana (Plank)</option>`)
	assert.NotContains(t, body, "No reference poses loaded.")
}

func TestHandler_Train_NoPoses(t *testing.T) {
	r := newTestRouter(t, &staticProgress{p: progress.New()}, staticPoses{}, "")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/train", nil))
	assert.Contains(t, rr.Body.String(), "No reference poses loaded.")
}

func TestHandler_StaticAndImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pose1.jpg"), []byte("jpeg bytes"), 0o644))

	r := newTestRouter(t, &staticProgress{p: progress.New()}, staticPoses{}, dir)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), ".badge.unlocked")

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poses/pose1.jpg", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "jpeg bytes", rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/poses/missing.jpg", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
