package web

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/2beens/posecoach/internal/pose"
	"github.com/2beens/posecoach/internal/progress"
	"github.com/2beens/posecoach/internal/telemetry/tracing"
	"github.com/2beens/posecoach/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

type progressReader interface {
	Get(ctx context.Context) (*progress.Progress, error)
}

type poseLister interface {
	Len() int
	Get(step int) (*pose.Reference, error)
}

type BadgeView struct {
	Name     string
	Days     int
	Unlocked bool
}

type HomePage struct {
	Progress *progress.Progress
	Sessions int
	Best     int
	Badges   []BadgeView
}

type PoseView struct {
	Step  int
	Name  string
	Image string
}

type TrainPage struct {
	Poses []PoseView
}

// Handler renders the html pages and serves static assets.
type Handler struct {
	templates  *template.Template
	progress   progressReader
	poses      poseLister
	imagesPath string
}

// NewHandler parses the embedded templates. imagesPath is the folder with the
// poseN.jpg reference images, served under /poses/.
func NewHandler(progress progressReader, poses poseLister, imagesPath string) (*Handler, error) {
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{
		templates:  templates,
		progress:   progress,
		poses:      poses,
		imagesPath: imagesPath,
	}, nil
}

func (h *Handler) SetupRoutes(r *mux.Router) {
	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		// embedded at build time, cannot fail
		panic(err)
	}
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(static)))).Methods("GET").Name("static")
	if h.imagesPath != "" {
		r.PathPrefix("/poses/").Handler(http.StripPrefix("/poses/", http.FileServer(http.Dir(h.imagesPath)))).Methods("GET").Name("pose-images")
	}
	r.HandleFunc("/train", h.HandleTrain).Methods("GET").Name("train")
	r.HandleFunc("/", h.HandleHome).Methods("GET").Name("home")
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := h.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Errorf("render %s: %s", name, err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.HTML, buf.Bytes(), http.StatusOK)
}

func (h *Handler) HandleHome(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "webHandler.home")
	defer span.End()

	p, err := h.progress.Get(ctx)
	if err != nil {
		log.Errorf("home page, load progress: %s", err)
		http.Error(w, "failed to load progress", http.StatusInternalServerError)
		return
	}

	page := HomePage{
		Progress: p,
		Sessions: p.TotalSessions(),
	}
	if best, ok := p.BestAccuracy(); ok {
		page.Best = int(best)
	}
	for _, b := range progress.Badges {
		page.Badges = append(page.Badges, BadgeView{
			Name:     b.Name,
			Days:     b.Days,
			Unlocked: slices.Contains(p.Badges, b.Name),
		})
	}

	h.render(w, "home.html", page)
}

func (h *Handler) HandleTrain(w http.ResponseWriter, _ *http.Request) {
	page := TrainPage{}
	for step := 0; step < h.poses.Len(); step++ {
		ref, err := h.poses.Get(step)
		if err != nil {
			log.Warnf("train page, reference %d: %s", step, err)
			continue
		}
		page.Poses = append(page.Poses, PoseView{
			Step:  step,
			Name:  ref.Name,
			Image: "/poses/" + strings.TrimSuffix(ref.File, path.Ext(ref.File)) + ".jpg",
		})
	}
	h.render(w, "train.html", page)
}
