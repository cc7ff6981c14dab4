package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"github.com/2beens/posecoach/internal/auth"
	"github.com/2beens/posecoach/internal/camera"
	"github.com/2beens/posecoach/internal/config"
	"github.com/2beens/posecoach/internal/db"
	"github.com/2beens/posecoach/internal/middleware"
	"github.com/2beens/posecoach/internal/overlay"
	"github.com/2beens/posecoach/internal/pose"
	"github.com/2beens/posecoach/internal/progress"
	progressmcp "github.com/2beens/posecoach/internal/progress/mcp"
	"github.com/2beens/posecoach/internal/telemetry/metrics"
	"github.com/2beens/posecoach/internal/telemetry/tracing"
	"github.com/2beens/posecoach/internal/training"
	"github.com/2beens/posecoach/internal/web"
)

const authScanInterval = 8 * time.Hour

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config    *config.Config
	dbPool    *pgxpool.Pool
	validator *validator.Validate

	redisClient  *redis.Client
	loginChecker *auth.LoginChecker
	authService  *auth.Service
	rateLimiter  *redis_rate.Limiter

	// training
	references *pose.ReferenceLibrary
	estimator  pose.Estimator
	camera     camera.Source
	session    *training.Session
	hub        *training.Hub

	progressService *progress.Service

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	AdminUsername           string
	AdminPasswordHash       string
	RedisPassword           string
	PostgresUser            string
	PostgresPassword        string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	s := &Server{
		config:      cfg,
		versionInfo: params.VersionInfo,
		validator:   validator.New(),
	}

	var extraCollectors []prometheus.Collector
	if cfg.ProgressStore == config.ProgressStorePostgres {
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         params.PostgresUser,
			DBPassword:     params.PostgresPassword,
			TracingEnabled: params.HoneycombTracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		s.dbPool = dbPool
		extraCollectors = append(extraCollectors, db.PoolCollector(dbPool, cfg.PostgresDBName))
	}

	s.promRegistry = metrics.SetupPrometheus(extraCollectors...)
	s.metricsManager = metrics.NewManager("posecoach", "main", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0)

	if cfg.RedisEnabled() {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})
		rdbStatus := s.redisClient.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}

		s.rateLimiter = redis_rate.NewLimiter(s.redisClient)
		s.loginChecker = auth.NewLoginChecker(auth.DefaultTTL, s.redisClient)
		s.authService = auth.NewAuthService(&auth.Admin{
			Username:     params.AdminUsername,
			PasswordHash: params.AdminPasswordHash,
		}, auth.DefaultTTL, s.redisClient)
		go func() {
			ticker := time.NewTicker(authScanInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.authService.ScanAndClean(ctx)
				}
			}
		}()
	} else {
		log.Warnln("redis not configured: in memory rate limiting, admin login disabled")
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "posecoach", s.redisClient)
	if err != nil {
		return nil, err
	}
	s.otelShutdown = otelShutdown

	progressRepo, err := s.newProgressRepo(ctx)
	if err != nil {
		return nil, err
	}
	s.progressService = progress.NewService(progressRepo, s.metricsManager)
	if p, err := s.progressService.Get(ctx); err != nil {
		log.Errorf("failed to load progress: %s", err)
	} else {
		s.metricsManager.GaugeCurrentStreak.Set(float64(p.Streak))
	}

	poseNames := cfg.PoseNames
	if len(poseNames) == 0 {
		poseNames = pose.SuryaNamaskarPoses
	}
	s.references = pose.NewReferenceLibrary(cfg.ReferencesPath, poseNames)
	if err := s.references.Reload(ctx); err != nil {
		log.Errorf("failed to load reference poses from %s: %s", cfg.ReferencesPath, err)
	}

	s.estimator, err = newEstimator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.camera, err = newCameraSource(cfg)
	if err != nil {
		return nil, err
	}

	s.session = training.NewSession(s.references)
	s.hub = training.NewHub(training.DefaultSubscriberQueueSize, s.metricsManager)

	return s, nil
}

func (s *Server) newProgressRepo(ctx context.Context) (progress.Repo, error) {
	switch s.config.ProgressStore {
	case config.ProgressStorePostgres:
		repo := progress.NewPsqlRepo(s.dbPool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		log.Debugf("progress stored in postgres db %s", s.config.PostgresDBName)
		return repo, nil
	default:
		log.Debugf("progress stored in file %s", s.config.ProgressFile)
		return progress.NewFileRepo(s.config.ProgressFile), nil
	}
}

func newEstimator(ctx context.Context, cfg *config.Config) (pose.Estimator, error) {
	timeout := time.Duration(cfg.EstimatorTimeoutSec) * time.Second
	switch cfg.EstimatorType {
	case config.EstimatorWebSocket:
		e := pose.NewWSEstimator(cfg.EstimatorURL, timeout)
		// reconnects on the next frame when the service is not up yet
		if err := e.Connect(ctx); err != nil {
			log.Warnf("pose estimator %s not reachable: %s", cfg.EstimatorURL, err)
		}
		return e, nil
	case config.EstimatorHTTP:
		return pose.NewHTTPEstimator(pose.HTTPEstimatorParams{
			BaseURL:  cfg.EstimatorURL,
			Timeout:  timeout,
			Attempts: cfg.EstimatorRetries,
		}), nil
	default:
		return nil, fmt.Errorf("unknown estimator type: %s", cfg.EstimatorType)
	}
}

func newCameraSource(cfg *config.Config) (camera.Source, error) {
	switch cfg.CameraType {
	case config.CameraDir:
		src := camera.NewDirSource(cfg.CameraDir, cfg.CameraFPS)
		log.Debugf("camera: looping %d frames from %s", src.Len(), cfg.CameraDir)
		return src, nil
	case config.CameraMJPEG:
		log.Debugf("camera: mjpeg stream %s", cfg.CameraURL)
		return camera.NewMJPEGSource(cfg.CameraURL), nil
	default:
		return nil, fmt.Errorf("unknown camera type: %s", cfg.CameraType)
	}
}

// rateLimit uses the shared redis limiter when available.
func (s *Server) rateLimit(routeName string, allowedPerMin int) func(next http.Handler) http.Handler {
	if s.rateLimiter != nil {
		return middleware.RateLimit(s.rateLimiter, routeName, allowedPerMin, s.metricsManager)
	}
	return middleware.LocalRateLimit(allowedPerMin, s.metricsManager)
}

func limitRoute(route *mux.Route, limiter func(next http.Handler) http.Handler) {
	route.Handler(limiter(route.GetHandler()))
}

func (s *Server) routerSetup() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	if s.authService != nil {
		authHandler := auth.NewHandler(s.authService, s.validator)
		loginRouter := authHandler.SetupRoutes(r)
		loginRouter.Use(s.rateLimit("login", s.config.LoginRateLimitPerMin))
	}

	coach := training.NewCoach(s.session, s.progressService, s.hub, s.metricsManager)
	pipeline := training.NewPipeline(training.PipelineParams{
		Source:     s.camera,
		Estimator:  s.estimator,
		References: s.references,
		Session:    s.session,
		Renderer:   overlay.NewRenderer(s.config.FrameJPEGQuality),
		Hub:        s.hub,
		Metrics:    s.metricsManager,
		Mirror:     s.config.CameraMirror,
	})
	trainingHandler := training.NewHandler(training.HandlerParams{
		Coach:      coach,
		Pipeline:   pipeline,
		Hub:        s.hub,
		References: s.references,
		Validator:  s.validator,
		Metrics:    s.metricsManager,
	})
	actionRoute := trainingHandler.SetupRoutes(r)
	limitRoute(actionRoute, s.rateLimit("action", s.config.ActionRateLimitPerMin))

	progressHandler := progress.NewHandler(s.progressService, s.session, s.validator)
	updateRoute := progressHandler.SetupRoutes(r)
	limitRoute(updateRoute, s.rateLimit("update-progress", s.config.ActionRateLimitPerMin))

	mcpServer := progressmcp.NewServer(s.progressService)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer
	}, nil)
	r.Handle("/mcp", mcpHandler).Name("mcp")

	webHandler, err := web.NewHandler(s.progressService, s.references, s.config.ReferenceImages)
	if err != nil {
		return nil, fmt.Errorf("web handler: %w", err)
	}
	webHandler.SetupRoutes(r)

	r.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(s.versionInfo))
	}).Methods("GET").Name("version")

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(nil)
	if s.loginChecker != nil {
		authMiddleware = middleware.NewAuthMiddlewareHandler(s.loginChecker)
	}

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r, nil
}

func (s *Server) Serve(_ context.Context, host string, port int) {
	router, err := s.routerSetup()
	if err != nil {
		log.Fatalf("failed to setup router: %s", err)
	}

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler: router,
		Addr:    ipAndPort,
		// the video feed clears its own write deadline
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	// close websocket subscribers and stop the frame source first, so the
	// long lived video and score connections finish
	s.hub.Close()
	if err := s.camera.Close(); err != nil {
		log.Errorf("failed to close camera source: %s", err)
	}

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	if err := s.estimator.Close(); err != nil {
		log.Errorf("failed to close pose estimator: %s", err)
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed, http.StateHijacked:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
