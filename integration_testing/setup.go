//go:build integration_test || all_tests

package integration_testing

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	"github.com/2beens/posecoach/internal"
	"github.com/2beens/posecoach/internal/config"

	_ "github.com/lib/pq"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/suite"
)

const (
	serverPort = 9000
	serverHost = "127.0.0.1"
	dbName     = "posecoach"
)

var serverEndpoint = fmt.Sprintf("http://%s:%d", serverHost, serverPort)

var (
	testUsername     = "testuser"
	testPassword     = "testpass"
	testPasswordHash = "$2a$14$6Gmhg85si2etd3K9oB8nYu1cxfbrdmhkg6wI6OXsa88IF4L2r/L9i" // testpass
)

// IntegrationTestSuite runs the whole service against dockerized redis and
// postgres, with a folder of frames as the camera and a stub pose estimator.
type IntegrationTestSuite struct {
	suite.Suite

	DB         *sql.DB
	dockerPool *dockertest.Pool
	server     *internal.Server
	estimator  *httptest.Server
	httpClient *http.Client
	teardown   []func()
}

// runs before all tests are executed
func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()
	fmt.Println("setting up test suite...")

	s.teardown = make([]func(), 0)
	s.httpClient = &http.Client{Timeout: 10 * time.Second}

	// uses a sensible default on windows (tcp/http) and linux/osx (socket)
	var err error
	s.dockerPool, err = dockertest.NewPool("")
	if err != nil {
		log.Fatalf("could not create new dockertest pool: %s", err)
	}

	// uses pool to try to connect to Docker
	if err = s.dockerPool.Client.Ping(); err != nil {
		log.Fatalf("could not ping dockertest pool: %s", err)
	}
	fmt.Println("dockertest pool ping successful")

	redisPort, err := s.redisSetup()
	if err != nil {
		s.cleanup()
		log.Fatalf("failed to setup redis: %s", err.Error())
	}
	fmt.Println("redis setup successful")

	pgPort, err := s.postgresSetup()
	if err != nil {
		s.cleanup()
		log.Fatalf("failed to setup postgres: %s", err)
	}
	fmt.Println("postgres setup successful")

	framesDir, err := s.framesSetup()
	if err != nil {
		s.cleanup()
		log.Fatalf("failed to setup camera frames: %s", err)
	}

	s.estimator = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"landmarks":[{"x":0.5,"y":0.5,"z":0,"visibility":1}]}`))
	}))
	s.teardown = append(s.teardown, s.estimator.Close)

	cfg := getTestConfig(redisPort, pgPort, framesDir, s.estimator.URL)
	s.server, err = internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			VersionInfo:             "test-version-info",
			AdminUsername:           testUsername,
			AdminPasswordHash:       testPasswordHash,
			RedisPassword:           "",
			PostgresUser:            "postgres",
			HoneycombTracingEnabled: false,
		},
	)
	if err != nil {
		s.cleanup()
		log.Fatalf("new server: %s", err)
	}
	fmt.Println("server created")

	s.server.Serve(ctx, cfg.Host, cfg.Port)
	if err := s.dockerPool.Retry(func() error {
		resp, err := s.httpClient.Get(serverEndpoint + "/version")
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}); err != nil {
		s.cleanup()
		log.Fatalf("server not reachable: %s", err)
	}
	fmt.Println("server started")
}

func (s *IntegrationTestSuite) TearDownSuite() {
	s.cleanup()
}

func (s *IntegrationTestSuite) cleanup() {
	fmt.Println(" --> cleaning up test suite...")
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			fmt.Printf(" --> test suite db close error: %s\n", err)
		}
	}
	if s.server != nil {
		s.server.GracefulShutdown()
	}
	fmt.Println(" --> test suite server shut down")
	for _, teardown := range s.teardown {
		teardown()
	}
	fmt.Println(" --> test suite cleanup done")
}

func getTestConfig(redisPort, postgresPort, framesDir, estimatorURL string) *config.Config {
	return &config.Config{
		Host:                  serverHost,
		Port:                  serverPort,
		PrometheusMetricsHost: serverHost,
		PrometheusMetricsPort: "9002",
		CameraType:            config.CameraDir,
		CameraDir:             framesDir,
		CameraFPS:             20,
		FrameJPEGQuality:      80,
		EstimatorType:         config.EstimatorHTTP,
		EstimatorURL:          estimatorURL,
		EstimatorTimeoutSec:   2,
		EstimatorRetries:      1,
		ReferencesPath:        filepath.Join(framesDir, "references"),
		ProgressStore:         config.ProgressStorePostgres,
		RedisHost:             "localhost",
		RedisPort:             redisPort,
		PostgresPort:          postgresPort,
		PostgresHost:          "localhost",
		PostgresDBName:        dbName,
		ActionRateLimitPerMin: 1000,
		LoginRateLimitPerMin:  100,
	}
}

// framesSetup writes a camera frame and a single reference pose matching the
// stub estimator answer.
func (s *IntegrationTestSuite) framesSetup() (string, error) {
	dir, err := os.MkdirTemp("", "posecoach-frames")
	if err != nil {
		return "", err
	}
	s.teardown = append(s.teardown, func() {
		_ = os.RemoveAll(dir)
	})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 24)), nil); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "frame.jpg"), buf.Bytes(), 0o644); err != nil {
		return "", err
	}

	refDir := filepath.Join(dir, "references")
	if err := os.Mkdir(refDir, 0o755); err != nil {
		return "", err
	}
	ref := []byte(`{"landmarks":[{"x":0.5,"y":0.5,"z":0,"visibility":1}]}`)
	if err := os.WriteFile(filepath.Join(refDir, "pose1.json"), ref, 0o644); err != nil {
		return "", err
	}

	return dir, nil
}

func (s *IntegrationTestSuite) redisSetup() (string, error) {
	redisResource, err := s.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Name:       "posecoach-redis",
		Tag:        "6.2",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
	})
	if err != nil {
		return "", fmt.Errorf("run redis: %s", err)
	}

	s.teardown = append(s.teardown, func() {
		if err := redisResource.Close(); err != nil {
			fmt.Printf("redis teardown: %s\n", err)
		}
	})

	redisPort := redisResource.GetPort("6379/tcp")
	return redisPort, nil
}

func (s *IntegrationTestSuite) postgresSetup() (string, error) {
	pgResource, err := s.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_DB=" + dbName,
			"POSTGRES_HOST_AUTH_METHOD=trust",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return "", fmt.Errorf("dockerpool run postgres: %s", err)
	}

	s.teardown = append(s.teardown, func() {
		if err := pgResource.Close(); err != nil {
			fmt.Printf("postgres teardown: %s\n", err)
		}
	})

	pgPort := pgResource.GetPort("5432/tcp")
	dsn := fmt.Sprintf("postgres://postgres@localhost:%s/%s?sslmode=disable", pgPort, dbName)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", fmt.Errorf("open db conn: %s", err)
	}
	s.DB = db

	if err := s.dockerPool.Retry(db.Ping); err != nil {
		return "", fmt.Errorf("ping db: %s", err)
	}

	return pgPort, nil
}
