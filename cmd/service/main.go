package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/2beens/posecoach/internal"
	"github.com/2beens/posecoach/internal/config"
	"github.com/2beens/posecoach/internal/logging"
	"github.com/2beens/posecoach/pkg"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development | ddev | dockerdev ]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	envFile := flag.String("env-file", ".env", "optional file with secrets as env vars")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash for POSECOACH_ADMIN_PASSWORD_HASH and exit")
	flag.Parse()

	if *hashPassword != "" {
		if err := printPasswordHash(os.Stdout, *hashPassword); err != nil {
			fmt.Fprintf(os.Stderr, "hash password: %s\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("starting ...")

	if err := godotenv.Load(*envFile); err != nil {
		// real env vars still apply
		fmt.Printf("env file [%s] not loaded: %s\n", *envFile, err)
	}

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "posecoach",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)

	versionInfo, err := tryGetLastCommitHash()
	if err != nil {
		log.Tracef("failed to get last commit hash / version info: %s", err)
	} else {
		log.Tracef("running version: %s", versionInfo)
	}

	adminUsername := os.Getenv("POSECOACH_ADMIN_USERNAME")
	adminPasswordHash := os.Getenv("POSECOACH_ADMIN_PASSWORD_HASH")
	if cfg.RedisEnabled() && (adminUsername == "" || adminPasswordHash == "") {
		log.Errorf("admin username and password not set. use POSECOACH_ADMIN_USERNAME and POSECOACH_ADMIN_PASSWORD_HASH")
	}

	redisPassword := os.Getenv("POSECOACH_REDIS_PASS")
	if cfg.RedisEnabled() && redisPassword == "" {
		log.Warnln("redis password not set. use POSECOACH_REDIS_PASS")
	}

	postgresUser := os.Getenv("POSECOACH_DB_USER")
	postgresPassword := os.Getenv("POSECOACH_DB_PASS")
	if cfg.ProgressStore == config.ProgressStorePostgres && postgresPassword == "" {
		log.Warnln("postgres password not set. use POSECOACH_DB_PASS")
	}

	if otelServiceName := os.Getenv("OTEL_SERVICE_NAME"); otelServiceName == "" {
		log.Debugln("OTEL_SERVICE_NAME env var not set")
	}

	honeycombEnabled := os.Getenv("HONEYCOMB_ENABLED") == "true"
	if honeycombEnabled {
		if honeycombApiKey := os.Getenv("HONEYCOMB_API_KEY"); honeycombApiKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	if err := checkPaths(cfg); err != nil {
		log.Fatalf("check paths: %s", err)
	}

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			VersionInfo:             versionInfo,
			AdminUsername:           adminUsername,
			AdminPasswordHash:       adminPasswordHash,
			RedisPassword:           redisPassword,
			PostgresUser:            postgresUser,
			PostgresPassword:        postgresPassword,
			HoneycombTracingEnabled: honeycombEnabled,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(ctx, cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, killing everything ...", receivedSig)
	cancel()

	server.GracefulShutdown()
}

func printPasswordHash(w io.Writer, password string) error {
	hash, err := pkg.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

// checkPaths creates the folder of the progress file, so the first
// /update_progress does not fail, and warns about missing pose folders.
func checkPaths(cfg *config.Config) error {
	if cfg.ProgressStore == config.ProgressStoreFile {
		log.Printf("progress file: %s", cfg.ProgressFile)
		if err := pkg.EnsureDir(filepath.Dir(cfg.ProgressFile)); err != nil {
			return fmt.Errorf("progress file dir: %w", err)
		}
	}

	for _, dir := range []string{cfg.ReferencesPath, cfg.ReferenceImages} {
		if dir == "" {
			continue
		}
		exists, err := pkg.PathExists(dir, true)
		if err != nil {
			return err
		}
		if !exists {
			log.Warnf("folder [%s] does not exist", dir)
		}
	}

	return nil
}

// tryGetLastCommitHash will try to get the last commit hash
// assumes that the built main executable is in project root
func tryGetLastCommitHash() (string, error) {
	cmd := exec.Command("/usr/bin/git", "rev-parse", "HEAD")
	stdout, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return pkg.BytesToString(stdout), nil
}
