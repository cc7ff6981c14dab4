package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/2beens/posecoach/internal/config"
	"github.com/2beens/posecoach/internal/db"
	"github.com/2beens/posecoach/internal/progress"
	"github.com/2beens/posecoach/internal/progress/backup"

	"gopkg.in/natefinch/lumberjack.v2"
)

// progress google drive backup cmd

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development | ddev | dockerdev]")
	configPath := flag.String("config", "./config.toml", "path to TOML config file")
	credentialsFile := flag.String("gd-creds", "./drive-credentials.json", "google drive service account credentials json")
	folderName := flag.String("folder", backup.DefaultFolderName, "google drive folder for the backups")
	keep := flag.Int("keep", 30, "how many newest backups to keep (0 keeps all)")
	list := flag.Bool("list", false, "only list the existing backups")
	logsPath := flag.String("logs-path", "", "backup logs file path (empty for stdout)")
	flag.Parse()

	loggingSetup(*logsPath)

	log.Println("starting progress backup ...")

	if *credentialsFile == "" {
		log.Fatalln("google drive credentials json not specified")
	}

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %s", err)
	}

	credentialsFileBytes, err := os.ReadFile(*credentialsFile)
	if err != nil {
		log.Fatalf("unable to read credentials file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var repo progress.Repo
	if cfg.ProgressStore == config.ProgressStorePostgres {
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:     cfg.PostgresHost,
			DBPort:     cfg.PostgresPort,
			DBName:     cfg.PostgresDBName,
			DBUser:     os.Getenv("POSECOACH_DB_USER"),
			DBPassword: os.Getenv("POSECOACH_DB_PASS"),
		})
		if err != nil {
			log.Fatalf("db pool: %s", err)
		}
		defer dbPool.Close()
		repo = progress.NewPsqlRepo(dbPool)
	} else {
		repo = progress.NewFileRepo(cfg.ProgressFile)
	}

	store, err := backup.NewGoogleDriveStore(ctx, credentialsFileBytes, *folderName)
	if err != nil {
		log.Fatalf("failed to create google drive backup store: %s", err)
	}

	s := backup.NewService(repo, store, *keep)

	if *list {
		files, err := s.List(ctx)
		if err != nil {
			log.Fatalf("list backups: %s", err)
		}
		for _, f := range files {
			log.Printf("%s\t%s\t%s", f.CreatedTime, f.Name, f.ID)
		}
		log.Printf("%d backups in [%s]", len(files), *folderName)
		return
	}

	name, err := s.DoBackup(ctx, time.Now())
	if err != nil {
		log.Fatalf("%+v", err)
	}
	log.Printf("backup done: %s", name)
}

func loggingSetup(logFileName string) {
	if logFileName == "" {
		log.SetOutput(os.Stdout)
		return
	}

	if !strings.HasSuffix(logFileName, ".log") {
		logFileName += ".log"
	}

	log.SetOutput(&lumberjack.Logger{
		Filename:  logFileName,
		MaxSize:   50,    // megabytes
		LocalTime: false, // false -> use UTC
		Compress:  true,  // disabled by default
	})
}
