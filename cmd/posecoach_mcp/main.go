// Package main runs the progress MCP server over stdio (for local assistant use).
// The same MCP server is also mounted on the main service at /mcp over HTTP.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/2beens/posecoach/internal/config"
	"github.com/2beens/posecoach/internal/db"
	"github.com/2beens/posecoach/internal/progress"
	progressmcp "github.com/2beens/posecoach/internal/progress/mcp"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	env := flag.String("env", "development", "environment [prod | production | dev | development | ddev | dockerdev]")
	configPath := flag.String("config", "./config.toml", "path to TOML config file")
	flag.Parse()

	// stdout carries the MCP protocol
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	var repo progress.Repo
	if cfg.ProgressStore == config.ProgressStorePostgres {
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         os.Getenv("POSECOACH_DB_USER"),
			DBPassword:     os.Getenv("POSECOACH_DB_PASS"),
			TracingEnabled: false,
		})
		if err != nil {
			log.Fatalf("db pool: %v", err)
		}
		defer dbPool.Close()
		repo = progress.NewPsqlRepo(dbPool)
	} else {
		repo = progress.NewFileRepo(cfg.ProgressFile)
	}

	server := progressmcp.NewServer(progress.NewService(repo, nil))
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatal(err)
	}
}
