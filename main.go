package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/api"
	"github.com/your-username/tailhub/internal/backup"
	"github.com/your-username/tailhub/internal/config"
	"github.com/your-username/tailhub/internal/database"
	"github.com/your-username/tailhub/internal/ingestion"
	"github.com/your-username/tailhub/internal/monitoring"
	"github.com/your-username/tailhub/internal/parsing"
	"github.com/your-username/tailhub/internal/tailer"
	"github.com/your-username/tailhub/internal/websocket"
)

var version = "dev"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogger(cfg.LogLevel)

	log.Info().Str("version", version).Msg("Starting tailhub")

	metrics := monitoring.NewMetrics()

	mirror, err := backup.NewMirror(cfg.BackupDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.BackupDir).Msg("Failed to prepare backup directory")
	}

	db, err := database.New(cfg.Database, database.WithMirror(mirror), database.WithMetrics(metrics))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	// The database handle closes last.
	defer db.Close()
	defer mirror.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Init(initCtx); err != nil {
		cancelInit()
		log.Fatal().Err(err).Msg("Failed to initialize schema")
	}
	cancelInit()

	// Hub and its periodic analytics broadcast
	hubCtx, cancelHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(db, cfg.Hub, metrics)
	go hub.Run(hubCtx, cfg.Hub.AnalyticsInterval)
	defer func() {
		cancelHub()
		hub.Close()
	}()

	pipeline := ingestion.NewPipeline(db, hub)
	parser := parsing.NewManager()

	tail := tailer.New(cfg.Tailer, parser, pipeline, metrics)
	if err := tail.Start(hubCtx, cfg.Tailer.Files); err != nil {
		log.Fatal().Err(err).Msg("Failed to start tailer")
	}
	defer tail.Stop()

	if cfg.Listeners.TCPAddr != "" {
		tcpServer := ingestion.NewTCPServer(cfg.Listeners.TCPAddr, parser, pipeline)
		if err := tcpServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start TCP server")
		} else {
			defer tcpServer.Stop()
		}
	}

	if cfg.Listeners.SyslogAddr != "" {
		syslogServer := ingestion.NewSyslogServer(cfg.Listeners.SyslogAddr, parsing.NewDefaultRuleSet(), pipeline)
		if err := syslogServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start Syslog server")
		} else {
			defer syslogServer.Stop()
		}
	}

	health := monitoring.NewHealthMonitor(version)
	health.RegisterChecker(monitoring.NewStorageHealthChecker(db))
	health.RegisterChecker(monitoring.NewTailerHealthChecker(tail))
	health.RegisterChecker(monitoring.NewHubHealthChecker(hub))

	router := api.NewRouter(api.Dependencies{
		Store:          db,
		Pipeline:       pipeline,
		Hub:            hub,
		Health:         health,
		Metrics:        metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
		close(done)
	}()

	log.Info().Str("port", cfg.Server.Port).Int("files", tail.ActiveWatches()).Msg("Server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed to start")
	}

	<-done
	log.Info().Msg("Server stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if lvl == zerolog.DebugLevel {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
