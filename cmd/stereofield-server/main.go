// ABOUTME: Entry point for the stereo field session server
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stereofield/stereofield/internal/admin"
	"github.com/stereofield/stereofield/internal/config"
	"github.com/stereofield/stereofield/internal/httpapi"
	"github.com/stereofield/stereofield/internal/ingest"
	"github.com/stereofield/stereofield/internal/session"
	"github.com/stereofield/stereofield/internal/transport"
)

const shutdownGrace = 5 * time.Second

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	tui        = flag.Bool("tui", false, "Run the read-only admin console alongside the server")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger := buildLogger(*debug)
	defer logger.Sync()

	if err := os.MkdirAll(cfg.AudioRoot, 0o755); err != nil {
		logger.Fatal("failed to create audio root", zap.Error(err))
	}
	checkBinaries(cfg, logger)

	store := session.NewStore(cfg.PersistPath, logger.Named("session"))

	index, err := ingest.OpenIndex(cfg.IndexPath, cfg.AudioRoot, logger.Named("index"))
	if err != nil {
		logger.Warn("track index unavailable, falling back to directory walk", zap.Error(err))
	}

	// index is a *ingest.TrackIndex; if OpenIndex failed it is nil. Only
	// assign it into the ingest.Index/httpapi.TrackIndex interface fields
	// when non-nil, otherwise both would hold a non-nil interface wrapping a
	// nil pointer and any call through it would panic.
	var pipelineIndex ingest.Index
	var apiIndex httpapi.TrackIndex
	if index != nil {
		pipelineIndex = index
		apiIndex = index
	}

	pipeline := ingest.NewPipeline(ingest.Config{
		AudioRoot:        cfg.AudioRoot,
		FetcherBinary:    cfg.FetcherBinary,
		TranscoderBinary: cfg.TranscoderBinary,
		ProbeBinary:      cfg.ProbeBinary,
		Index:            pipelineIndex,
		Logger:           logger.Named("ingest"),
	})

	dispatcher := transport.NewDispatcher(store, pipeline, cfg.AudioRoot, logger.Named("transport"))

	api := httpapi.NewAPI(store, apiIndex, cfg.AudioRoot, logger.Named("httpapi"))
	router := httpapi.NewRouter(api)
	router.GET("/ws", func(c *gin.Context) {
		dispatcher.HandleWebSocket(c.Writer, c.Request)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: router}

	if *tui {
		go func() {
			if err := admin.Run(store, pipeline); err != nil {
				logger.Warn("admin console exited", zap.Error(err))
			}
		}()
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logger.Info("stereo field server listening", zap.Int("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
	if index != nil {
		index.Close()
	}
}

func buildLogger(debug bool) *zap.Logger {
	var zapCfg zap.Config
	if debug {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func checkBinaries(cfg *config.Config, logger *zap.Logger) {
	for name, bin := range map[string]string{
		"fetcher":    cfg.FetcherBinary,
		"transcoder": cfg.TranscoderBinary,
		"probe":      cfg.ProbeBinary,
	} {
		if _, err := exec.LookPath(bin); err != nil {
			logger.Warn("ingestion binary not found on PATH, ingestion will fail until it is installed",
				zap.String("binary", name), zap.String("path", bin))
		}
	}
}
