// ABOUTME: Reference CLI client: joins a session and plays its assigned channel
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stereofield/stereofield/pkg/sfclient"
)

func main() {
	serverAddr := flag.String("server", "localhost:8927", "Session server address, host:port")
	sessionID := flag.String("session", "", "Session id to join")
	cacheDir := flag.String("cache", "", "Directory to cache downloaded channel audio (defaults to a temp dir)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	dir := *cacheDir
	if dir == "" {
		var err error
		dir, err = os.MkdirTemp("", "stereofield-client-")
		if err != nil {
			log.Fatalf("failed to create cache dir: %v", err)
		}
	}

	zapCfg := zap.NewProductionConfig()
	if *debug {
		zapCfg = zap.NewDevelopmentConfig()
	}
	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	client := sfclient.New(sfclient.Config{
		ServerAddr: *serverAddr,
		SessionID:  *sessionID,
		CacheDir:   dir,
		Logger:     logger,
	})
	defer client.Close()

	logger.Info("connecting", zap.String("server", *serverAddr), zap.String("session", *sessionID))
	if err := client.Connect(); err != nil {
		log.Fatalf("failed to connect: %v", err)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			logger.Info("status", zap.String("state", string(client.Status())), zap.String("channel", client.Channel()))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
}
