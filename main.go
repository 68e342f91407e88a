package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facewatch/facewatch/internal/config"
	"github.com/facewatch/facewatch/internal/datastore"
	"github.com/facewatch/facewatch/internal/detect"
	"github.com/facewatch/facewatch/internal/logger"
	"github.com/facewatch/facewatch/internal/notify"
	"github.com/facewatch/facewatch/internal/pipeline"
	"github.com/facewatch/facewatch/internal/service"
	"github.com/facewatch/facewatch/internal/storage"
	"github.com/facewatch/facewatch/internal/vision"
	"github.com/facewatch/facewatch/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting FaceWatch",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open persistence
	store, err := datastore.Open(cfg.Database.Path, log)
	if err != nil {
		log.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	snapshots, err := storage.NewSnapshotStore(cfg.Storage.ImagesDir, cfg.Storage.JPEGQuality, log)
	if err != nil {
		log.Error("Failed to initialize snapshot storage", "error", err)
		os.Exit(1)
	}

	// Build the detector
	detector, err := buildDetector(cfg)
	if err != nil {
		log.Error("Failed to initialize detector", "error", err)
		os.Exit(1)
	}

	// Wire services
	hub := notify.NewHub(log)

	newSource := func(url string) vision.FrameSource {
		return vision.NewFFmpegSource(vision.FFmpegSourceConfig{
			URL: url,
			FPS: cfg.Pipeline.TargetFPS,
		})
	}
	registry := pipeline.NewRegistry(cfg, detector, store, snapshots, hub, newSource, log)

	retention := storage.NewRetentionService(store, snapshots,
		cfg.Storage.RetentionDays, cfg.Storage.SweepInterval, log)

	svcMgr := service.NewManager(log)
	svcMgr.Register(hub)
	svcMgr.Register(registry)
	svcMgr.Register(retention)

	if cfg.Web.Enabled {
		server := web.NewServer(&cfg.Web, cfg.Pipeline.DisplayFPS, registry, store, snapshots, hub, svcMgr, log)
		server.SetVersion(version)
		svcMgr.Register(server)
	} else {
		log.Info("Web server is disabled")
	}

	if err := svcMgr.Start(ctx); err != nil {
		log.Error("Failed to start services", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

func buildDetector(cfg *config.Config) (detect.Detector, error) {
	switch cfg.Detector.Kind {
	case "remote":
		return detect.NewRemoteDetector(detect.RemoteDetectorConfig{
			ServiceURL:     cfg.Detector.ServiceURL,
			Timeout:        cfg.Detector.Timeout,
			EnabledClasses: cfg.Detector.EnabledClasses,
		}), nil
	default:
		return detect.NewFaceDetector(detect.FaceDetectorConfig{
			CascadePath: cfg.Detector.CascadePath,
		})
	}
}
