package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/handlers"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/media"
	"media-pipeline/internal/memory"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/middleware"
	"media-pipeline/internal/orchestrator"
	"media-pipeline/internal/probe"
	"media-pipeline/internal/startup"
	"media-pipeline/internal/transcoder"
	"media-pipeline/internal/workers"

	"github.com/gorilla/mux"
)

// metricsInterval is how often persistence gauges are refreshed.
const metricsInterval = time.Minute

func main() {
	startTime := time.Now()

	// Set GOMEMLIMIT before significant allocations
	memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, startup.GoVersion)
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error("failed to close database: %v", err)
		}
	}()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Image processing falls back to pure Go when libvips is unavailable
	vipsErr := media.InitVips()
	startup.LogImageInit(vipsErr)
	defer media.ShutdownVips()

	// Initialize transcoding
	startup.LogTranscoderInit(config.FFmpegPath, config.FFprobePath, config.TranscodeWorkers)
	ffmpeg := transcoder.NewFFmpeg(config.FFmpegPath, config.TranscodeTimeout)
	prober := probe.New(config.FFprobePath, config.ProbeTimeout)

	memMonitor := memory.NewMonitor(memory.DefaultConfig())
	memMonitor.Start()

	orch := orchestrator.New(orchestrator.Dependencies{
		Images: media.NewImageTransform(),
		Video:  transcoder.NewVideoTransform(ffmpeg, prober),
		Audio:  transcoder.NewAudioTransform(ffmpeg, prober),
		Prober: prober,
		Pool:   workers.NewPool(config.TranscodeWorkers).WithGate(memMonitor),
	})

	collector := metrics.NewCollector(dbStatsAdapter{source: db}, metricsInterval)
	collector.Start()

	// Initialize handlers
	h := handlers.New(db, orch, handlers.Options{
		UploadDir:      config.UploadDir,
		OutputDir:      config.OutputDir,
		ChunkDir:       config.ChunkDir,
		AutoAssemble:   config.AutoAssemble,
		MaxUploadBytes: config.MaxUploadBytes,
	})

	// Setup router
	router := setupRouter(h, config.MetricsEnabled)

	// Log routes dynamically
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.RequestID(middleware.Logger(loggingConfig)(router))

	// Create server. Uploads and transcodes can run long, so only the
	// header read is bounded.
	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	// Start graceful shutdown handler
	done := make(chan struct{})
	go handleShutdown(srv, collector, memMonitor, ffmpeg, done)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

func setupRouter(h *handlers.Handlers, metricsEnabled bool) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")
	if metricsEnabled {
		r.Handle("/metrics", h.MetricsHandler()).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// Uploads
	api.HandleFunc("/upload", h.UploadFile).Methods("POST")
	api.HandleFunc("/upload/chunk", h.UploadChunk).Methods("POST")
	api.HandleFunc("/upload/finalize", h.FinalizeUpload).Methods("POST")
	api.HandleFunc("/upload/status", h.UploadStatus).Methods("GET")
	api.HandleFunc("/upload/{id}", h.CancelUpload).Methods("DELETE")

	// Processing
	api.HandleFunc("/process", h.ProcessMedia).Methods("POST")
	api.HandleFunc("/process/batch", h.ProcessBatch).Methods("POST")
	api.HandleFunc("/inspect", h.InspectMedia).Methods("GET")
	api.HandleFunc("/thumbnails", h.ExtractThumbnails).Methods("POST")

	// Records
	api.HandleFunc("/records", h.ListRecords).Methods("GET")
	api.HandleFunc("/records/{id}", h.GetRecord).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	return r
}

// statsSource is the part of the database the metrics collector reads.
type statsSource interface {
	Stats(ctx context.Context) (database.Stats, error)
}

// dbStatsAdapter adapts database stats to metrics.StatsProvider.
type dbStatsAdapter struct {
	source statsSource
}

func (a dbStatsAdapter) Stats(ctx context.Context) (metrics.Stats, error) {
	s, err := a.source.Stats(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}
	byKind := make(map[string]int, len(s.Records))
	for kind, n := range s.Records {
		byKind[string(kind)] = n
	}
	return metrics.Stats{RecordsByKind: byKind, Derivatives: s.Derivatives}, nil
}

func handleShutdown(srv *http.Server, collector *metrics.Collector, memMonitor *memory.Monitor, ffmpeg *transcoder.FFmpeg, done chan<- struct{}) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Stopping metrics collector")
	collector.Stop()
	startup.LogShutdownStepComplete("Metrics collector stopped")

	startup.LogShutdownStep("Stopping memory monitor")
	memMonitor.Stop()
	startup.LogShutdownStepComplete("Memory monitor stopped")

	startup.LogShutdownStep("Stopping ffmpeg processes")
	ffmpeg.Cleanup()
	startup.LogShutdownStepComplete("ffmpeg processes stopped")

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
}
