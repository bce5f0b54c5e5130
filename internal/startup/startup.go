package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"media-pipeline/internal/logging"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo is served by /version.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

const rule = "------------------------------------------------------------"

// section logs a blank line and a ruled heading.
func section(title string) {
	logging.Info("")
	logging.Info(rule)
	logging.Info("%s", title)
	logging.Info(rule)
}

func printBanner() {
	fmt.Println()
	fmt.Println(rule)
	fmt.Println("  MEDIA PIPELINE  ::  ingest / probe / transcode")
	fmt.Println(rule)
	logging.Info("  Version %s (%s), built %s", Version, Commit, BuildTime)
	logging.Info("  Started %s", time.Now().Format(time.RFC1123))
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	procs, cpus := runtime.GOMAXPROCS(0), runtime.NumCPU()
	logging.Info("  %s on %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	logging.Info("  GOMAXPROCS %d of %d CPUs", procs, cpus)
	if procs < cpus {
		logging.Info("  (container CPU limit detected)")
	}
	if wd, err := os.Getwd(); err == nil {
		logging.Debug("  working dir: %s", wd)
	}
	if host, err := os.Hostname(); err == nil {
		logging.Debug("  hostname:    %s", host)
	}
}

// LogDatabaseInit reports how long opening and migrating the store took.
func LogDatabaseInit(took time.Duration) {
	section("DATABASE INITIALIZATION")
	logging.Info("  [OK] Database ready in %v", took)
}

// LogImageInit reports which image encoder is active.
func LogImageInit(vipsErr error) {
	section("IMAGE PIPELINE INITIALIZATION")
	if vipsErr != nil {
		logging.Warn("  libvips unavailable: %v", vipsErr)
		logging.Warn("  Only JPEG and PNG output will be supported")
		return
	}
	logging.Info("  [OK] libvips initialized")
}

// LogTranscoderInit checks that the ffmpeg and ffprobe binaries answer.
// Missing tools are a warning: image requests still work without them.
func LogTranscoderInit(ffmpegPath, ffprobePath string, poolSize int) {
	section("TRANSCODER INITIALIZATION")
	logging.Info("  Worker pool size: %d", poolSize)
	for _, tool := range []string{ffmpegPath, ffprobePath} {
		version, err := toolVersion(tool)
		if err != nil {
			logging.Warn("  %v; video and audio processing will fail", err)
			continue
		}
		logging.Info("  [OK] %s", filepath.Base(tool))
		logging.Debug("       %s", version)
	}
}

// toolVersion returns the first line of `binary -version`.
func toolVersion(binary string) (string, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", binary)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("%s -version: %w", binary, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// RouteInfo is one method and path pair of a registered route.
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// GetRoutes lists the routes registered on router. Routes without a
// method matcher are reported with method "*".
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}
		for _, m := range methods {
			routes = append(routes, RouteInfo{Method: m, Path: path, Name: route.GetName()})
		}
		return nil
	})
	return routes, err
}

// LogHTTPRoutes logs the route table at debug level, grouped by prefix.
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}
		groups := make(map[string][]RouteInfo)
		for _, r := range routes {
			g := routeGroup(r.Path)
			groups[g] = append(groups[g], r)
		}
		names := make([]string, 0, len(groups))
		for g := range groups {
			names = append(names, g)
		}
		sort.Strings(names)

		logging.Debug("  %d routes", len(routes))
		for _, g := range names {
			label := g
			if label == "" {
				label = "root"
			}
			logging.Debug("  [%s]", label)
			for _, r := range groups[g] {
				logging.Debug("    %-6s %s", r.Method, r.Path)
			}
		}
	}

	logging.Info("  Health check logging: %s", onOff(logHealthChecks))
}

// routeGroup is the first path segment, or "api/<segment>" under /api.
func routeGroup(path string) string {
	first, rest, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if first == "api" && rest != "" {
		sub, _, _ := strings.Cut(rest, "/")
		return "api/" + sub
	}
	return first
}

// ServerConfig holds what LogServerStarted prints.
type ServerConfig struct {
	Port            string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

func LogServerStarted(cfg ServerConfig) {
	section("SERVER STARTED")
	base := "http://0.0.0.0:" + cfg.Port
	logging.Info("  Startup time:  %v", cfg.StartupDuration)
	logging.Info("  Upload API:    %s/api/upload", base)
	logging.Info("  Process API:   %s/api/process", base)
	if cfg.MetricsEnabled {
		logging.Info("  Metrics:       %s/metrics", base)
	}
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info(rule)
}

func LogShutdownInitiated(signal string) {
	section("SHUTDOWN INITIATED (received " + signal + ")")
}

func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs and exits with status 1.
func LogFatal(format string, args ...any) {
	logging.Fatal(format, args...)
}
