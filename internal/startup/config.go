package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/workers"
)

// Defaults for the pipeline tunables.
const (
	DefaultTranscodeTimeout = 30 * time.Minute
	DefaultProbeTimeout     = 30 * time.Second
	DefaultMaxUploadBytes   = 10 << 30
)

// Config is the server configuration, read from the environment.
type Config struct {
	UploadDir       string
	OutputDir       string
	DatabaseDir     string
	Port            string
	MetricsEnabled  bool
	LogHealthChecks bool

	FFmpegPath       string
	FFprobePath      string
	TranscodeTimeout time.Duration
	ProbeTimeout     time.Duration
	TranscodeWorkers int

	// AutoAssemble makes the final chunk of an upload trigger assembly
	// without a finalize request.
	AutoAssemble   bool
	MaxUploadBytes int64

	DatabasePath string
	ChunkDir     string
}

// LoadConfig reads the environment, prepares the working directories and
// logs the result.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	cfg := &Config{
		UploadDir:        envString("UPLOAD_DIR", "/uploads"),
		OutputDir:        envString("OUTPUT_DIR", "/output"),
		DatabaseDir:      envString("DATABASE_DIR", "/database"),
		Port:             envString("PORT", "8080"),
		MetricsEnabled:   envBool("METRICS_ENABLED", true),
		LogHealthChecks:  envBool("LOG_HEALTH_CHECKS", true),
		FFmpegPath:       envString("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      envString("FFPROBE_PATH", "ffprobe"),
		TranscodeTimeout: envDuration("TRANSCODE_TIMEOUT", DefaultTranscodeTimeout),
		ProbeTimeout:     envDuration("PROBE_TIMEOUT", DefaultProbeTimeout),
		TranscodeWorkers: envInt("TRANSCODE_WORKERS", 0),
		AutoAssemble:     envBool("AUTO_ASSEMBLE", true),
		MaxUploadBytes:   envInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
	}
	if cfg.TranscodeWorkers <= 0 {
		cfg.TranscodeWorkers = workers.ForCPU(0)
	}
	cfg.log()

	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}

	section("DIRECTORY SETUP")
	for _, d := range []struct {
		name string
		path *string
	}{
		{"upload", &cfg.UploadDir},
		{"output", &cfg.OutputDir},
		{"database", &cfg.DatabaseDir},
	} {
		abs, err := prepareDir(d.name, *d.path)
		if err != nil {
			return nil, err
		}
		*d.path = abs
	}

	cfg.DatabasePath = filepath.Join(cfg.DatabaseDir, "media.db")
	cfg.ChunkDir = filepath.Join(cfg.UploadDir, ".chunks")
	if err := ensureDir(cfg.ChunkDir); err != nil {
		return nil, fmt.Errorf("chunk directory: %w", err)
	}

	logging.Info("")
	logging.Info("  Auto-assemble: %s", onOff(cfg.AutoAssemble))
	logging.Info("  Metrics:       %s", onOff(cfg.MetricsEnabled))
	return cfg, nil
}

func (c *Config) log() {
	section("CONFIGURATION")
	for _, kv := range []struct {
		key string
		val any
	}{
		{"UPLOAD_DIR", c.UploadDir},
		{"OUTPUT_DIR", c.OutputDir},
		{"DATABASE_DIR", c.DatabaseDir},
		{"PORT", c.Port},
		{"METRICS_ENABLED", c.MetricsEnabled},
		{"LOG_HEALTH_CHECKS", c.LogHealthChecks},
		{"FFMPEG_PATH", c.FFmpegPath},
		{"FFPROBE_PATH", c.FFprobePath},
		{"TRANSCODE_TIMEOUT", c.TranscodeTimeout},
		{"PROBE_TIMEOUT", c.ProbeTimeout},
		{"TRANSCODE_WORKERS", c.TranscodeWorkers},
		{"AUTO_ASSEMBLE", c.AutoAssemble},
		{"MAX_UPLOAD_BYTES", c.MaxUploadBytes},
		{"LOG_LEVEL", logging.GetLevel()},
	} {
		logging.Info("  %-20s %v", kv.key+":", kv.val)
	}
}

// prepareDir makes path absolute, creates it when missing and checks that
// it accepts writes.
func prepareDir(name, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s directory: %w", name, err)
	}
	logging.Debug("  %s directory: %s", name, abs)

	if err := ensureDir(abs); err != nil {
		return "", fmt.Errorf("%s directory: %w", name, err)
	}
	probe := filepath.Join(abs, ".write-test")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return "", fmt.Errorf("%s directory is not writable: %w", name, err)
	}
	if err := os.Remove(probe); err != nil {
		logging.Warn("failed to remove %s: %v", probe, err)
	}
	logging.Info("  [OK] %-9s %s", name, abs)
	return abs, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("    creating %s", path)
		return os.MkdirAll(path, 0o755)
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%s exists but is not a directory", path)
	}
	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// fromEnv parses key with parse. Unset variables and values parse rejects
// yield def.
func fromEnv[T any](key string, def T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		logging.Warn("ignoring %s=%q (%v), using %v", key, raw, err, def)
		return def
	}
	return v
}

func envString(key, def string) string {
	return fromEnv(key, def, func(s string) (string, error) { return s, nil })
}

func envBool(key string, def bool) bool {
	return fromEnv(key, def, strconv.ParseBool)
}

func envInt(key string, def int) int {
	return fromEnv(key, def, strconv.Atoi)
}

func envInt64(key string, def int64) int64 {
	return fromEnv(key, def, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func envDuration(key string, def time.Duration) time.Duration {
	return fromEnv(key, def, func(s string) (time.Duration, error) {
		d, err := time.ParseDuration(s)
		if err == nil && d <= 0 {
			err = errors.New("must be positive")
		}
		return d, err
	})
}
