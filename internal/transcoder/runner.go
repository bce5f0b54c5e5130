package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/metrics"
)

// DefaultTimeout bounds a single ffmpeg invocation.
const DefaultTimeout = 30 * time.Minute

// stderrTailBytes is how much of ffmpeg's stderr is kept for error reports.
const stderrTailBytes = 4096

// Runner executes one ffmpeg invocation given its argument vector (without
// the binary name).
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// FFmpeg runs the ffmpeg binary with a per-invocation timeout and tracks live
// children so they can be killed on shutdown.
type FFmpeg struct {
	binary  string
	timeout time.Duration

	processes map[int]*exec.Cmd
	processMu sync.Mutex
	nextID    int
}

// NewFFmpeg returns a runner for binary (default "ffmpeg"). A non-positive
// timeout selects DefaultTimeout.
func NewFFmpeg(binary string, timeout time.Duration) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FFmpeg{
		binary:    binary,
		timeout:   timeout,
		processes: make(map[int]*exec.Cmd),
	}
}

// Run executes ffmpeg. A process that outlives the timeout is killed and
// reported as KindTimeout; a non-zero exit is KindTranscode with the tail of
// stderr attached.
func (f *FFmpeg) Run(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, f.binary, full...)
	cmd.WaitDelay = 5 * time.Second

	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	log.Debug("exec %s %s", f.binary, strings.Join(full, " "))

	if err := cmd.Start(); err != nil {
		metrics.FFmpegExitsTotal.WithLabelValues("ffmpeg", "error").Inc()
		return &mediaerr.Error{Kind: mediaerr.KindTranscode, Op: "ffmpeg", Reason: "failed to start", ExitCode: -1, Err: err}
	}

	id := f.track(cmd)
	defer f.untrack(id)

	err := cmd.Wait()
	if err == nil {
		metrics.FFmpegExitsTotal.WithLabelValues("ffmpeg", "ok").Inc()
		return nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.FFmpegExitsTotal.WithLabelValues("ffmpeg", "timeout").Inc()
		return &mediaerr.Error{
			Kind:       mediaerr.KindTimeout,
			Op:         "ffmpeg",
			Reason:     fmt.Sprintf("process exceeded %s and was killed", f.timeout),
			StderrTail: stderr.String(),
			Err:        context.DeadlineExceeded,
		}
	case ctx.Err() != nil:
		metrics.FFmpegExitsTotal.WithLabelValues("ffmpeg", "canceled").Inc()
		return fmt.Errorf("ffmpeg: %w", ctx.Err())
	}

	metrics.FFmpegExitsTotal.WithLabelValues("ffmpeg", "error").Inc()
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	tail := stderr.String()
	log.Error("ffmpeg exited with code %d: %s", exitCode, lastLine(tail))
	return &mediaerr.Error{
		Kind:       mediaerr.KindTranscode,
		Op:         "ffmpeg",
		Reason:     lastLine(tail),
		ExitCode:   exitCode,
		StderrTail: tail,
		Err:        err,
	}
}

func (f *FFmpeg) track(cmd *exec.Cmd) int {
	f.processMu.Lock()
	defer f.processMu.Unlock()
	f.nextID++
	f.processes[f.nextID] = cmd
	metrics.FFmpegProcessesRunning.Inc()
	return f.nextID
}

func (f *FFmpeg) untrack(id int) {
	f.processMu.Lock()
	defer f.processMu.Unlock()
	if _, ok := f.processes[id]; ok {
		delete(f.processes, id)
		metrics.FFmpegProcessesRunning.Dec()
	}
}

// Active returns the number of running children.
func (f *FFmpeg) Active() int {
	f.processMu.Lock()
	defer f.processMu.Unlock()
	return len(f.processes)
}

// Cleanup kills all running children.
func (f *FFmpeg) Cleanup() {
	f.processMu.Lock()
	defer f.processMu.Unlock()

	for id, cmd := range f.processes {
		if cmd.Process != nil {
			log.Info("Killing ffmpeg process %d (pid %d)", id, cmd.Process.Pid)
			if err := cmd.Process.Kill(); err != nil {
				log.Warn("failed to kill ffmpeg process %d: %v", id, err)
			}
		}
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
