// Package probe inspects media files with ffprobe and reports their
// intrinsic properties without decoding them.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

var log = logging.Component("probe")

// DefaultTimeout bounds a single ffprobe invocation.
const DefaultTimeout = 30 * time.Second

// MediaProbe holds the properties of one file. Zero numeric fields mean the
// property is unknown. When HasAudio is false every audio field is zero.
type MediaProbe struct {
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	ContainerFormat string  `json:"containerFormat,omitempty"`
	VideoCodec      string  `json:"videoCodec,omitempty"`
	AudioCodec      string  `json:"audioCodec,omitempty"`
	FrameRate       float64 `json:"frameRate,omitempty"`
	BitrateBps      int64   `json:"bitrateBps,omitempty"`
	AudioBitrateBps int64   `json:"audioBitrateBps,omitempty"`
	SampleRate      int     `json:"sampleRate,omitempty"`
	Channels        int     `json:"channels,omitempty"`
	SizeBytes       int64   `json:"sizeBytes,omitempty"`
	HasVideo        bool    `json:"hasVideo"`
	HasAudio        bool    `json:"hasAudio"`
}

// ProbeError reports why a file could not be inspected. No partial data is
// returned alongside it.
type ProbeError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("probe %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("probe %s: %s", e.Path, e.Reason)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Prober is implemented by anything that can inspect a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (MediaProbe, error)
}

// FFProbe runs the ffprobe binary.
type FFProbe struct {
	binary  string
	timeout time.Duration
}

// New returns an FFProbe using binary (default "ffprobe") and a per-call
// timeout (default DefaultTimeout).
func New(binary string, timeout time.Duration) *FFProbe {
	if binary == "" {
		binary = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &FFProbe{binary: binary, timeout: timeout}
}

// Probe inspects path.
func (p *FFProbe) Probe(ctx context.Context, path string) (MediaProbe, error) {
	if _, err := os.Stat(path); err != nil {
		return MediaProbe{}, &ProbeError{Path: path, Reason: "source not accessible", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	metrics.FFmpegProcessesRunning.Inc()
	err := cmd.Run()
	metrics.FFmpegProcessesRunning.Dec()
	metrics.ProbeDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		status, reason := "error", "ffprobe failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status, reason = "timeout", "ffprobe timed out"
		}
		metrics.FFmpegExitsTotal.WithLabelValues("ffprobe", status).Inc()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			reason += ": " + msg
		}
		return MediaProbe{}, &ProbeError{Path: path, Reason: reason, Err: err}
	}
	metrics.FFmpegExitsTotal.WithLabelValues("ffprobe", "ok").Inc()

	probe, err := Parse(stdout.Bytes())
	if err != nil {
		var pe *ProbeError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return MediaProbe{}, err
	}

	log.Debug("%s: %dx%d %.2fs video=%s audio=%s fps=%.2f bitrate=%d",
		path, probe.Width, probe.Height, probe.DurationSeconds,
		probe.VideoCodec, probe.AudioCodec, probe.FrameRate, probe.BitrateBps)

	return probe, nil
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	BitRate      string `json:"bit_rate"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
	Duration     string `json:"duration"`
	Disposition  struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// Parse converts ffprobe's JSON output into a MediaProbe.
func Parse(data []byte) (MediaProbe, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return MediaProbe{}, &ProbeError{Reason: "malformed ffprobe output", Err: err}
	}

	var video, audio *ffprobeStream
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			// Cover art in audio files is reported as a video stream.
			if video == nil && s.Disposition.AttachedPic == 0 {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}
	if video == nil && audio == nil {
		return MediaProbe{}, &ProbeError{Reason: "no media streams"}
	}

	p := MediaProbe{
		ContainerFormat: out.Format.FormatName,
		DurationSeconds: parseFloat(out.Format.Duration),
		BitrateBps:      parseInt(out.Format.BitRate),
		SizeBytes:       parseInt(out.Format.Size),
	}

	if video != nil {
		if video.Width <= 0 || video.Height <= 0 {
			return MediaProbe{}, &ProbeError{Reason: "video stream has no dimensions"}
		}
		p.HasVideo = true
		p.Width = video.Width
		p.Height = video.Height
		p.VideoCodec = video.CodecName
		p.FrameRate = ParseFrameRate(video.AvgFrameRate)
		if p.FrameRate == 0 {
			p.FrameRate = ParseFrameRate(video.RFrameRate)
		}
		if p.DurationSeconds == 0 {
			p.DurationSeconds = parseFloat(video.Duration)
		}
	}

	if audio != nil {
		p.HasAudio = true
		p.AudioCodec = audio.CodecName
		p.AudioBitrateBps = parseInt(audio.BitRate)
		p.SampleRate = int(parseInt(audio.SampleRate))
		p.Channels = audio.Channels
		if p.DurationSeconds == 0 {
			p.DurationSeconds = parseFloat(audio.Duration)
		}
	}

	if p.BitrateBps == 0 {
		p.BitrateBps = parseInt(streamBitrate(video)) + p.AudioBitrateBps
	}

	return p, nil
}

func streamBitrate(s *ffprobeStream) string {
	if s == nil {
		return ""
	}
	return s.BitRate
}

// ParseFrameRate converts "30000/1001" or "25" to a decimal rounded to two
// places. Invalid or zero-denominator input yields 0.
func ParseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	var v float64
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		v = n / d
	} else {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		v = f
	}

	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
