package probe

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"
)

const sampleVideoJSON = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "h264",
      "codec_type": "video",
      "width": 1920,
      "height": 1080,
      "r_frame_rate": "30000/1001",
      "avg_frame_rate": "30000/1001",
      "duration": "12.012000",
      "bit_rate": "4800000"
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_type": "audio",
      "sample_rate": "48000",
      "channels": 2,
      "bit_rate": "128000"
    }
  ],
  "format": {
    "filename": "clip.mp4",
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "12.012000",
    "size": "7500000",
    "bit_rate": "4995004"
  }
}`

func TestParseVideoWithAudio(t *testing.T) {
	p, err := Parse([]byte(sampleVideoJSON))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !p.HasVideo || !p.HasAudio {
		t.Fatalf("Expected video and audio, got video=%v audio=%v", p.HasVideo, p.HasAudio)
	}
	if p.Width != 1920 || p.Height != 1080 {
		t.Errorf("Expected 1920x1080, got %dx%d", p.Width, p.Height)
	}
	if p.FrameRate != 29.97 {
		t.Errorf("Expected frame rate 29.97, got %v", p.FrameRate)
	}
	if p.DurationSeconds != 12.012 {
		t.Errorf("Expected duration 12.012, got %v", p.DurationSeconds)
	}
	if p.BitrateBps != 4995004 {
		t.Errorf("Expected bitrate from format, got %d", p.BitrateBps)
	}
	if p.AudioCodec != "aac" || p.SampleRate != 48000 || p.Channels != 2 || p.AudioBitrateBps != 128000 {
		t.Errorf("Unexpected audio fields: %+v", p)
	}
	if p.SizeBytes != 7500000 {
		t.Errorf("Expected size 7500000, got %d", p.SizeBytes)
	}
}

func TestParseVideoWithoutAudio(t *testing.T) {
	data := `{"streams":[{"codec_type":"video","codec_name":"vp9","width":640,"height":360,"avg_frame_rate":"0/0","r_frame_rate":"25/1"}],
	"format":{"format_name":"matroska,webm","duration":"4.0"}}`

	p, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.HasAudio {
		t.Error("Expected HasAudio=false")
	}
	if p.AudioCodec != "" || p.AudioBitrateBps != 0 || p.SampleRate != 0 || p.Channels != 0 {
		t.Errorf("Audio fields must be unset, got %+v", p)
	}
	if p.FrameRate != 25 {
		t.Errorf("Expected r_frame_rate fallback of 25, got %v", p.FrameRate)
	}
}

func TestParseAudioWithCoverArt(t *testing.T) {
	data := `{"streams":[
		{"codec_type":"audio","codec_name":"mp3","sample_rate":"44100","channels":2,"bit_rate":"320000"},
		{"codec_type":"video","codec_name":"mjpeg","width":500,"height":500,"disposition":{"attached_pic":1}}
	],"format":{"format_name":"mp3","duration":"180.5"}}`

	p, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.HasVideo {
		t.Error("Attached picture must not count as a video stream")
	}
	if p.BitrateBps != 320000 {
		t.Errorf("Expected bitrate fallback to audio bitrate, got %d", p.BitrateBps)
	}
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"streams": [`},
		{"no streams", `{"streams": [], "format": {}}`},
		{"only data streams", `{"streams": [{"codec_type":"data"}], "format": {}}`},
		{"video without dimensions", `{"streams": [{"codec_type":"video","codec_name":"h264"}], "format": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.data))
			var pe *ProbeError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected *ProbeError, got %v", err)
			}
			if pe.Reason == "" {
				t.Error("ProbeError must carry a reason")
			}
			if p != (MediaProbe{}) {
				t.Errorf("No partial data expected on failure, got %+v", p)
			}
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30000/1001", 29.97},
		{"24000/1001", 23.98},
		{"60000/1001", 59.94},
		{"25/1", 25},
		{"30", 30},
		{"0/0", 0},
		{"1/0", 0},
		{"", 0},
		{"abc", 0},
		{"-30/1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseFrameRate(tt.in); got != tt.want {
				t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestProbeMissingFile(t *testing.T) {
	p := New("", 0)
	_, err := p.Probe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))

	var pe *ProbeError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *ProbeError, got %v", err)
	}
}

func TestProbeIntegration(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}

	src := filepath.Join(t.TempDir(), "tone.wav")
	cmd := exec.Command("ffmpeg", "-v", "error", "-f", "lavfi", "-i", "sine=frequency=440:duration=1", src)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("Could not generate fixture: %v: %s", err, out)
	}

	p, err := New("", 0).Probe(context.Background(), src)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !p.HasAudio || p.HasVideo {
		t.Errorf("Expected audio-only probe, got %+v", p)
	}
	if p.DurationSeconds < 0.9 || p.DurationSeconds > 1.1 {
		t.Errorf("Expected ~1s duration, got %v", p.DurationSeconds)
	}
}
