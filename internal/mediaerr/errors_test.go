package mediaerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("processing clip.mp4: %w", &Error{Kind: KindTranscode, Op: "trim", ExitCode: 1, StderrTail: "boom"})

	if !errors.Is(err, ErrTranscode) {
		t.Error("Expected wrapped transcode error to match ErrTranscode")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("Transcode error should not match ErrTimeout")
	}

	var me *Error
	if !errors.As(err, &me) || me.ExitCode != 1 {
		t.Errorf("Expected errors.As to expose exit code 1, got %+v", me)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindTranscode, Op: "resize", Reason: "ffmpeg failed", ExitCode: 183}
	msg := err.Error()
	for _, want := range []string{"resize", "transcode_error", "ffmpeg failed", "exit code 183"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("x"), KindUnknown},
		{"classified", InvalidParameter("resize", "width %d", -1), KindInvalidParameter},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"invalid", New(KindInvalidParameter, "", ""), false},
		{"missing", New(KindSourceNotFound, "", ""), false},
		{"network", New(KindNetwork, "chunk 2", "reset"), true},
		{"upload", New(KindUpload, "finalize", "HTTP 502"), true},
		{"unknown", errors.New("io"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindEncode, "convert", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
