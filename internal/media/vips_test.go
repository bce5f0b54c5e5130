package media

import (
	"context"
	"path/filepath"
	"testing"

	"media-pipeline/internal/mediatypes"
)

// NOTE: govips cannot restart after Shutdown, so nothing here shuts it down.

func requireVips(t *testing.T) {
	t.Helper()
	if err := InitVips(); err != nil {
		t.Skipf("libvips not available: %v", err)
	}
	if !IsVipsAvailable() {
		t.Skip("libvips not available")
	}
}

func TestInitVipsIdempotency(t *testing.T) {
	requireVips(t)

	if err := InitVips(); err != nil {
		t.Errorf("Second InitVips() call failed: %v", err)
	}
	if !IsVipsAvailable() {
		t.Error("After successful InitVips, IsVipsAvailable should return true")
	}
}

func TestVipsEncodesEveryFormat(t *testing.T) {
	requireVips(t)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.png")
	createTestImage(t, src, 640, 480, "png")

	tr := NewImageTransform()
	for _, format := range []string{"webp", "jpeg", "png", "avif"} {
		t.Run(format, func(t *testing.T) {
			out := filepath.Join(tmpDir, "out."+format)
			result, err := tr.Apply(context.Background(), src, out, ImageOptions{
				Operation: mediatypes.OpResize, MaxWidth: 320, MaxHeight: 320,
			})
			if err != nil {
				if format == "avif" {
					t.Skipf("libvips built without avif: %v", err)
				}
				t.Fatalf("Apply failed: %v", err)
			}
			if result.Width != 320 || result.Height != 240 {
				t.Errorf("Expected 320x240, got %dx%d", result.Width, result.Height)
			}
			if result.SizeBytes <= 0 {
				t.Error("Expected a non-empty output")
			}
		})
	}
}

func TestVipsMetadataPassthrough(t *testing.T) {
	requireVips(t)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.jpg")
	createTestImage(t, src, 200, 100, "jpeg")

	tr := NewImageTransform()
	result, err := tr.Apply(context.Background(), src, filepath.Join(tmpDir, "out.webp"), ImageOptions{
		Operation: mediatypes.OpConvert, KeepMetadata: true,
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Width != 200 || result.Height != 100 {
		t.Errorf("Expected source dimensions preserved, got %dx%d", result.Width, result.Height)
	}
}
