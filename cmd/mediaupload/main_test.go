package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"media-pipeline/internal/ledger"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/upload"
)

func TestParseTags(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "a", want: []string{"a"}},
		{in: "a, b ,,c", want: []string{"a", "b", "c"}},
		{in: " , ", want: nil},
	}

	for _, tt := range tests {
		got := parseTags(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("parseTags(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Run("metadata and files", func(t *testing.T) {
		opts, err := parseFlags([]string{"-server", "http://media:9000", "-title", "Trip", "-tags", "x,y", "-retries", "0", "a.jpg", "b.mp4"}, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("parseFlags() failed: %v", err)
		}
		if opts.server != "http://media:9000" {
			t.Errorf("server = %q", opts.server)
		}
		if opts.meta.Title != "Trip" || len(opts.meta.Tags) != 2 {
			t.Errorf("meta = %+v", opts.meta)
		}
		if len(opts.files) != 2 {
			t.Errorf("files = %v, want 2", opts.files)
		}
		if opts.retries >= 0 {
			t.Errorf("retries = %d, want negative so retrying is disabled", opts.retries)
		}
	})

	t.Run("no files", func(t *testing.T) {
		var stderr bytes.Buffer
		if _, err := parseFlags([]string{"-v"}, &stderr); err == nil {
			t.Error("parseFlags() without files succeeded")
		}
		if !strings.Contains(stderr.String(), "Usage: mediaupload") {
			t.Errorf("usage not printed: %q", stderr.String())
		}
	})

	t.Run("server from environment", func(t *testing.T) {
		t.Setenv("MEDIA_SERVER", "http://env:1234")
		opts, err := parseFlags([]string{"a.jpg"}, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("parseFlags() failed: %v", err)
		}
		if opts.server != "http://env:1234" {
			t.Errorf("server = %q, want value from MEDIA_SERVER", opts.server)
		}
	})
}

func TestStatusLine(t *testing.T) {
	percent := map[string]float64{"/tmp/b.mp4": 7, "/tmp/a.jpg": 42.4}

	if got, want := statusLine(percent, 80), "a.jpg 42% | b.mp4 7%"; got != want {
		t.Errorf("statusLine() = %q, want %q", got, want)
	}
	if got := statusLine(percent, 10); got != "a.jpg 4..." {
		t.Errorf("truncated statusLine() = %q", got)
	}

	// Truncation counts runes, never splitting a multi-byte name.
	wide := map[string]float64{"/tmp/ÉtéÉtéÉté.mp4": 50}
	got := statusLine(wide, 8)
	if !utf8.ValidString(got) {
		t.Errorf("statusLine() produced invalid UTF-8: %q", got)
	}
	if got != "ÉtéÉt..." {
		t.Errorf("statusLine() = %q, want %q", got, "ÉtéÉt...")
	}
}

func TestProgressQuarters(t *testing.T) {
	var out bytes.Buffer
	p := newProgress(&out, []string{"f"})
	for _, pct := range []float64{0, 10, 20, 30, 55, 60, 100} {
		p.update("f", pct)
	}
	p.finish()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Errorf("printed %d lines, want 4 (0, 25, 50, 100): %q", len(lines), out.String())
	}
}

func TestRun(t *testing.T) {
	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == upload.PathSingle:
			uploads.Add(1)
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var meta mediatypes.UploadMetadata
			_ = json.Unmarshal([]byte(r.FormValue(upload.FieldMetadata)), &meta)
			rec := &mediatypes.MediaRecord{ID: "rec-1", FileName: r.FormValue(upload.FieldFileName), Kind: mediatypes.KindImage, Metadata: meta}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(upload.RecordResponse{Record: rec})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, upload.PathSingle+"/"):
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"cancelled"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	file := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(file, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	ledgerPath := filepath.Join(dir, "state", "ledger.db")

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
	}{
		{name: "upload", args: []string{"-server", srv.URL, "-ledger", ledgerPath, "-title", "t", file}, wantCode: 0, wantOut: "OK      " + file + " -> rec-1"},
		{name: "memory ledger", args: []string{"-server", srv.URL, "-ledger", "", file}, wantCode: 0, wantOut: "rec-1"},
		{name: "cancel", args: []string{"-server", srv.URL, "-ledger", ledgerPath, "-cancel", file}, wantCode: 0, wantOut: "CANCELLED " + file},
		{name: "missing file", args: []string{"-server", srv.URL, "-ledger", "", "-retries", "0", filepath.Join(dir, "nope.jpg")}, wantCode: 1},
		{name: "bad server", args: []string{"-server", "not a url", "-ledger", "", file}, wantCode: 2},
		{name: "no files", args: []string{"-server", srv.URL}, wantCode: 2},
		{name: "list empty", args: []string{"-server", srv.URL, "-ledger", ledgerPath, "-list"}, wantCode: 0, wantOut: "No interrupted uploads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("run() = %d, want %d\nstdout: %s\nstderr: %s", code, tt.wantCode, stdout.String(), stderr.String())
			}
			if tt.wantOut != "" && !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want it to contain %q", stdout.String(), tt.wantOut)
			}
		})
	}

	if uploads.Load() != 2 {
		t.Errorf("server received %d uploads, want 2", uploads.Load())
	}
}

func TestListResumable(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "ledger.db")
	store, err := ledger.OpenSQLite(context.Background(), ledgerPath)
	if err != nil {
		t.Fatal(err)
	}
	id := upload.Identity{Name: "trip.mov", Size: 4096, ModTime: 1}
	for _, i := range []int{0, 1} {
		if err := store.Append(context.Background(), id.LedgerKey(1024), i); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-server", "http://localhost:1", "-ledger", ledgerPath, "-list"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run() = %d, stderr: %s", code, stderr.String())
	}
	if want := " 50.0%  trip.mov (2 of 4 chunks, 1024 byte chunks)"; !strings.Contains(stdout.String(), want) {
		t.Errorf("stdout = %q, want it to contain %q", stdout.String(), want)
	}
}
