package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeStats struct {
	stats Stats
	err   error
}

func (f fakeStats) Stats(context.Context) (Stats, error) { return f.stats, f.err }

func TestCollectorPublishesGauges(t *testing.T) {
	c := NewCollector(fakeStats{stats: Stats{
		RecordsByKind: map[string]int{"video": 4, "image": 9},
		Derivatives:   7,
	}}, time.Hour)

	c.collect()

	if got := testutil.ToFloat64(MediaRecordsTotal.WithLabelValues("video")); got != 4 {
		t.Errorf("Expected 4 video records, got %v", got)
	}
	if got := testutil.ToFloat64(MediaRecordsTotal.WithLabelValues("image")); got != 9 {
		t.Errorf("Expected 9 image records, got %v", got)
	}
	if got := testutil.ToFloat64(DerivativesTotal); got != 7 {
		t.Errorf("Expected 7 derivatives, got %v", got)
	}
}

func TestCollectorIgnoresProviderError(t *testing.T) {
	DerivativesTotal.Set(3)
	c := NewCollector(fakeStats{err: errors.New("db closed")}, time.Hour)
	c.collect()

	if got := testutil.ToFloat64(DerivativesTotal); got != 3 {
		t.Errorf("Gauge should be untouched on error, got %v", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(nil, 10*time.Millisecond)
	c.Start()
	time.Sleep(25 * time.Millisecond)
	c.Stop()
}

func TestFilesystemObserver(t *testing.T) {
	obs := NewFilesystemObserver()
	before := testutil.ToFloat64(FilesystemStaleErrors.WithLabelValues("stat"))
	obs.ObserveStaleError("stat")
	if got := testutil.ToFloat64(FilesystemStaleErrors.WithLabelValues("stat")); got != before+1 {
		t.Errorf("Expected stale errors to increase by 1, got %v -> %v", before, got)
	}
}

func TestInitializeMetrics(t *testing.T) {
	InitializeMetrics()

	if n := testutil.CollectAndCount(TransformsTotal); n == 0 {
		t.Error("Expected pre-populated transform series")
	}
	if n := testutil.CollectAndCount(FFmpegExitsTotal); n != 8 {
		t.Errorf("Expected 8 ffmpeg exit series, got %d", n)
	}
}
