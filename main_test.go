package main

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gorilla/mux"

	"media-pipeline/internal/database"
	"media-pipeline/internal/handlers"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
)

type mockStatsSource struct {
	stats database.Stats
	err   error
}

func (m *mockStatsSource) Stats(context.Context) (database.Stats, error) {
	return m.stats, m.err
}

func TestDbStatsAdapter(t *testing.T) {
	t.Run("converts database stats", func(t *testing.T) {
		mock := &mockStatsSource{stats: database.Stats{
			Records:     map[mediatypes.MediaKind]int{mediatypes.KindImage: 4, mediatypes.KindVideo: 2},
			Derivatives: 7,
			BytesSaved:  1024,
		}}

		var adapter metrics.StatsProvider = dbStatsAdapter{source: mock}
		stats, err := adapter.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats() failed: %v", err)
		}

		if stats.RecordsByKind["image"] != 4 {
			t.Errorf("RecordsByKind[image] = %d, want 4", stats.RecordsByKind["image"])
		}
		if stats.RecordsByKind["video"] != 2 {
			t.Errorf("RecordsByKind[video] = %d, want 2", stats.RecordsByKind["video"])
		}
		if stats.Derivatives != 7 {
			t.Errorf("Derivatives = %d, want 7", stats.Derivatives)
		}
	})

	t.Run("passes errors through", func(t *testing.T) {
		boom := errors.New("database is closed")
		_, err := dbStatsAdapter{source: &mockStatsSource{err: boom}}.Stats(context.Background())
		if !errors.Is(err, boom) {
			t.Errorf("Stats() error = %v, want %v", err, boom)
		}
	})
}

func TestSetupRouter(t *testing.T) {
	h := handlers.New(nil, nil, handlers.Options{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/healthz"},
		{http.MethodHead, "/livez"},
		{http.MethodGet, "/readyz"},
		{http.MethodGet, "/version"},
		{http.MethodPost, "/api/upload"},
		{http.MethodPost, "/api/upload/chunk"},
		{http.MethodPost, "/api/upload/finalize"},
		{http.MethodGet, "/api/upload/status"},
		{http.MethodDelete, "/api/upload/clip.mp4:10:1700000000000"},
		{http.MethodPost, "/api/process"},
		{http.MethodPost, "/api/process/batch"},
		{http.MethodGet, "/api/inspect"},
		{http.MethodPost, "/api/thumbnails"},
		{http.MethodGet, "/api/records"},
		{http.MethodGet, "/api/records/abc"},
		{http.MethodGet, "/api/stats"},
	}

	for _, metricsEnabled := range []bool{true, false} {
		r := setupRouter(h, metricsEnabled)

		for _, tt := range tests {
			req, _ := http.NewRequest(tt.method, "http://localhost"+tt.path, http.NoBody)
			var match mux.RouteMatch
			if !r.Match(req, &match) || match.MatchErr != nil {
				t.Errorf("%s %s did not match a route", tt.method, tt.path)
			}
		}

		req, _ := http.NewRequest(http.MethodGet, "http://localhost/metrics", http.NoBody)
		var match mux.RouteMatch
		if got := r.Match(req, &match) && match.MatchErr == nil; got != metricsEnabled {
			t.Errorf("metricsEnabled=%v: /metrics matched = %v", metricsEnabled, got)
		}
	}
}

func TestSetupRouterRejectsWrongMethod(t *testing.T) {
	r := setupRouter(handlers.New(nil, nil, handlers.Options{}), true)

	req, _ := http.NewRequest(http.MethodGet, "http://localhost/api/process", http.NoBody)
	var match mux.RouteMatch
	if r.Match(req, &match) && match.MatchErr == nil {
		t.Error("GET /api/process matched a route")
	}
}
