package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/histlog/internal/logclass"
	"github.com/tinytelemetry/histlog/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeReader records the last query it served and returns canned results.
type fakeReader struct {
	lastQuery model.LogQuery
	lastSince time.Time
	records   []model.LogRecord
	paths     model.PathsResult
	stats     model.CacheStats
}

func (f *fakeReader) QueryLogs(q model.LogQuery) ([]model.LogRecord, error) {
	f.lastQuery = q
	return f.records, nil
}

func (f *fakeReader) PathsSince(since time.Time) (model.PathsResult, error) {
	f.lastSince = since
	return f.paths, nil
}

func (f *fakeReader) Stats() (model.CacheStats, error) {
	return f.stats, nil
}

func newTestServer(t *testing.T) (*fakeReader, *gin.Engine) {
	t.Helper()
	store := &fakeReader{
		records: []model.LogRecord{
			{
				Timestamp: time.Unix(1700000001, 0).UTC(),
				Class:     logclass.ClassAlert,
				Kind:      "SERVICE ALERT",
				Text:      "web01;disk;CRITICAL;HARD;3;disk full",
			},
		},
		paths: model.PathsResult{
			Paths:   []string{"/var/log/hist/history.log"},
			Skipped: "/var/log/hist/history-2.log",
		},
		stats: model.CacheStats{NumLogfiles: 2, NumCachedLogMessages: 10},
	}

	srv := NewServer("", store)
	srv.startTime = time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/api/health", srv.handleHealth)
	r.GET("/api/logs", srv.handleLogs)
	r.GET("/api/logfiles", srv.handleLogfiles)
	r.GET("/api/stats", srv.handleStats)

	return store, r
}

func get(t *testing.T, r *gin.Engine, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, r := newTestServer(t)

	w := get(t, r, "/api/health")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
	if body["logfiles"] != float64(2) {
		t.Errorf("logfiles = %v, want 2", body["logfiles"])
	}
}

func TestLogsEndpoint(t *testing.T) {
	store, r := newTestServer(t)

	w := get(t, r, "/api/logs?since=1700000000&until=1700000100&classes=alert,state&limit=50")
	if w.Code != http.StatusOK {
		t.Fatalf("logs status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	if !store.lastQuery.Since.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("since = %v, want epoch 1700000000", store.lastQuery.Since)
	}
	if !store.lastQuery.Until.Equal(time.Unix(1700000100, 0).UTC()) {
		t.Errorf("until = %v, want epoch 1700000100", store.lastQuery.Until)
	}
	if len(store.lastQuery.Classes) != 2 || store.lastQuery.Classes[0] != "alert" {
		t.Errorf("classes = %v, want [alert state]", store.lastQuery.Classes)
	}
	if store.lastQuery.Limit != 50 {
		t.Errorf("limit = %d, want 50", store.lastQuery.Limit)
	}

	var body struct {
		Count   int               `json:"count"`
		Records []model.LogRecord `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal logs: %v", err)
	}
	if body.Count != 1 || len(body.Records) != 1 {
		t.Fatalf("count = %d records = %d, want 1/1", body.Count, len(body.Records))
	}
	if body.Records[0].Class != logclass.ClassAlert {
		t.Errorf("record class = %v, want alert", body.Records[0].Class)
	}
}

func TestLogsEndpointRFC3339(t *testing.T) {
	store, r := newTestServer(t)

	w := get(t, r, "/api/logs?since=2023-11-14T22:13:20Z")
	if w.Code != http.StatusOK {
		t.Fatalf("logs status = %d; body: %s", w.Code, w.Body.String())
	}
	if store.lastQuery.Since.IsZero() {
		t.Error("RFC 3339 since was not parsed")
	}
}

func TestLogsEndpointBadParams(t *testing.T) {
	_, r := newTestServer(t)

	for _, url := range []string{
		"/api/logs?since=not-a-time",
		"/api/logs?limit=abc",
		"/api/logs?max_lines_per_file=x",
	} {
		if w := get(t, r, url); w.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want %d", url, w.Code, http.StatusBadRequest)
		}
	}
}

func TestLogfilesEndpoint(t *testing.T) {
	store, r := newTestServer(t)

	w := get(t, r, "/api/logfiles?since=1700000000")
	if w.Code != http.StatusOK {
		t.Fatalf("logfiles status = %d; body: %s", w.Code, w.Body.String())
	}
	if !store.lastSince.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Errorf("since = %v, want epoch 1700000000", store.lastSince)
	}

	var body struct {
		Paths   []string `json:"paths"`
		Skipped string   `json:"skipped"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal logfiles: %v", err)
	}
	if len(body.Paths) != 1 || body.Skipped == "" {
		t.Fatalf("paths = %v skipped = %q", body.Paths, body.Skipped)
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, r := newTestServer(t)

	w := get(t, r, "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats model.CacheStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.NumCachedLogMessages != 10 {
		t.Errorf("cached = %d, want 10", stats.NumCachedLogMessages)
	}
}
