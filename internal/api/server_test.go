package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"codeberg.org/mutker/pilewatch/internal/api"
	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/metrics"
	"codeberg.org/mutker/pilewatch/internal/monitor"
	"codeberg.org/mutker/pilewatch/internal/pile"
	"codeberg.org/mutker/pilewatch/internal/storage"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)

type env struct {
	store   storage.Store
	handler http.Handler
	metrics metrics.Collector
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Config{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "pilewatch.db"),
		Location: time.UTC,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New(true)
	mon := monitor.New(store, logger.Nop(),
		monitor.WithMetrics(m),
		monitor.WithClock(func() time.Time { return now }))

	return &env{
		store:   store,
		handler: api.New("", mon, m, logger.Nop()).Handler(),
		metrics: m,
	}
}

func (e *env) addPile(t *testing.T, name string, lon, lat float64, voltages ...float64) int64 {
	t.Helper()
	ctx := context.Background()
	id, _, err := e.store.EnsurePile(ctx, pile.Pile{Name: name, Longitude: lon, Latitude: lat})
	require.NoError(t, err)
	for i, v := range voltages {
		_, err := e.store.InsertReading(ctx, pile.Reading{
			PileID:    id,
			Voltage:   v,
			Timestamp: now.Add(time.Duration(i-len(voltages)) * time.Hour),
		})
		require.NoError(t, err)
	}
	return id
}

func (e *env) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndLegend(t *testing.T) {
	e := newEnv(t)

	rec := e.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = e.get(t, "/legend")
	require.Equal(t, http.StatusOK, rec.Code)
	var legend []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &legend))
	require.Len(t, legend, 4)
	assert.Equal(t, "over_protected", legend[0]["level"])
	assert.Equal(t, "#0000FF", legend[0]["color"])
	assert.Equal(t, "unknown", legend[3]["level"])
}

func TestPilesEndpoint(t *testing.T) {
	e := newEnv(t)
	e.addPile(t, "A001", 116.41, 39.905, -1.3)
	e.addPile(t, "D004", 116.425, 39.912, pile.SentinelVoltage)

	rec := e.get(t, "/piles")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var statuses []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "over_protected", statuses[0]["risk_level"])
	assert.InDelta(t, -1.3, statuses[0]["voltage"], 1e-9)
	assert.Equal(t, "unknown", statuses[1]["risk_level"])
	assert.Nil(t, statuses[1]["voltage"])
}

func TestPilesGeoJSON(t *testing.T) {
	e := newEnv(t)
	e.addPile(t, "A001", 116.41, 39.905, -1.0)
	e.addPile(t, "B002", 116.42, 39.91)

	rec := e.get(t, "/piles.geojson")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	assert.Equal(t, orb.Point{116.41, 39.905}, first.Geometry)
	assert.Equal(t, "A001", first.Properties.MustString("name"))
	assert.Equal(t, "normal", first.Properties.MustString("risk_level"))
	assert.Equal(t, "#00FF00", first.Properties.MustString("color"))
	assert.Equal(t, "unknown", fc.Features[1].Properties.MustString("risk_level"))
	assert.Nil(t, fc.Features[1].Properties["voltage"])
}

func TestPipelineGeoJSON(t *testing.T) {
	e := newEnv(t)
	e.addPile(t, "A001", 116.41, 39.905)

	rec := e.get(t, "/pipeline.geojson")
	require.Equal(t, http.StatusOK, rec.Code)
	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Empty(t, fc.Features, "one pile draws no pipeline")

	e.addPile(t, "B002", 116.42, 39.91)
	e.addPile(t, "C003", 116.43, 39.915)

	rec = e.get(t, "/pipeline.geojson")
	fc, err = geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, orb.LineString{{116.41, 39.905}, {116.42, 39.91}, {116.43, 39.915}}, fc.Features[0].Geometry)
}

func TestPileDetails(t *testing.T) {
	e := newEnv(t)
	id := e.addPile(t, "C003", 116.42, 39.91, -1.0, -0.76)

	rec := e.get(t, "/piles/"+itoa(id))
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "C003", st["name"])
	assert.Equal(t, "under_protected", st["risk_level"])

	rec = e.get(t, "/piles/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"pile_not_found","message":"Test pile not found"}`, rec.Body.String())

	rec = e.get(t, "/piles/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPileHistory(t *testing.T) {
	e := newEnv(t)
	id := e.addPile(t, "C003", 116.42, 39.91, -1.0, pile.SentinelVoltage, -0.8)

	rec := e.get(t, "/piles/"+itoa(id)+"/history?view=day")
	require.Equal(t, http.StatusOK, rec.Code)

	var h struct {
		PileID int64  `json:"pile_id"`
		View   string `json:"view"`
		Points []struct {
			X time.Time `json:"x"`
			Y float64   `json:"y"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, id, h.PileID)
	assert.Equal(t, "day", h.View)
	require.Len(t, h.Points, 2)
	assert.InDelta(t, -1.0, h.Points[0].Y, 1e-9)
	assert.InDelta(t, -0.8, h.Points[1].Y, 1e-9)
	assert.True(t, h.Points[0].X.Before(h.Points[1].X))

	rec = e.get(t, "/piles/"+itoa(id)+"/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"view":"month"`)

	rec = e.get(t, "/piles/"+itoa(id)+"/history?view=decade")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_history_view")
}

func TestSummaryUpdatesMetrics(t *testing.T) {
	e := newEnv(t)
	e.addPile(t, "A", 116.41, 39.90, -1.3)
	e.addPile(t, "B", 116.42, 39.91, -1.0)
	e.addPile(t, "C", 116.43, 39.92, -1.0)

	rec := e.get(t, "/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Total  int `json:"total"`
		Levels []struct {
			Level string `json:"level"`
			Count int    `json:"count"`
		} `json:"levels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, "normal", sum.Levels[1].Level)
	assert.Equal(t, 2, sum.Levels[1].Count)

	rec = e.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pilewatch_piles{risk_level="normal"} 2`)
}

func TestCORSAndMethods(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://map.example")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/piles", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type failingMonitor struct{ api.Monitor }

func (failingMonitor) Snapshot(context.Context) ([]monitor.PileStatus, error) {
	return nil, errors.New().Wrap(monitor.ErrSnapshot, io.ErrUnexpectedEOF)
}

func (failingMonitor) Summary(context.Context) (monitor.Summary, error) {
	panic("boom")
}

func TestInternalErrorsAndPanics(t *testing.T) {
	h := api.New("", failingMonitor{}, nil, logger.Nop()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/piles", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "monitor_snapshot_failed")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/summary", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics are off without a collector")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := api.New(ln.Addr().String(), failingMonitor{}, nil, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
