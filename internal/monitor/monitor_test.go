package monitor_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/monitor"
	"codeberg.org/mutker/pilewatch/internal/pile"
	"codeberg.org/mutker/pilewatch/internal/risk"
	"codeberg.org/mutker/pilewatch/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store storage.Store
	svc   *monitor.Service
	ids   map[string]int64
}

func newFixture(t *testing.T, opts ...monitor.Option) *fixture {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Config{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "pilewatch.db"),
		Location: time.UTC,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	opts = append([]monitor.Option{monitor.WithClock(func() time.Time { return now })}, opts...)
	return &fixture{
		store: store,
		svc:   monitor.New(store, logger.Nop(), opts...),
		ids:   map[string]int64{},
	}
}

func (f *fixture) pile(t *testing.T, name string, lon, lat float64) int64 {
	t.Helper()
	id, _, err := f.store.EnsurePile(context.Background(), pile.Pile{Name: name, Longitude: lon, Latitude: lat})
	require.NoError(t, err)
	f.ids[name] = id
	return id
}

func (f *fixture) reading(t *testing.T, id int64, v float64, ts time.Time) {
	t.Helper()
	_, err := f.store.InsertReading(context.Background(), pile.Reading{PileID: id, Voltage: v, Timestamp: ts})
	require.NoError(t, err)
}

func TestSnapshotClassifiesLatestReading(t *testing.T) {
	f := newFixture(t)
	over := f.pile(t, "over", 116.41, 39.90)
	normal := f.pile(t, "normal", 116.42, 39.91)
	under := f.pile(t, "under", 116.43, 39.92)
	sentinel := f.pile(t, "sentinel", 116.44, 39.93)
	f.pile(t, "empty", 116.45, 39.94)

	f.reading(t, over, -0.5, now.Add(-2*time.Hour))
	f.reading(t, over, -1.3, now.Add(-time.Hour))
	f.reading(t, normal, -1.25, now)
	f.reading(t, normal, -1.0, now.Add(time.Minute))
	f.reading(t, under, -0.7, now)
	f.reading(t, sentinel, -1.0, now.Add(-time.Hour))
	f.reading(t, sentinel, pile.SentinelVoltage, now)

	statuses, err := f.svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 5)

	got := make([]risk.Level, 0, len(statuses))
	for _, st := range statuses {
		got = append(got, st.Risk)
	}
	assert.Equal(t, []risk.Level{risk.OverProtected, risk.Normal, risk.UnderProtected, risk.Unknown, risk.Unknown}, got)

	require.NotNil(t, statuses[0].Voltage)
	assert.InDelta(t, -1.3, *statuses[0].Voltage, 1e-9)
	assert.Equal(t, "#0000FF", statuses[0].Color)

	assert.Nil(t, statuses[3].Voltage, "sentinel latest reading has no voltage")
	assert.NotNil(t, statuses[3].ReadingAt)
	assert.Nil(t, statuses[4].Voltage)
	assert.Nil(t, statuses[4].ReadingAt)
	assert.Equal(t, "#808080", statuses[4].Color)
}

func TestSnapshotJSON(t *testing.T) {
	f := newFixture(t)
	id := f.pile(t, "C003", 116.42, 39.91)
	f.reading(t, id, -0.76, now)

	statuses, err := f.svc.Snapshot(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(statuses[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"risk_level":"under_protected"`)
	assert.Contains(t, string(data), `"voltage":-0.76`)
}

func TestRoute(t *testing.T) {
	f := newFixture(t)

	route, err := f.svc.Route(context.Background())
	require.NoError(t, err)
	assert.Empty(t, route.Points)
	assert.False(t, route.HasLine())

	f.pile(t, "A", 116.41, 39.90)
	route, err = f.svc.Route(context.Background())
	require.NoError(t, err)
	assert.False(t, route.HasLine(), "a single pile draws no line")

	f.pile(t, "B", 116.42, 39.91)
	route, err = f.svc.Route(context.Background())
	require.NoError(t, err)
	assert.True(t, route.HasLine())
	assert.Equal(t, []monitor.Coordinate{
		{Longitude: 116.41, Latitude: 39.90},
		{Longitude: 116.42, Latitude: 39.91},
	}, route.Points)
}

func TestDetails(t *testing.T) {
	f := newFixture(t)
	id := f.pile(t, "A", 116.41, 39.90)

	st, err := f.svc.Details(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, risk.Unknown, st.Risk)

	f.reading(t, id, -1.0, now)
	st, err = f.svc.Details(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, risk.Normal, st.Risk)
	assert.Equal(t, "A", st.Name)

	_, err = f.svc.Details(context.Background(), id+10)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, monitor.ErrPileNotFound))
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	a := f.pile(t, "A", 116.41, 39.90)
	b := f.pile(t, "B", 116.42, 39.91)
	f.pile(t, "C", 116.43, 39.92)
	f.reading(t, a, -1.0, now)
	f.reading(t, b, -0.9, now)

	sum, err := f.svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	require.Len(t, sum.Levels, 4)

	byLevel := map[risk.Level]int{}
	for _, lc := range sum.Levels {
		byLevel[lc.Level] = lc.Count
	}
	assert.Equal(t, map[risk.Level]int{
		risk.OverProtected:  0,
		risk.Normal:         2,
		risk.UnderProtected: 0,
		risk.Unknown:        1,
	}, byLevel)
}

func TestParseView(t *testing.T) {
	v, err := monitor.ParseView("")
	require.NoError(t, err)
	assert.Equal(t, monitor.ViewMonth, v)

	v, err = monitor.ParseView(" Week ")
	require.NoError(t, err)
	assert.Equal(t, monitor.ViewWeek, v)

	_, err = monitor.ParseView("year")
	assert.True(t, errors.HasCode(err, monitor.ErrInvalidView))
}

func TestHistoryViews(t *testing.T) {
	f := newFixture(t, monitor.WithHistoryLimit(3))
	id := f.pile(t, "A", 116.41, 39.90)

	day := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	f.reading(t, id, -1.0, day.Add(8*time.Hour))
	f.reading(t, id, -1.2, day.Add(20*time.Hour))
	f.reading(t, id, pile.SentinelVoltage, day.Add(21*time.Hour))
	f.reading(t, id, -0.8, now.Add(-time.Hour))
	f.reading(t, id, -0.9, now.AddDate(0, 0, -20))
	f.reading(t, id, -1.4, now.AddDate(0, 0, -40))

	ctx := context.Background()
	approx := cmpopts.EquateApprox(0, 1e-9)

	h, err := f.svc.History(ctx, id, monitor.ViewDay)
	require.NoError(t, err)
	want := []monitor.Point{
		{X: day.Add(20 * time.Hour), Y: -1.2},
		{X: now.Add(-time.Hour), Y: -0.8},
	}
	if diff := cmp.Diff(want, h.Points, approx); diff != "" {
		t.Errorf("day view (-want +got):\n%s", diff)
	}

	h, err = f.svc.History(ctx, id, monitor.ViewWeek)
	require.NoError(t, err)
	want = []monitor.Point{
		{X: day, Y: -1.1},
		{X: time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), Y: -0.8},
	}
	if diff := cmp.Diff(want, h.Points, approx); diff != "" {
		t.Errorf("week view (-want +got):\n%s", diff)
	}

	h, err = f.svc.History(ctx, id, monitor.ViewMonth)
	require.NoError(t, err)
	assert.Len(t, h.Points, 3)
	assert.Equal(t, monitor.ViewMonth, h.View)

	h, err = f.svc.History(ctx, id, monitor.ViewAll)
	require.NoError(t, err)
	want = []monitor.Point{
		{X: day.Add(20 * time.Hour), Y: -1.2},
		{X: now.Add(-time.Hour), Y: -0.8},
	}
	if diff := cmp.Diff(want, h.Points, approx); diff != "" {
		t.Errorf("all view is limited and skips the sentinel (-want +got):\n%s", diff)
	}
}

func TestHistoryErrors(t *testing.T) {
	f := newFixture(t)
	id := f.pile(t, "A", 116.41, 39.90)

	_, err := f.svc.History(context.Background(), id, monitor.View("year"))
	assert.True(t, errors.HasCode(err, monitor.ErrInvalidView))

	_, err = f.svc.History(context.Background(), id+1, monitor.ViewDay)
	assert.True(t, errors.HasCode(err, monitor.ErrPileNotFound))

	h, err := f.svc.History(context.Background(), id, monitor.ViewDay)
	require.NoError(t, err)
	assert.NotNil(t, h.Points)
	assert.Empty(t, h.Points)
}
