package anomaly

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/accesslens/internal/duckdb"
	"github.com/tinytelemetry/accesslens/internal/logsynth"
	"github.com/tinytelemetry/accesslens/internal/model"
)

var start = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func dataset(t *testing.T, lines ...[]logsynth.Line) *duckdb.Dataset {
	t.Helper()
	var all []model.LogEntry
	for _, l := range lines {
		all = append(all, logsynth.Entries(l)...)
	}
	store, err := duckdb.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h, err := store.Materialize(context.Background(), model.NewRecordSet(all), nil)
	require.NoError(t, err)
	return duckdb.NewDataset(store, h)
}

func byDimension(alerts []model.AnomalyAlert, dim string) []model.AnomalyAlert {
	var out []model.AnomalyAlert
	for _, a := range alerts {
		if a.Dimension == dim {
			out = append(out, a)
		}
	}
	return out
}

// floodDataset is twenty minutes of one request per second with a burst of
// 600 requests from one host during the sixth minute.
func floodDataset(t *testing.T) *duckdb.Dataset {
	gen := logsynth.New(7, start, time.Second)
	return dataset(t,
		gen.Benign(1200),
		gen.Flood("198.51.100.9", "/api/v1/items", 600, start.Add(5*time.Minute), 100*time.Millisecond),
	)
}

func TestDetectTrafficSpike(t *testing.T) {
	alerts, err := New(DefaultConfig()).Detect(context.Background(), floodDataset(t), model.TimeWindow{})
	require.NoError(t, err)

	traffic := byDimension(alerts, DimTrafficVolume)
	require.Len(t, traffic, 1)
	a := traffic[0]
	assert.Equal(t, "2024-06-01T09:05:00Z", a.Subject)
	assert.Equal(t, int64(660), a.Count)
	assert.InDelta(t, 6.33, a.Score, 0.01)
	assert.Equal(t, model.SeverityHigh, a.Severity)
	assert.True(t, start.Add(5*time.Minute).Equal(a.Window.Start))
	assert.True(t, start.Add(6*time.Minute).Equal(a.Window.End))
	assert.Contains(t, a.Recommendation, "DDoS")
}

func TestDetectHeavyIdentifier(t *testing.T) {
	alerts, err := New(DefaultConfig()).Detect(context.Background(), floodDataset(t), model.TimeWindow{})
	require.NoError(t, err)

	ids := byDimension(alerts, DimIdentifierRate)
	require.NotEmpty(t, ids)
	assert.Equal(t, "198.51.100.9", ids[0].Subject)
	assert.Equal(t, int64(600), ids[0].Count)
	assert.Equal(t, model.SeverityCritical, ids[0].Severity)

	agents := byDimension(alerts, DimUserAgentDiversity)
	require.NotEmpty(t, agents)
	assert.Equal(t, "198.51.100.9", agents[0].Subject)

	for i := 1; i < len(alerts); i++ {
		assert.GreaterOrEqual(t, alerts[i-1].Severity.Rank(), alerts[i].Severity.Rank())
	}
}

func TestDetectRespectsWindow(t *testing.T) {
	w := model.TimeWindow{Start: start.Add(10 * time.Minute), End: start.Add(20 * time.Minute)}
	alerts, err := New(DefaultConfig()).Detect(context.Background(), floodDataset(t), w)
	require.NoError(t, err)

	assert.Empty(t, byDimension(alerts, DimTrafficVolume))
	for _, a := range alerts {
		assert.NotEqual(t, "198.51.100.9", a.Subject)
	}
}

func TestDetectNeedsBaseline(t *testing.T) {
	gen := logsynth.New(3, start, time.Second)
	ds := dataset(t,
		gen.Benign(180),
		gen.Flood("198.51.100.9", "/", 300, start.Add(time.Minute), 100*time.Millisecond),
	)
	alerts, err := New(DefaultConfig()).Detect(context.Background(), ds, model.TimeWindow{})
	require.NoError(t, err)
	assert.Empty(t, byDimension(alerts, DimTrafficVolume), "three buckets are not a baseline")
	assert.Empty(t, byDimension(alerts, DimErrorRate))
}

func TestDetectRejectsInvertedWindow(t *testing.T) {
	w := model.TimeWindow{Start: start.Add(time.Hour), End: start}
	_, err := New(DefaultConfig()).Detect(context.Background(), stubQuerier{}, w)
	require.Error(t, err)
}

// stubQuerier answers by matching a fragment of the query.
type stubQuerier struct {
	rows map[string][]model.Row
	err  error
}

func (s stubQuerier) Query(_ context.Context, sql string) ([]model.Row, error) {
	if s.err != nil {
		return nil, s.err
	}
	for fragment, rows := range s.rows {
		if strings.Contains(sql, fragment) {
			return rows, nil
		}
	}
	return nil, nil
}

func (stubQuerier) Handle() *duckdb.Handle {
	return duckdb.NewHandle("stub.csv", 0, []duckdb.Column{
		{Name: model.ColTimestamp, Source: model.ColTimestamp, Type: duckdb.SQLTimestamp},
		{Name: model.ColRemoteHost, Source: model.ColRemoteHost, Type: duckdb.SQLVarchar},
	})
}

func TestDetectEngineError(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(DefaultConfig()).Detect(context.Background(), stubQuerier{err: boom}, model.TimeWindow{})
	require.ErrorIs(t, err, boom)
}

func TestDayOfWeekNeedsFewerSamples(t *testing.T) {
	rows := []model.Row{
		{"slot": int64(1), "requests": int64(100)},
		{"slot": int64(2), "requests": int64(110)},
		{"slot": int64(3), "requests": int64(90)},
		{"slot": int64(4), "requests": int64(2000)},
	}
	q := stubQuerier{rows: map[string][]model.Row{"day_of_week(": rows}}
	alerts, err := New(DefaultConfig()).Detect(context.Background(), q, model.TimeWindow{})
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, DimDayOfWeek, alerts[0].Dimension)
	assert.Equal(t, "Thursday", alerts[0].Subject)
	assert.Equal(t, int64(2000), alerts[0].Count)
}

func TestHourOfDayBelowBaseline(t *testing.T) {
	rows := []model.Row{
		{"slot": int64(1), "requests": int64(10)},
		{"slot": int64(2), "requests": int64(10)},
		{"slot": int64(3), "requests": int64(900)},
	}
	q := stubQuerier{rows: map[string][]model.Row{"hour_of_day(": rows}}
	alerts, err := New(DefaultConfig()).Detect(context.Background(), q, model.TimeWindow{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestBaselineScore(t *testing.T) {
	samplesOf := func(values ...float64) []sample {
		out := make([]sample, len(values))
		for i, v := range values {
			out[i] = sample{value: v, weight: 1}
		}
		return out
	}

	b := newBaseline(samplesOf(8, 7, 6, 5, 4, 3, 2, 1))
	assert.Equal(t, 4.0, b.median)
	assert.Equal(t, 4.0, b.iqr)
	score, ok := b.score(24)
	require.True(t, ok)
	assert.Equal(t, 5.0, score)

	flat := newBaseline(samplesOf(1, 1, 1, 1, 1, 1, 1, 10))
	assert.Zero(t, flat.iqr)
	score, ok = flat.score(10)
	require.True(t, ok)
	assert.InDelta(t, 3.705, score, 0.001)

	_, ok = newBaseline(samplesOf(0, 0, 0, 0)).score(0)
	assert.False(t, ok)

	score, ok = newBaseline(samplesOf(5, 5, 5, 5)).score(5)
	require.True(t, ok)
	assert.Zero(t, score)
}

func TestWeightedBaseline(t *testing.T) {
	b := newBaseline([]sample{
		{value: 100, weight: 90},
		{value: 200, weight: 9},
		{value: 50_000, weight: 1},
	})
	assert.Equal(t, 100.0, b.median)
	assert.Zero(t, b.iqr)
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		score float64
		want  model.Severity
		ok    bool
	}{
		{0, "", false},
		{1.49, "", false},
		{1.5, model.SeverityLow, true},
		{3, model.SeverityMedium, true},
		{4.99, model.SeverityMedium, true},
		{5, model.SeverityHigh, true},
		{10, model.SeverityCritical, true},
		{250, model.SeverityCritical, true},
	}
	for _, tt := range tests {
		got, ok := SeverityFor(tt.score)
		assert.Equal(t, tt.ok, ok, tt.score)
		assert.Equal(t, tt.want, got, tt.score)
	}
}

func TestSummarize(t *testing.T) {
	alerts := []model.AnomalyAlert{
		{Dimension: DimPathAccess, Severity: model.SeverityLow, Score: 2, Subject: "/a", Recommendation: "look at /a"},
		{Dimension: DimIdentifierRate, Severity: model.SeverityCritical, Score: 40, Subject: "10.0.0.1", Recommendation: "limit 10.0.0.1"},
		{Dimension: DimIdentifierRate, Severity: model.SeverityHigh, Score: 6, Subject: "10.0.0.2", Recommendation: "limit 10.0.0.1"},
	}
	s := Summarize(alerts)

	assert.Equal(t, 3, s.TotalAlerts)
	assert.Equal(t, model.SeverityCritical, s.RiskLevel)
	assert.Equal(t, 1, s.BySeverity[model.SeverityCritical])
	assert.Equal(t, 0, s.BySeverity[model.SeverityMedium])
	assert.Equal(t, 2, s.ByDimension[DimIdentifierRate])
	require.Len(t, s.TopAlerts, 3)
	assert.Equal(t, "10.0.0.1", s.TopAlerts[0].Subject)
	assert.Equal(t, []string{"limit 10.0.0.1", "look at /a"}, s.Recommendations)
	assert.Equal(t, model.SeverityLow, alerts[0].Severity, "input is not reordered")
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.TotalAlerts)
	assert.Empty(t, s.RiskLevel)
	assert.NotNil(t, s.TopAlerts)
	assert.NotNil(t, s.Recommendations)
	assert.Len(t, s.BySeverity, 4)
}

func TestSummarizeCapsTopAlerts(t *testing.T) {
	var alerts []model.AnomalyAlert
	for i := 0; i < 25; i++ {
		alerts = append(alerts, model.AnomalyAlert{
			Dimension: DimPathAccess, Severity: model.SeverityMedium, Score: float64(i),
			Subject: string(rune('a' + i)), Recommendation: "r" + string(rune('a'+i)),
		})
	}
	s := Summarize(alerts)
	assert.Len(t, s.TopAlerts, TopAlerts)
	assert.Len(t, s.Recommendations, MaxRecommendations)
	assert.Equal(t, 24.0, s.TopAlerts[0].Score)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Bucket = time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinBaseline = 1
	assert.Error(t, cfg.Validate())
}
