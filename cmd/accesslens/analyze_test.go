package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tinytelemetry/accesslens/internal/logger"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// attackLog writes synthetic traffic with attacks mixed in and returns its path.
func attackLog(t *testing.T) string {
	t.Helper()
	opts := generateOpts()
	opts.Lines = 1000
	opts.Attacks = true
	opts.Output = filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, runGenerate(nil, opts))
	return opts.Output
}

func embeddedConfig(t *testing.T) appConfig {
	t.Helper()
	logger.Set(zap.NewNop().Sugar())
	isolate(t)
	t.Setenv("ACCESSLENS_ENGINE_MODE", engineEmbedded)
	cfg, err := loadConfig("", nil)
	require.NoError(t, err)
	return cfg
}

func kinds(patterns []model.AbusePattern) map[model.PatternKind][]string {
	out := map[model.PatternKind][]string{}
	for _, p := range patterns {
		out[p.Kind] = append(out[p.Kind], p.Identifiers...)
	}
	return out
}

func TestAnalyzeJSONReport(t *testing.T) {
	cfg := embeddedConfig(t)
	path := attackLog(t)
	export := filepath.Join(t.TempDir(), "records.csv")

	var out bytes.Buffer
	err := runAnalyze(context.Background(), &out, cfg, []string{path}, analyzeOptions{JSON: true, ExportPath: export, Top: 20})
	require.NoError(t, err)

	var r struct {
		Summary  model.ParseSummary     `json:"summary"`
		Columns  []model.ColumnMetadata `json:"columns"`
		Abuse    []model.AbusePattern   `json:"abuse_patterns"`
		Security struct {
			TotalAlerts int `json:"total_alerts"`
		} `json:"security"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.NotContains(t, out.String(), "0001-01-01", "unset times must be omitted")

	assert.Equal(t, 0, r.Summary.Rejected)
	assert.NotEmpty(t, r.Columns)

	found := kinds(r.Abuse)
	assert.Contains(t, found[model.PatternBruteForce], "203.0.113.5")
	assert.Contains(t, found[model.PatternScanning], "198.51.100.23")
	assert.Contains(t, found[model.PatternDDoS], "192.0.2.77")
	assert.Contains(t, found[model.PatternBot], "66.249.66.1")
	assert.Positive(t, r.Security.TotalAlerts)

	data, err := os.ReadFile(export)
	require.NoError(t, err)
	assert.Equal(t, 1000+60+60+1500+50+1, strings.Count(string(data), "\n"))
}

func TestAnalyzeTextReport(t *testing.T) {
	cfg := embeddedConfig(t)
	path := attackLog(t)

	var out bytes.Buffer
	require.NoError(t, runAnalyze(context.Background(), &out, cfg, []string{path}, analyzeOptions{Top: 10}))

	text := out.String()
	assert.Contains(t, text, "Format:")
	assert.Contains(t, text, "Columns")
	assert.Contains(t, text, "status_code")
	assert.Contains(t, text, "192.0.2.77")
	assert.Contains(t, text, "Anomalies:")
}

func TestAnalyzeWindowErrors(t *testing.T) {
	cfg := embeddedConfig(t)
	path := attackLog(t)

	err := runAnalyze(context.Background(), &bytes.Buffer{}, cfg, []string{path},
		analyzeOptions{Start: "2024-06-02T00:00:00Z", End: "2024-06-01T00:00:00Z"})
	require.Error(t, err)

	err = runAnalyze(context.Background(), &bytes.Buffer{}, cfg, []string{path}, analyzeOptions{Start: "yesterday-ish"})
	require.Error(t, err)
}

func TestAnalyzeBadFormat(t *testing.T) {
	cfg := embeddedConfig(t)
	cfg.Format = `%h %t "%r" %>s %{Referer`
	err := runAnalyze(context.Background(), &bytes.Buffer{}, cfg, []string{attackLog(t)}, analyzeOptions{})
	require.Error(t, err)
}

func TestCLIEngineMissingBinary(t *testing.T) {
	cfg := embeddedConfig(t)
	cfg.Engine.Mode = engineCLI
	cfg.Engine.Binary = filepath.Join(t.TempDir(), "no-such-duckdb")
	_, err := newEngine(context.Background(), cfg)
	require.Error(t, err)
}
