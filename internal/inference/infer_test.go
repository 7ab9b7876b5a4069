package inference

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/accesslens/internal/model"
)

func int64p(v int64) *int64 { return &v }

func byName(cols []model.ColumnMetadata) map[string]model.ColumnMetadata {
	m := make(map[string]model.ColumnMetadata, len(cols))
	for _, c := range cols {
		m[c.Name] = c
	}
	return m
}

func syntheticRecords(n int) *model.RecordSet {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	statuses := []int{200, 301, 404, 500}
	methods := []string{"GET", "POST"}
	entries := make([]model.LogEntry, n)
	for i := range entries {
		entries[i] = model.LogEntry{
			RemoteHost:   fmt.Sprintf("10.0.%d.%d", i/250, i%250),
			Timestamp:    start.Add(time.Duration(i) * time.Second),
			RequestLine:  fmt.Sprintf("GET /page/%d HTTP/1.1", i),
			Method:       methods[i%2],
			Path:         fmt.Sprintf("/page/%d?ref=%d", i, i%7),
			Protocol:     "HTTP/1.1",
			StatusCode:   statuses[i%len(statuses)],
			ResponseSize: int64p(int64(100 + i)),
			Referer:      "https://example.com/",
			UserAgent:    fmt.Sprintf("Mozilla/5.0 (X11; Linux) Build/%d", i%40),
			Extra:        map[string]string{"session": fmt.Sprintf("s-%d-%d", i, i*i)},
		}
	}
	return model.NewRecordSet(entries)
}

func TestInferStatusCodeNumericWithCardinality(t *testing.T) {
	cols := byName(Infer(context.Background(), syntheticRecords(1000), Options{}))

	status := cols[model.ColStatusCode]
	assert.Equal(t, model.TypeNumeric, status.Type)
	assert.Equal(t, 4, status.Cardinality)
	assert.Equal(t, 0, status.NullCount)
	assert.True(t, status.Summary.Integral)
	assert.Equal(t, 200.0, status.Summary.Min)
	assert.Equal(t, 500.0, status.Summary.Max)
	assert.Len(t, status.Summary.TopValues, 4)
}

func TestInferTypes(t *testing.T) {
	cols := byName(Infer(context.Background(), syntheticRecords(1000), Options{}))

	tests := []struct {
		column string
		want   model.ColumnType
	}{
		{model.ColRemoteHost, model.TypeIPAddress},
		{model.ColTimestamp, model.TypeTimestamp},
		{model.ColPath, model.TypeURL},
		{model.ColReferer, model.TypeURL},
		{model.ColUserAgent, model.TypeUserAgent},
		{model.ColResponseSize, model.TypeNumeric},
		{model.ColMethod, model.TypeCategorical},
		{model.ColProtocol, model.TypeCategorical},
		{model.ColRequestLine, model.TypeText},
		{"session", model.TypeText},
		{model.ColRemoteUser, model.TypeText},
		{model.ColRequestTime, model.TypeNumeric},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			md, ok := cols[tt.column]
			require.True(t, ok)
			assert.Equal(t, tt.want, md.Type)
		})
	}
}

func TestInferNullsAndSummary(t *testing.T) {
	cols := byName(Infer(context.Background(), syntheticRecords(100), Options{}))

	user := cols[model.ColRemoteUser]
	assert.Equal(t, 100, user.NullCount)
	assert.Equal(t, 0, user.Cardinality)
	assert.Empty(t, user.SampleValue)

	ts := cols[model.ColTimestamp]
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ts.Summary.Earliest)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 1, 39, 0, time.UTC), ts.Summary.Latest)

	size := cols[model.ColResponseSize]
	assert.Equal(t, 100.0, size.Summary.Min)
	assert.Equal(t, 199.0, size.Summary.Max)
	assert.InDelta(t, 149.5, size.Summary.Mean, 1e-9)

	method := cols[model.ColMethod]
	require.NotEmpty(t, method.Summary.TopValues)
	assert.Equal(t, "GET", method.Summary.TopValues[0].Value)
	assert.InDelta(t, 50.0, method.Summary.TopValues[0].Percent, 1e-9)
}

func TestInferColumnOrder(t *testing.T) {
	rs := syntheticRecords(10)
	cols := Infer(context.Background(), rs, Options{})
	require.Len(t, cols, len(rs.Columns()))
	for i, name := range rs.Columns() {
		assert.Equal(t, name, cols[i].Name)
	}
}

func TestInferDegradesOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, md := range Infer(ctx, syntheticRecords(10), Options{}) {
		assert.Equal(t, model.TypeText, md.Type)
		assert.Equal(t, 0, md.Cardinality)
		assert.True(t, md.Degraded)
	}
}

func TestClassifyStringExtras(t *testing.T) {
	opts := DefaultOptions()

	tests := []struct {
		name   string
		column string
		sample []string
		card   int
		want   model.ColumnType
	}{
		{"ipv6", "client", []string{"::1", "2001:db8::1", "fe80::2"}, 3, model.TypeIPAddress},
		{"numeric strings", "port", []string{"443", "80", "8080"}, 3, model.TypeNumeric},
		{"absolute urls", "origin", []string{"https://a.example/x", "http://b.example/"}, 2, model.TypeURL},
		{"agent without structure", "agent", []string{"x", "y"}, 2, model.TypeText},
		{"empty sample", "anything", nil, 0, model.TypeText},
		{"plain words", "note", []string{"alpha", "beta", "gamma"}, 3, model.TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.column, model.KindString, tt.sample, tt.card, len(tt.sample), opts)
			assert.Equal(t, tt.want, got)
		})
	}

	sample := make([]string, 200)
	for i := range sample {
		sample[i] = []string{"red", "green", "blue"}[i%3]
	}
	assert.Equal(t, model.TypeCategorical, classify("color", model.KindString, sample, 3, 200, opts))
}
