package model

import (
	"encoding/json"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroTimesOmitted(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	values := []struct {
		name    string
		v       any
		present []string
		absent  []string
	}{
		{"unbounded window", TimeWindow{}, nil, []string{`"start"`, `"end"`}},
		{"half-open window", TimeWindow{Start: at}, []string{`"start":"2024-03-01T10:00:00Z"`}, []string{`"end"`}},
		{"empty range", TimeRange{}, []string{`"valid":false`}, []string{`"earliest"`, `"latest"`}},
		{"numeric summary", ColumnSummary{Integral: true, Max: 5}, []string{`"integral":true`, `"max":5`}, []string{`"earliest"`}},
		{"pattern without times", AbusePattern{Kind: PatternBot, Identifiers: []string{"1.2.3.4"}},
			[]string{`"kind":"bot"`, `"request_count":0`}, []string{`"first_seen"`, `"last_seen"`}},
		{"pattern with times", AbusePattern{Kind: PatternDDoS, FirstSeen: at, LastSeen: at},
			[]string{`"first_seen":"2024-03-01T10:00:00Z"`, `"last_seen"`}, nil},
	}
	encoders := map[string]func(any) ([]byte, error){
		"goccy":  gojson.Marshal,
		"stdlib": json.Marshal,
	}
	for _, tt := range values {
		for enc, marshal := range encoders {
			t.Run(tt.name+"/"+enc, func(t *testing.T) {
				data, err := marshal(tt.v)
				require.NoError(t, err)
				s := string(data)
				assert.NotContains(t, s, "0001-01-01")
				for _, want := range tt.present {
					assert.Contains(t, s, want)
				}
				for _, absent := range tt.absent {
					assert.NotContains(t, s, absent)
				}
			})
		}
	}
}

func TestTimeWindowRoundTrip(t *testing.T) {
	w := TimeWindow{End: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	data, err := gojson.Marshal(w)
	require.NoError(t, err)

	var back TimeWindow
	require.NoError(t, gojson.Unmarshal(data, &back))
	assert.True(t, back.Start.IsZero())
	assert.True(t, back.End.Equal(w.End))
}
