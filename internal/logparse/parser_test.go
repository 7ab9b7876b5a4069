package logparse

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/accesslens/internal/logsynth"
)

func newTestParser(t *testing.T, format string) Parser {
	t.Helper()
	spec, err := Resolve(format)
	require.NoError(t, err)
	p, err := NewParser(spec)
	require.NoError(t, err)
	return p
}

func TestParseCombinedStrict(t *testing.T) {
	p := newTestParser(t, "combined")

	line := `127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326 "http://www.example.com/start.html" "Mozilla/4.08 [en] (Win98; I ;Nav)"`
	e, strategy, err := p.ParseLine(line)
	require.NoError(t, err)

	assert.Equal(t, StrategyDirective, strategy)
	assert.Equal(t, "127.0.0.1", e.RemoteHost)
	assert.Empty(t, e.RemoteLogname)
	assert.Equal(t, "frank", e.RemoteUser)
	assert.True(t, e.Timestamp.Equal(time.Date(2000, 10, 10, 20, 55, 36, 0, time.UTC)))
	assert.Equal(t, "GET /apache_pb.gif HTTP/1.0", e.RequestLine)
	assert.Equal(t, "GET", e.Method)
	assert.Equal(t, "/apache_pb.gif", e.Path)
	assert.Equal(t, "HTTP/1.0", e.Protocol)
	assert.Equal(t, 200, e.StatusCode)
	require.NotNil(t, e.ResponseSize)
	assert.Equal(t, int64(2326), *e.ResponseSize)
	assert.Equal(t, "http://www.example.com/start.html", e.Referer)
	assert.Equal(t, "Mozilla/4.08 [en] (Win98; I ;Nav)", e.UserAgent)
	assert.Nil(t, e.RequestTime)
}

func TestParseEscapedQuotes(t *testing.T) {
	p := newTestParser(t, "combined")

	line := `10.0.0.1 - - [10/Oct/2000:13:55:36 +0000] "GET /x HTTP/1.1" 200 10 "-" "agent \"quoted\" \\ slash"`
	e, strategy, err := p.ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, StrategyDirective, strategy)
	assert.Equal(t, `agent "quoted" \ slash`, e.UserAgent)
	assert.Empty(t, e.Referer)
}

func TestParseFallsBackToRegex(t *testing.T) {
	p := newTestParser(t, "combined")

	tests := []struct {
		name        string
		line        string
		requestLine string
	}{
		{
			"unescaped quote in request",
			`10.0.0.1 - - [10/Oct/2000:13:55:36 +0000] "GET /a"b HTTP/1.1" 404 0 "-" "curl/8.0"`,
			`GET /a"b HTTP/1.1`,
		},
		{
			"irregular spacing",
			`10.0.0.1  -  - [10/Oct/2000:13:55:36 +0000]   "GET / HTTP/1.1" 404 0 "-" "curl/8.0"`,
			`GET / HTTP/1.1`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, strategy, err := p.ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, StrategyRegex, strategy)
			assert.Equal(t, "10.0.0.1", e.RemoteHost)
			assert.Equal(t, tt.requestLine, e.RequestLine)
			assert.Equal(t, 404, e.StatusCode)
			assert.Equal(t, "curl/8.0", e.UserAgent)
		})
	}
}

func TestParseAbsentValues(t *testing.T) {
	p := newTestParser(t, "common")

	e, _, err := p.ParseLine(`10.0.0.1 - - [99/Foo/2000:13:55:36 +0000] "GET / HTTP/1.1" 304 -`)
	require.NoError(t, err)
	assert.True(t, e.Timestamp.IsZero(), "unparseable timestamp must be absent")
	assert.Nil(t, e.ResponseSize)
	assert.Equal(t, 304, e.StatusCode)
}

func TestParseRejectsGarbage(t *testing.T) {
	p := newTestParser(t, "combined")

	for _, line := range []string{"", "hello world", `[10/Oct/2000:13:55:36 +0000]`} {
		_, _, err := p.ParseLine(line)
		require.Error(t, err, "line %q", line)
		var lineErr *LineError
		assert.True(t, errors.As(err, &lineErr))
	}
}

func TestParseRejectsAllRequiredAbsent(t *testing.T) {
	p := newTestParser(t, "common")

	_, _, err := p.ParseLine(`- - - [-] "-" - -`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRequiredFields))
}

func TestParseVhostCombined(t *testing.T) {
	p := newTestParser(t, "vhost_combined")

	e, strategy, err := p.ParseLine(`www.example.com:443 10.0.0.1 - - [10/Oct/2000:13:55:36 +0000] "GET / HTTP/1.1" 200 512 "-" "curl/8.0"`)
	require.NoError(t, err)
	assert.Equal(t, StrategyDirective, strategy)
	assert.Equal(t, "www.example.com", e.Extra["vhost"])
	assert.Equal(t, "443", e.Extra["port"])
	assert.Equal(t, "10.0.0.1", e.RemoteHost)
}

func TestParseCombinedWithTime(t *testing.T) {
	p := newTestParser(t, "combined_with_time")

	e, _, err := p.ParseLine(`10.0.0.1 - - [10/Oct/2000:13:55:36 +0000] "GET / HTTP/1.1" 200 512 "-" "curl/8.0" 1500`)
	require.NoError(t, err)
	require.NotNil(t, e.RequestTime)
	assert.InDelta(t, 0.0015, *e.RequestTime, 1e-9)
}

func TestParseNamedPattern(t *testing.T) {
	pattern := `^(?P<ip>\S+) \[(?P<timestamp>[^\]]+)\] "(?P<request>[^"]*)" (?P<status>\d{3})(?: (?P<bytes>\d+))?(?: upstream=(?P<upstream>\S+))?$`
	p := newTestParser(t, pattern)

	e, strategy, err := p.ParseLine(`10.1.1.1 [2024-01-15T10:30:45Z] "POST /api HTTP/2" 201 77 upstream=app-3`)
	require.NoError(t, err)
	assert.Equal(t, StrategyPattern, strategy)
	assert.Equal(t, "10.1.1.1", e.RemoteHost)
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "/api", e.Path)
	assert.Equal(t, 201, e.StatusCode)
	assert.Equal(t, int64(77), *e.ResponseSize)
	assert.Equal(t, "app-3", e.Extra["upstream"])
	assert.Equal(t, 2024, e.Timestamp.Year())

	// Optional groups that do not participate stay absent.
	e, _, err = p.ParseLine(`10.1.1.1 [2024-01-15T10:30:45Z] "GET / HTTP/2" 200`)
	require.NoError(t, err)
	assert.Nil(t, e.ResponseSize)
	assert.NotContains(t, e.Extra, "upstream")
}

func TestParseSyntheticTrafficAllFormats(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	gen := logsynth.New(7, start, time.Second)
	lines := gen.Benign(200)

	for _, name := range PredefinedNames() {
		t.Run(name, func(t *testing.T) {
			p := newTestParser(t, name)
			for i, l := range lines {
				e, strategy, err := p.ParseLine(l.Format(name))
				require.NoError(t, err, "line %d: %s", i, l.Format(name))
				assert.Equal(t, StrategyDirective, strategy)
				assert.Equal(t, l.Host, e.RemoteHost)
				assert.True(t, e.Timestamp.Equal(l.Time))
				assert.Equal(t, l.Status, e.StatusCode)
				assert.Equal(t, l.Path, e.Path)
			}
		})
	}
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(204))
	assert.Equal(t, "5xx", StatusClass(503))
	assert.Equal(t, "unknown", StatusClass(0))
	assert.Equal(t, "GET", NormalizeMethod(" get "))
	assert.Equal(t, "\x16\x03\x01", NormalizeMethod("\x16\x03\x01"))
}
