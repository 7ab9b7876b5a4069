package timestamp

import (
	"testing"
	"time"
)

func TestParseApache(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"bracketed", "[10/Oct/2000:13:55:36 -0700]", time.Date(2000, 10, 10, 20, 55, 36, 0, time.UTC)},
		{"bare", "10/Oct/2000:13:55:36 +0000", time.Date(2000, 10, 10, 13, 55, 36, 0, time.UTC)},
		{"no zone", "10/Oct/2000:13:55:36", time.Date(2000, 10, 10, 13, 55, 36, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.ParseApache(tt.input)
			if !ok {
				t.Fatalf("ParseApache(%q) failed", tt.input)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseApache(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseApache_Invalid(t *testing.T) {
	p := NewParser()

	for _, in := range []string{"", "-", "[]", "[not a time]", "32/Foo/2000:99:99:99 +0000"} {
		if _, ok := p.ParseApache(in); ok {
			t.Errorf("ParseApache(%q) should fail", in)
		}
	}
}

func TestParseTimestamp_ISO8601(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name  string
		input string
	}{
		{"RFC3339", "2024-01-15T10:30:45Z"},
		{"RFC3339Nano", "2024-01-15T10:30:45.123456789Z"},
		{"RFC3339 offset", "2024-01-15T10:30:45+05:00"},
		{"space separated", "2024-01-15 10:30:45"},
		{"micros", "2024-01-15 10:30:45.123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := p.ParseTimestamp(tt.input)
			if !ok {
				t.Fatalf("ParseTimestamp(%q) failed", tt.input)
			}
			if ts.UTC().Year() != 2024 {
				t.Errorf("ParseTimestamp(%q) year = %d, want 2024", tt.input, ts.Year())
			}
		})
	}
}

func TestParseTimestamp_Dateparse(t *testing.T) {
	p := NewParser()

	ts, ok := p.ParseTimestamp("Jan 15, 2024 10:30:45")
	if !ok {
		t.Fatal("lenient format not parsed")
	}
	if ts.Month() != time.January || ts.Day() != 15 {
		t.Errorf("got %v, want 2024-01-15", ts)
	}
}

func TestParseTimestamp_UnixSeconds(t *testing.T) {
	p := NewParser()

	// 946684800 = 2000-01-01T00:00:00Z
	ts, ok := p.ParseTimestamp(float64(946684800))
	if !ok {
		t.Fatal("ParseTimestamp unix seconds failed")
	}
	if ts.Year() != 2000 {
		t.Errorf("unix seconds year = %d, want 2000", ts.Year())
	}
}

func TestParseTimestamp_UnixMillis(t *testing.T) {
	p := NewParser()

	ts, ok := p.ParseTimestamp(int64(1600000000000))
	if !ok {
		t.Fatal("ParseTimestamp unix millis failed")
	}
	if ts.Year() != 2020 {
		t.Errorf("unix millis year = %d, want 2020", ts.Year())
	}
}

func TestParseTimestamp_UnixNanos(t *testing.T) {
	p := NewParser()

	ts, ok := p.ParseTimestamp(float64(1600000000000000000))
	if !ok {
		t.Fatal("ParseTimestamp unix nanos failed")
	}
	if ts.Year() != 2020 {
		t.Errorf("unix nanos year = %d, want 2020", ts.Year())
	}
}

func TestParseTimestamp_NumericString(t *testing.T) {
	p := NewParser()

	ts, ok := p.ParseTimestamp("946684800.5")
	if !ok {
		t.Fatal("numeric string not parsed")
	}
	if ts.Year() != 2000 || ts.Nanosecond() != 500000000 {
		t.Errorf("got %v, want 2000-01-01T00:00:00.5Z", ts)
	}
}

func TestParseTimestamp_EmptyString(t *testing.T) {
	p := NewParser()

	for _, in := range []string{"", "-", "   "} {
		if _, ok := p.ParseTimestamp(in); ok {
			t.Errorf("ParseTimestamp(%q) should return false", in)
		}
	}
}

func TestParseBound(t *testing.T) {
	got, err := ParseBound("")
	if err != nil || !got.IsZero() {
		t.Fatalf("empty bound = %v, %v; want zero, nil", got, err)
	}

	got, err = ParseBound("2024-01-15T00:00:00Z")
	if err != nil {
		t.Fatalf("ParseBound: %v", err)
	}
	if !got.Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ParseBound = %v", got)
	}

	if _, err := ParseBound("yesterday-ish"); err == nil {
		t.Error("expected error for garbage bound")
	}
}
