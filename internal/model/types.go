package model

import (
	"sort"
	"time"
)

// LogEntry is one normalised access-log record.
// String fields use the empty string for absent values.
type LogEntry struct {
	RemoteHost    string
	RemoteLogname string
	RemoteUser    string
	Timestamp     time.Time // Zero value = absent or unparseable
	RequestLine   string
	Method        string
	Path          string
	Protocol      string
	StatusCode    int // 0 = absent
	ResponseSize  *int64
	Referer       string
	UserAgent     string
	RequestTime   *float64 // seconds
	Extra         map[string]string
}

// Fixed column names, in materialisation order.
const (
	ColRemoteHost    = "remote_host"
	ColRemoteLogname = "remote_logname"
	ColRemoteUser    = "remote_user"
	ColTimestamp     = "timestamp"
	ColRequestLine   = "request_line"
	ColMethod        = "method"
	ColPath          = "path"
	ColProtocol      = "protocol"
	ColStatusCode    = "status_code"
	ColResponseSize  = "response_size"
	ColReferer       = "referer"
	ColUserAgent     = "user_agent"
	ColRequestTime   = "request_time"
)

// FixedColumns lists the canonical LogEntry columns.
var FixedColumns = []string{
	ColRemoteHost, ColRemoteLogname, ColRemoteUser, ColTimestamp,
	ColRequestLine, ColMethod, ColPath, ColProtocol, ColStatusCode,
	ColResponseSize, ColReferer, ColUserAgent, ColRequestTime,
}

// IsFixedColumn reports whether name is one of the canonical columns.
func IsFixedColumn(name string) bool {
	for _, c := range FixedColumns {
		if c == name {
			return true
		}
	}
	return false
}

// ValueKind identifies which field of a Value is populated.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
	KindTime
)

// Value is a single typed cell read from a RecordSet.
type Value struct {
	Kind    ValueKind
	Present bool
	Str     string
	Int     int64
	Float   float64
	Time    time.Time
}

// ValueCount is a distinct value and how often it occurs.
type ValueCount struct {
	Value   string  `json:"value"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// FileSummary holds parse counters for one input file.
type FileSummary struct {
	Path      string `json:"path"`
	Processed int    `json:"processed"`
	Rejected  int    `json:"rejected"`
	Blank     int    `json:"blank"`
}

// ParseSummary reports how many lines were parsed and how.
type ParseSummary struct {
	Format     string         `json:"format"`
	Processed  int            `json:"processed"`
	Rejected   int            `json:"rejected"`
	Blank      int            `json:"blank"`
	ByStrategy map[string]int `json:"by_strategy"`
	Files      []FileSummary  `json:"files"`
}

// Add folds a file summary into the overall counters.
func (s *ParseSummary) Add(f FileSummary) {
	s.Processed += f.Processed
	s.Rejected += f.Rejected
	s.Blank += f.Blank
	s.Files = append(s.Files, f)
}

// Strategies returns the strategy names present in ByStrategy, sorted.
func (s ParseSummary) Strategies() []string {
	names := make([]string, 0, len(s.ByStrategy))
	for k := range s.ByStrategy {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
