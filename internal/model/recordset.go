package model

import (
	"sort"
	"strings"
	"time"
)

// RecordSet is an ordered, read-only collection of LogEntry values.
// Entry order follows input file order, then line order.
type RecordSet struct {
	entries []LogEntry
	extras  []string
}

// NewRecordSet takes ownership of entries; callers must not mutate them afterwards.
func NewRecordSet(entries []LogEntry) *RecordSet {
	rs := &RecordSet{entries: entries}
	seen := make(map[string]bool)
	for _, e := range entries {
		var fresh []string
		for k := range e.Extra {
			if seen[k] || IsFixedColumn(k) {
				continue
			}
			seen[k] = true
			fresh = append(fresh, k)
		}
		sort.Strings(fresh)
		rs.extras = append(rs.extras, fresh...)
	}
	return rs
}

// Len returns the number of entries.
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.entries)
}

// Entry returns the i-th entry.
func (rs *RecordSet) Entry(i int) LogEntry {
	return rs.entries[i]
}

// Columns returns the fixed columns followed by extra columns in first-seen order.
func (rs *RecordSet) Columns() []string {
	cols := make([]string, 0, len(FixedColumns)+len(rs.extras))
	cols = append(cols, FixedColumns...)
	return append(cols, rs.extras...)
}

// ExtraColumns returns only the extra column names.
func (rs *RecordSet) ExtraColumns() []string {
	return append([]string(nil), rs.extras...)
}

// Value returns the typed cell for column at row i.
func (rs *RecordSet) Value(i int, column string) Value {
	e := &rs.entries[i]
	str := func(s string) Value { return Value{Kind: KindString, Str: s, Present: s != ""} }
	switch column {
	case ColRemoteHost:
		return str(e.RemoteHost)
	case ColRemoteLogname:
		return str(e.RemoteLogname)
	case ColRemoteUser:
		return str(e.RemoteUser)
	case ColTimestamp:
		return Value{Kind: KindTime, Time: e.Timestamp, Present: !e.Timestamp.IsZero()}
	case ColRequestLine:
		return str(e.RequestLine)
	case ColMethod:
		return str(e.Method)
	case ColPath:
		return str(e.Path)
	case ColProtocol:
		return str(e.Protocol)
	case ColStatusCode:
		return Value{Kind: KindInt, Int: int64(e.StatusCode), Present: e.StatusCode != 0}
	case ColResponseSize:
		if e.ResponseSize == nil {
			return Value{Kind: KindInt}
		}
		return Value{Kind: KindInt, Int: *e.ResponseSize, Present: true}
	case ColReferer:
		return str(e.Referer)
	case ColUserAgent:
		return str(e.UserAgent)
	case ColRequestTime:
		if e.RequestTime == nil {
			return Value{Kind: KindFloat}
		}
		return Value{Kind: KindFloat, Float: *e.RequestTime, Present: true}
	}
	return str(e.Extra[column])
}

// TimeBounds returns the earliest and latest present timestamps.
func (rs *RecordSet) TimeBounds() (earliest, latest time.Time, ok bool) {
	for i := range rs.entries {
		ts := rs.entries[i].Timestamp
		if ts.IsZero() {
			continue
		}
		if !ok || ts.Before(earliest) {
			earliest = ts
		}
		if !ok || ts.After(latest) {
			latest = ts
		}
		ok = true
	}
	return earliest, latest, ok
}

// SplitRequestLine splits "METHOD PATH PROTOCOL" into its parts.
// Malformed request lines yield whatever parts are present.
func SplitRequestLine(line string) (method, path, protocol string) {
	parts := strings.Fields(line)
	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		return parts[0], "", ""
	case 2:
		return parts[0], parts[1], ""
	}
	return parts[0], strings.Join(parts[1:len(parts)-1], " "), parts[len(parts)-1]
}

// ColumnKind returns the value kind stored in column. Extra columns are strings.
func ColumnKind(column string) ValueKind {
	switch column {
	case ColTimestamp:
		return KindTime
	case ColStatusCode, ColResponseSize:
		return KindInt
	case ColRequestTime:
		return KindFloat
	}
	return KindString
}
