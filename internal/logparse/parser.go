package logparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tinytelemetry/accesslens/internal/model"
	"github.com/tinytelemetry/accesslens/internal/timestamp"
)

// Strategy names the parse path that produced an entry.
type Strategy string

const (
	StrategyDirective Strategy = "directive"
	StrategyRegex     Strategy = "regex"
	StrategyPattern   Strategy = "pattern"
)

// LineError reports why a single line was rejected. It is never fatal to a run.
type LineError struct {
	Reason string
	Err    error
}

func (e *LineError) Error() string { return "unparseable line: " + e.Reason }

func (e *LineError) Unwrap() error { return e.Err }

// ErrNoRequiredFields is wrapped when a line matched but every required field
// came out absent.
var ErrNoRequiredFields = errors.New("no required fields present")

// Parser turns one raw access-log line into a LogEntry.
type Parser interface {
	ParseLine(line string) (model.LogEntry, Strategy, error)
}

// NewParser builds the parser for a resolved format.
func NewParser(spec FormatSpec) (Parser, error) {
	ts := timestamp.NewParser()
	switch spec.Kind {
	case KindPattern:
		re := spec.re
		if re == nil {
			var err error
			if re, err = regexp.Compile(spec.Pattern); err != nil {
				return nil, &InvalidFormatSpecError{Spec: spec.Pattern, Reason: err.Error()}
			}
		}
		return newPatternParser(re, ts), nil
	case KindPredefined, KindDirective:
		tokens := spec.tokens
		if tokens == nil {
			var err error
			if tokens, err = tokenize(spec.Directives); err != nil {
				return nil, &InvalidFormatSpecError{Spec: spec.Directives, Reason: err.Error()}
			}
		}
		re, dirs, err := fallbackPattern(tokens)
		if err != nil {
			return nil, &InvalidFormatSpecError{Spec: spec.Directives, Reason: err.Error()}
		}
		return &hybridParser{tokens: tokens, fallback: re, fallbackDirs: dirs, ts: ts}, nil
	}
	return nil, fmt.Errorf("unknown format kind %v", spec.Kind)
}

// hybridParser tries the strict directive matcher first and falls back to a
// regular expression reconstructed from the same directives.
type hybridParser struct {
	tokens       []token
	fallback     *regexp.Regexp
	fallbackDirs []*directive
	ts           *timestamp.Parser
}

func (p *hybridParser) ParseLine(line string) (model.LogEntry, Strategy, error) {
	if caps, err := matchStrict(p.tokens, line); err == nil {
		entry, err := assemble(caps, p.ts)
		return entry, StrategyDirective, err
	}

	m := p.fallback.FindStringSubmatch(line)
	if m == nil {
		return model.LogEntry{}, StrategyRegex, &LineError{Reason: "line does not match format"}
	}
	caps := make([]capture, 0, len(p.fallbackDirs))
	for i, d := range p.fallbackDirs {
		caps = append(caps, capture{field: d.field, value: m[i+1], unit: d.unit})
	}
	entry, err := assemble(caps, p.ts)
	return entry, StrategyRegex, err
}

// patternParser applies a user-supplied named-capture expression.
type patternParser struct {
	re     *regexp.Regexp
	fields []string
	ts     *timestamp.Parser
}

func newPatternParser(re *regexp.Regexp, ts *timestamp.Parser) *patternParser {
	names := re.SubexpNames()
	fields := make([]string, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		if canonical, ok := groupAliases[name]; ok {
			fields[i] = canonical
		} else {
			fields[i] = name
		}
	}
	return &patternParser{re: re, fields: fields, ts: ts}
}

func (p *patternParser) ParseLine(line string) (model.LogEntry, Strategy, error) {
	m := p.re.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if m == nil {
		return model.LogEntry{}, StrategyPattern, &LineError{Reason: "line does not match pattern"}
	}
	caps := make([]capture, 0, len(m))
	for i := 1; i < len(m); i++ {
		if p.fields[i] == "" {
			continue
		}
		caps = append(caps, capture{field: p.fields[i], value: m[i], unit: 1})
	}
	entry, err := assemble(caps, p.ts)
	return entry, StrategyPattern, err
}

// assemble converts raw captures into a LogEntry. "-" and empty values are
// absent; numeric and timestamp values that fail conversion are absent too.
func assemble(caps []capture, ts *timestamp.Parser) (model.LogEntry, error) {
	var e model.LogEntry
	for _, c := range caps {
		v := strings.TrimSpace(c.value)
		if v == "" || v == "-" {
			continue
		}
		switch c.field {
		case "remote_host":
			e.RemoteHost = v
		case "remote_logname":
			e.RemoteLogname = v
		case "remote_user":
			e.RemoteUser = v
		case "timestamp":
			if t, ok := ts.ParseTimestamp(v); ok {
				e.Timestamp = t.UTC()
			}
		case "request_line":
			e.RequestLine = v
		case "method":
			e.Method = NormalizeMethod(v)
		case "path":
			e.Path = v
		case "protocol":
			e.Protocol = v
		case "status_code":
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 1000 {
				e.StatusCode = n
			}
		case "response_size":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				e.ResponseSize = &n
			}
		case "request_time":
			if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
				unit := c.unit
				if unit == 0 {
					unit = 1
				}
				secs := f * unit
				e.RequestTime = &secs
			}
		case "referer":
			e.Referer = v
		case "user_agent":
			e.UserAgent = v
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]string)
			}
			e.Extra[c.field] = v
		}
	}

	if e.RequestLine != "" {
		method, path, proto := model.SplitRequestLine(e.RequestLine)
		if e.Method == "" {
			e.Method = NormalizeMethod(method)
		}
		if e.Path == "" {
			e.Path = path
		}
		if e.Protocol == "" {
			e.Protocol = proto
		}
	}

	if e.RemoteHost == "" && e.Timestamp.IsZero() && e.RequestLine == "" && e.StatusCode == 0 {
		return model.LogEntry{}, &LineError{Reason: ErrNoRequiredFields.Error(), Err: ErrNoRequiredFields}
	}
	return e, nil
}
