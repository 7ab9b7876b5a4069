package logparse

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalidFormatSpec is matched by every format resolution failure.
var ErrInvalidFormatSpec = errors.New("invalid log format spec")

// InvalidFormatSpecError explains why a format spec was rejected.
type InvalidFormatSpecError struct {
	Spec   string
	Reason string
}

func (e *InvalidFormatSpecError) Error() string {
	return fmt.Sprintf("invalid log format spec %q: %s", e.Spec, e.Reason)
}

func (e *InvalidFormatSpecError) Is(target error) bool {
	return target == ErrInvalidFormatSpec
}

// FormatKind distinguishes how a format spec was interpreted.
type FormatKind int

const (
	KindPredefined FormatKind = iota
	KindDirective
	KindPattern
)

func (k FormatKind) String() string {
	switch k {
	case KindPredefined:
		return "predefined"
	case KindDirective:
		return "directive"
	case KindPattern:
		return "pattern"
	}
	return "unknown"
}

// Predefined LogFormat directive strings.
const (
	FormatCommon           = `%h %l %u %t "%r" %>s %O`
	FormatCombined         = FormatCommon + ` "%{Referer}i" "%{User-Agent}i"`
	FormatCombinedWithTime = FormatCombined + ` %D`
	FormatVhostCombined    = `%v:%p %h %l %u %t "%r" %>s %O "%{Referer}i" "%{User-Agent}i"`
)

var predefined = map[string]string{
	"common":             FormatCommon,
	"combined":           FormatCombined,
	"combined_with_time": FormatCombinedWithTime,
	"vhost_combined":     FormatVhostCombined,
}

// PredefinedFormats returns the predefined format names mapped to their
// directive strings.
func PredefinedFormats() map[string]string {
	out := make(map[string]string, len(predefined))
	for k, v := range predefined {
		out[k] = v
	}
	return out
}

// PredefinedNames returns the predefined format names, sorted.
func PredefinedNames() []string {
	names := make([]string, 0, len(predefined))
	for k := range predefined {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FormatSpec is a resolved, validated log format.
type FormatSpec struct {
	Kind FormatKind
	// Name is the predefined name, if any.
	Name string
	// Source is the spec as supplied by the caller.
	Source string
	// Directives is the directive string for predefined and directive kinds.
	Directives string
	// Pattern is the named-capture regular expression for the pattern kind.
	Pattern string

	tokens []token
	re     *regexp.Regexp
}

// Equal reports whether two specs describe the same format.
func (f FormatSpec) Equal(o FormatSpec) bool {
	return f.Kind == o.Kind && f.Name == o.Name && f.Directives == o.Directives && f.Pattern == o.Pattern
}

func (f FormatSpec) String() string {
	switch f.Kind {
	case KindPredefined:
		return f.Name
	case KindPattern:
		return f.Pattern
	}
	return f.Directives
}

// Required field groups and the capture names accepted for each.
var requiredGroups = []struct {
	field   string
	aliases []string
}{
	{"remote_host", []string{"remote_host", "client_ip", "ip", "host"}},
	{"timestamp", []string{"timestamp", "time"}},
	{"request_line", []string{"request_line", "request"}},
	{"status_code", []string{"status_code", "status"}},
}

// groupAliases maps accepted capture names onto canonical field names.
var groupAliases = func() map[string]string {
	m := map[string]string{
		"remote_logname": "remote_logname",
		"remote_user":    "remote_user",
		"user":           "remote_user",
		"method":         "method",
		"path":           "path",
		"url":            "path",
		"protocol":       "protocol",
		"response_size":  "response_size",
		"size":           "response_size",
		"bytes":          "response_size",
		"referer":        "referer",
		"referrer":       "referer",
		"user_agent":     "user_agent",
		"useragent":      "user_agent",
		"request_time":   "request_time",
		"duration":       "request_time",
	}
	for _, g := range requiredGroups {
		for _, a := range g.aliases {
			m[a] = g.field
		}
	}
	return m
}()

// Resolve interprets a user-supplied format spec. Exact predefined names win,
// then named-capture patterns, then directive strings. Resolution is pure and
// fails before any input is read.
func Resolve(spec string) (FormatSpec, error) {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return FormatSpec{}, &InvalidFormatSpecError{Spec: spec, Reason: "empty format"}
	}

	if directives, ok := predefined[trimmed]; ok {
		tokens, err := tokenize(directives)
		if err != nil {
			return FormatSpec{}, &InvalidFormatSpecError{Spec: spec, Reason: err.Error()}
		}
		return FormatSpec{Kind: KindPredefined, Name: trimmed, Source: spec, Directives: directives, tokens: tokens}, nil
	}

	if strings.Contains(spec, "(?P<") || strings.Contains(spec, "(?<") {
		return resolvePattern(spec)
	}

	return resolveDirectives(spec)
}

func resolvePattern(spec string) (FormatSpec, error) {
	re, err := regexp.Compile(spec)
	if err != nil {
		return FormatSpec{}, &InvalidFormatSpecError{Spec: spec, Reason: fmt.Sprintf("pattern does not compile: %v", err)}
	}
	present := make(map[string]bool)
	for _, name := range re.SubexpNames() {
		if field, ok := groupAliases[name]; ok {
			present[field] = true
		}
	}
	if missing := missingRequired(present); len(missing) > 0 {
		return FormatSpec{}, &InvalidFormatSpecError{
			Spec:   spec,
			Reason: "pattern is missing required groups: " + strings.Join(missing, ", "),
		}
	}
	return FormatSpec{Kind: KindPattern, Source: spec, Pattern: spec, re: re}, nil
}

func resolveDirectives(spec string) (FormatSpec, error) {
	tokens, err := tokenize(spec)
	if err != nil {
		return FormatSpec{}, &InvalidFormatSpecError{Spec: spec, Reason: err.Error()}
	}
	present := make(map[string]bool)
	for _, t := range tokens {
		if t.directive != nil {
			present[t.directive.field] = true
		}
	}
	if len(present) == 0 {
		return FormatSpec{}, &InvalidFormatSpecError{Spec: spec, Reason: "no % directives found"}
	}
	if missing := missingRequired(present); len(missing) > 0 {
		return FormatSpec{}, &InvalidFormatSpecError{
			Spec:   spec,
			Reason: "format is missing required fields: " + strings.Join(missing, ", "),
		}
	}
	return FormatSpec{Kind: KindDirective, Source: spec, Directives: spec, tokens: tokens}, nil
}

func missingRequired(present map[string]bool) []string {
	var missing []string
	for _, g := range requiredGroups {
		if !present[g.field] {
			missing = append(missing, g.field)
		}
	}
	return missing
}
