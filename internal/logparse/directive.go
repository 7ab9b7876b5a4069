package logparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

type valueKind int

const (
	kindWord valueKind = iota
	kindNumber
	kindBracket
	kindTime
)

// directive is one parsed Apache LogFormat directive.
type directive struct {
	raw   string
	field string
	kind  valueKind
	unit  float64 // multiplier to seconds, request_time only
	words int     // kindTime: whitespace-separated words in the value
}

// token is either a literal run of text or a directive.
type token struct {
	literal   string
	directive *directive
}

// tokenize splits a LogFormat string into literals and directives.
func tokenize(format string) ([]token, error) {
	var (
		tokens []token
		lit    strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, token{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '\\' && i+1 < len(format) {
			switch format[i+1] {
			case 'n':
				lit.WriteByte('\n')
			case 't':
				lit.WriteByte('\t')
			default:
				lit.WriteByte(format[i+1])
			}
			i++
			continue
		}
		if c != '%' {
			lit.WriteByte(c)
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			lit.WriteByte('%')
			i++
			continue
		}

		d, n, err := parseDirective(format[i:])
		if err != nil {
			return nil, err
		}
		flush()
		tokens = append(tokens, token{directive: d})
		i += n - 1
	}
	flush()

	for i := 1; i < len(tokens); i++ {
		if tokens[i].directive != nil && tokens[i-1].directive != nil &&
			tokens[i-1].directive.kind != kindBracket {
			return nil, fmt.Errorf("directives %s and %s are not separated", tokens[i-1].directive.raw, tokens[i].directive.raw)
		}
	}
	return tokens, nil
}

// parseDirective reads one directive starting at s[0] == '%' and returns the
// number of bytes consumed.
func parseDirective(s string) (*directive, int, error) {
	i := 1
	// Status-code conditions and original/final modifiers are accepted and ignored.
	for i < len(s) && (s[i] == '<' || s[i] == '>' || s[i] == '!' || s[i] == ',' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	param := ""
	if i < len(s) && s[i] == '{' {
		end := strings.IndexByte(s[i:], '}')
		if end < 0 {
			return nil, 0, fmt.Errorf("unterminated %%{ in %q", s)
		}
		param = s[i+1 : i+end]
		i += end + 1
	}
	if i >= len(s) {
		return nil, 0, fmt.Errorf("dangling %% at end of format")
	}
	letter := s[i]
	if !unicode.IsLetter(rune(letter)) {
		return nil, 0, fmt.Errorf("invalid directive %q", s[:i+1])
	}
	d := newDirective(letter, param)
	d.raw = s[:i+1]
	return d, i + 1, nil
}

func newDirective(letter byte, param string) *directive {
	switch letter {
	case 'h', 'a':
		return &directive{field: "remote_host"}
	case 'A':
		return &directive{field: "local_ip"}
	case 'l':
		return &directive{field: "remote_logname"}
	case 'u':
		return &directive{field: "remote_user"}
	case 't':
		if param == "" {
			return &directive{field: "timestamp", kind: kindBracket}
		}
		return &directive{field: "timestamp", kind: kindTime, words: strings.Count(strings.TrimSpace(param), " ") + 1}
	case 'r':
		return &directive{field: "request_line"}
	case 's':
		return &directive{field: "status_code", kind: kindNumber}
	case 'b', 'B', 'O':
		return &directive{field: "response_size", kind: kindNumber}
	case 'I':
		return &directive{field: "bytes_received", kind: kindNumber}
	case 'S':
		return &directive{field: "bytes_transferred", kind: kindNumber}
	case 'D':
		return &directive{field: "request_time", kind: kindNumber, unit: 1e-6}
	case 'T':
		unit := 1.0
		switch param {
		case "ms":
			unit = 1e-3
		case "us":
			unit = 1e-6
		}
		return &directive{field: "request_time", kind: kindNumber, unit: unit}
	case 'm':
		return &directive{field: "method"}
	case 'U':
		return &directive{field: "path"}
	case 'q':
		return &directive{field: "query"}
	case 'H':
		return &directive{field: "protocol"}
	case 'v':
		return &directive{field: "vhost"}
	case 'V':
		return &directive{field: "server_name"}
	case 'p':
		return &directive{field: "port", kind: kindNumber}
	case 'P':
		return &directive{field: "pid"}
	case 'i':
		switch strings.ToLower(param) {
		case "referer", "referrer":
			return &directive{field: "referer"}
		case "user-agent":
			return &directive{field: "user_agent"}
		}
		return &directive{field: "header_" + snake(param)}
	case 'o':
		return &directive{field: "resp_header_" + snake(param)}
	case 'n':
		return &directive{field: "note_" + snake(param)}
	case 'e':
		return &directive{field: "env_" + snake(param)}
	case 'C':
		return &directive{field: "cookie_" + snake(param)}
	}
	if param != "" {
		return &directive{field: "directive_" + string(letter) + "_" + snake(param)}
	}
	return &directive{field: "directive_" + string(letter)}
}

// snake lowercases s and replaces non-alphanumerics with underscores.
func snake(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// capture is one raw field value extracted from a line.
type capture struct {
	field string
	value string
	unit  float64
}

// matchStrict walks the line token by token. Quoted fields honour \" and \\
// escapes, %t must be bracketed, and numeric directives must be digits or "-".
func matchStrict(tokens []token, line string) ([]capture, error) {
	rest := line
	caps := make([]capture, 0, len(tokens))
	for i, t := range tokens {
		if t.directive == nil {
			if !strings.HasPrefix(rest, t.literal) {
				return nil, fmt.Errorf("expected %q at %q", t.literal, truncate(rest))
			}
			rest = rest[len(t.literal):]
			continue
		}

		d := t.directive
		quoted := i > 0 && tokens[i-1].directive == nil && strings.HasSuffix(tokens[i-1].literal, `"`)
		var next string
		if i+1 < len(tokens) && tokens[i+1].directive == nil {
			next = tokens[i+1].literal
		}

		var (
			value string
			err   error
		)
		switch {
		case d.kind == kindBracket:
			value, rest, err = readBracket(rest)
		case quoted:
			value, rest, err = readQuoted(rest)
		case d.kind == kindTime:
			value, rest, err = readWords(rest, d.words)
		default:
			value, rest = readUntil(rest, next, i == len(tokens)-1)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.raw, err)
		}
		if d.kind == kindNumber && !isNumberToken(value) {
			return nil, fmt.Errorf("%s: %q is not numeric", d.raw, value)
		}
		caps = append(caps, capture{field: d.field, value: value, unit: d.unit})
	}
	if strings.TrimRight(rest, " \t\r\n") != "" {
		return nil, fmt.Errorf("trailing data %q", truncate(rest))
	}
	return caps, nil
}

func readBracket(s string) (value, rest string, err error) {
	if !strings.HasPrefix(s, "[") {
		return "", s, fmt.Errorf("expected '['")
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", s, fmt.Errorf("unterminated '['")
	}
	return s[1:end], s[end+1:], nil
}

func readQuoted(s string) (value, rest string, err error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", s, fmt.Errorf("dangling escape")
			}
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
		case '"':
			return b.String(), s[i:], nil
		default:
			b.WriteByte(s[i])
		}
	}
	return "", s, fmt.Errorf("unterminated quoted field")
}

func readWords(s string, n int) (value, rest string, err error) {
	pos := 0
	for w := 0; w < n; w++ {
		if w > 0 {
			if pos >= len(s) || s[pos] != ' ' {
				return "", s, fmt.Errorf("expected %d words", n)
			}
			pos++
		}
		start := pos
		for pos < len(s) && !isSpace(s[pos]) {
			pos++
		}
		if pos == start {
			return "", s, fmt.Errorf("empty word")
		}
	}
	return s[:pos], s[pos:], nil
}

// readUntil consumes a bare value up to the first byte of the following
// literal or whitespace. The final directive of a format takes the rest.
func readUntil(s, next string, last bool) (value, rest string) {
	if last && next == "" {
		v := strings.TrimRight(s, " \t\r\n")
		return v, s[len(v):]
	}
	var stop byte
	if next != "" {
		stop = next[0]
	}
	i := 0
	for i < len(s) && !isSpace(s[i]) && (stop == 0 || s[i] != stop) {
		i++
	}
	return s[:i], s[i:]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isNumberToken(s string) bool {
	if s == "-" {
		return true
	}
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	}) < 0
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

// fallbackPattern rebuilds the directive list as a lenient regular
// expression. Separators become \s+ and quoted fields match lazily, so lines
// with unescaped quotes or irregular spacing still parse.
func fallbackPattern(tokens []token) (*regexp.Regexp, []*directive, error) {
	var (
		b    strings.Builder
		dirs []*directive
	)
	b.WriteString(`^\s*`)
	for i, t := range tokens {
		if t.directive == nil {
			writeLenientLiteral(&b, t.literal)
			continue
		}
		d := t.directive
		name := fmt.Sprintf("f%d", len(dirs))
		dirs = append(dirs, d)

		quoted := i > 0 && tokens[i-1].directive == nil && strings.HasSuffix(tokens[i-1].literal, `"`)
		var next string
		if i+1 < len(tokens) && tokens[i+1].directive == nil {
			next = strings.TrimLeft(tokens[i+1].literal, " \t")
		}

		switch {
		case d.kind == kindBracket:
			fmt.Fprintf(&b, `\[(?P<%s>[^\]]*)\]`, name)
		case quoted:
			fmt.Fprintf(&b, `(?P<%s>.*?)`, name)
		case i == len(tokens)-1 && d.kind == kindNumber:
			fmt.Fprintf(&b, `(?P<%s>\S*)(?:\s+.*?)?`, name)
		case i == len(tokens)-1:
			fmt.Fprintf(&b, `(?P<%s>.*?)`, name)
		case d.kind == kindTime && d.words > 1:
			fmt.Fprintf(&b, `(?P<%s>\S+(?:\s+\S+){%d})`, name, d.words-1)
		case next != "" && !isSpace(next[0]):
			fmt.Fprintf(&b, `(?P<%s>[^\s%s]*)`, name, regexp.QuoteMeta(next[:1]))
		default:
			fmt.Fprintf(&b, `(?P<%s>\S*)`, name)
		}
	}
	b.WriteString(`\s*$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, nil, fmt.Errorf("building fallback pattern: %w", err)
	}
	return re, dirs, nil
}

func writeLenientLiteral(b *strings.Builder, lit string) {
	inSpace := false
	for _, r := range lit {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteString(`\s+`)
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
}
