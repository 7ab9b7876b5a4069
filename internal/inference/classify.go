package inference

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/tinytelemetry/accesslens/internal/model"
)

const urlReserved = ":/?#[]@!$&'()*+,;="

// classify picks a column type from its value kind, name and a bounded sample
// of non-null raw values. Checks run in a fixed order; the first match wins.
func classify(name string, kind model.ValueKind, sample []string, cardinality, nonNull int, opts Options) model.ColumnType {
	switch kind {
	case model.KindTime:
		return model.TypeTimestamp
	case model.KindInt, model.KindFloat:
		return model.TypeNumeric
	}
	if len(sample) == 0 {
		return model.TypeText
	}

	if fraction(sample, isIP) >= opts.MatchRatio {
		return model.TypeIPAddress
	}
	if fraction(sample, isURL) >= opts.MatchRatio {
		return model.TypeURL
	}
	if isUserAgentName(name) && looksLikeUserAgents(sample) {
		return model.TypeUserAgent
	}
	if fraction(sample, isNumeric) == 1 {
		return model.TypeNumeric
	}
	if nonNull > 0 && float64(cardinality) < opts.CategoricalRatio*float64(nonNull) {
		return model.TypeCategorical
	}
	return model.TypeText
}

func fraction(sample []string, pred func(string) bool) float64 {
	if len(sample) == 0 {
		return 0
	}
	n := 0
	for _, s := range sample {
		if pred(s) {
			n++
		}
	}
	return float64(n) / float64(len(sample))
}

func isIP(s string) bool {
	_, err := netip.ParseAddr(strings.TrimSpace(s))
	return err == nil
}

// isURL accepts absolute URLs with a scheme and rooted paths carrying
// reserved URL characters.
func isURL(s string) bool {
	if i := strings.Index(s, "://"); i > 0 {
		scheme := s[:i]
		return strings.IndexFunc(scheme, func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.')
		}) < 0
	}
	return strings.HasPrefix(s, "/") && !strings.ContainsAny(s, " \t") && strings.ContainsAny(s, urlReserved)
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

func isUserAgentName(name string) bool {
	n := strings.ToLower(name)
	n = strings.NewReplacer("-", "", "_", "").Replace(n)
	return strings.Contains(n, "useragent") || n == "ua" || strings.HasSuffix(n, "agent")
}

// looksLikeUserAgents checks for product/version tokens and enough distinct
// tokens across the sample.
func looksLikeUserAgents(sample []string) bool {
	tokens := make(map[string]struct{})
	structured := 0
	for _, s := range sample {
		if strings.ContainsAny(s, "/(") {
			structured++
		}
		for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
			return r == ' ' || r == '/' || r == '(' || r == ')' || r == ';'
		}) {
			tokens[strings.ToLower(tok)] = struct{}{}
		}
	}
	return float64(structured)/float64(len(sample)) >= 0.5 || len(tokens) >= 5
}
