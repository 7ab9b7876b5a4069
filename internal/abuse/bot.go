package abuse

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// Bot flags (identifier, user agent) pairs where the agent names a known
// automated client and requests arrive at regular intervals. Both signals
// must agree; timing regularity is the coefficient of variation of the gaps
// between consecutive requests.
type Bot struct {
	Config     BotConfig
	Identifier string
}

func (d *Bot) Kind() model.PatternKind { return model.PatternBot }

func (d *Bot) Detect(ctx context.Context, q Querier) ([]model.AbusePattern, error) {
	h := q.Handle()
	sql := fmt.Sprintf(`WITH base AS (%s),
gaps AS (
	SELECT id, ua, ts,
		unix_seconds(ts) - unix_seconds(lag(ts) OVER (PARTITION BY id, ua ORDER BY ts)) AS gap
	FROM base
	WHERE ua IS NOT NULL AND ts IS NOT NULL
)
SELECT id, ua, COUNT(*) AS requests, COUNT(gap) AS gaps,
	avg(gap) AS mean_gap, stddev_pop(gap) AS sd_gap,
	MIN(ts) AS first_seen, MAX(ts) AS last_seen
FROM gaps
GROUP BY id, ua
HAVING COUNT(*) >= %d
ORDER BY id, ua`, base(h, d.Identifier), d.Config.MinRequests)

	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	var out []model.AbusePattern
	for _, r := range rows {
		ua := r.String("ua")
		token := d.matchToken(ua)
		if token == "" || r.Int("gaps") < 2 {
			continue
		}
		mean, sd := r.Float("mean_gap"), r.Float("sd_gap")
		cv := 0.0
		if mean > 0 {
			cv = sd / mean
		}
		if cv > d.Config.MaxGapCV {
			continue
		}

		requests := r.Int("requests")
		conf := confidence(
			excess(float64(requests), float64(d.Config.MinRequests)),
			shortfall(cv, d.Config.MaxGapCV),
		)
		id := r.String("id")
		out = append(out, model.AbusePattern{
			Kind:         model.PatternBot,
			Identifiers:  []string{id},
			RequestCount: requests,
			Confidence:   conf,
			Severity:     severityFor(conf),
			FirstSeen:    r.Time("first_seen"),
			LastSeen:     r.Time("last_seen"),
			Description: fmt.Sprintf("Automated agent %q from %s: %s requests every %.1fs on average",
				ua, id, humanize.Comma(requests), mean),
			Evidence: map[string]any{
				"user_agent": ua,
				"token":      token,
				"mean_gap_s": mean,
				"gap_cv":     cv,
				"intervals":  r.Int("gaps"),
			},
		})
	}
	return out, nil
}

// matchToken returns the first configured token found in ua, ignoring case.
func (d *Bot) matchToken(ua string) string {
	lower := strings.ToLower(ua)
	for _, tok := range d.Config.Tokens {
		if tok != "" && strings.Contains(lower, strings.ToLower(tok)) {
			return tok
		}
	}
	return ""
}
