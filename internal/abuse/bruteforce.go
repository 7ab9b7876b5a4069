package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// BruteForce flags identifiers whose failed-auth responses within one
// tumbling Span bucket reach both MinFailures and MinFailureRate. Rows
// without a timestamp share a single bucket.
type BruteForce struct {
	Config     BruteForceConfig
	Identifier string
}

func (d *BruteForce) Kind() model.PatternKind { return model.PatternBruteForce }

func (d *BruteForce) Detect(ctx context.Context, q Querier) ([]model.AbusePattern, error) {
	if len(d.Config.FailedStatuses) == 0 {
		return nil, nil
	}
	h := q.Handle()
	span := int64(d.Config.Span / time.Second)
	if span < 1 {
		span = 1
	}

	sql := fmt.Sprintf(`WITH base AS (%s)
SELECT id, bucket_start(ts, %d) AS bucket, COUNT(*) AS requests,
	COUNT(*) FILTER (WHERE is_auth_failure(status, %s)) AS failures,
	COUNT(DISTINCT path) AS paths,
	MIN(ts) AS first_seen, MAX(ts) AS last_seen
FROM base
GROUP BY id, bucket
HAVING COUNT(*) FILTER (WHERE is_auth_failure(status, %s)) >= %d
ORDER BY id, bucket`,
		base(h, d.Identifier), span, intList(d.Config.FailedStatuses), intList(d.Config.FailedStatuses), d.Config.MinFailures)

	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	var out []model.AbusePattern
	for _, r := range rows {
		requests, failures := r.Int("requests"), r.Int("failures")
		if requests == 0 {
			continue
		}
		rate := float64(failures) / float64(requests)
		if rate < d.Config.MinFailureRate {
			continue
		}
		conf := confidence(
			excess(float64(failures), float64(d.Config.MinFailures)),
			excess(rate, d.Config.MinFailureRate),
		)
		id := r.String("id")
		out = append(out, model.AbusePattern{
			Kind:         model.PatternBruteForce,
			Identifiers:  []string{id},
			RequestCount: requests,
			Confidence:   conf,
			Severity:     severityFor(conf),
			FirstSeen:    r.Time("first_seen"),
			LastSeen:     r.Time("last_seen"),
			Description: fmt.Sprintf("%s failed authentication responses (%.0f%% of %s requests) from %s within %s",
				humanize.Comma(failures), rate*100, humanize.Comma(requests), id, d.Config.Span),
			Evidence: map[string]any{
				"failures":        failures,
				"failure_rate":    rate,
				"failed_statuses": d.Config.FailedStatuses,
				"unique_paths":    r.Int("paths"),
				"bucket_start":    r.Int("bucket"),
				"span_seconds":    span,
			},
		})
	}
	return out, nil
}
