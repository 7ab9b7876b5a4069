package abuse

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// DDoS flags identifiers sending at least MinRequests requests to at most
// MaxDistinctPaths paths.
type DDoS struct {
	Config     DDoSConfig
	Identifier string
}

func (d *DDoS) Kind() model.PatternKind { return model.PatternDDoS }

func (d *DDoS) Detect(ctx context.Context, q Querier) ([]model.AbusePattern, error) {
	h := q.Handle()
	sql := fmt.Sprintf(`WITH base AS (%s)
SELECT id, COUNT(*) AS requests, COUNT(DISTINCT path) AS paths,
	COUNT(DISTINCT ua) AS agents,
	COUNT(*) FILTER (WHERE status BETWEEN 200 AND 299) AS successes,
	MIN(ts) AS first_seen, MAX(ts) AS last_seen
FROM base
GROUP BY id
HAVING COUNT(*) >= %d AND COUNT(DISTINCT path) <= %d
ORDER BY id`, base(h, d.Identifier), d.Config.MinRequests, d.Config.MaxDistinctPaths)

	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	var out []model.AbusePattern
	for _, r := range rows {
		requests, paths := r.Int("requests"), r.Int("paths")
		conf := confidence(
			excess(float64(requests), float64(d.Config.MinRequests)),
			shortfall(float64(paths), float64(d.Config.MaxDistinctPaths)),
		)
		id := r.String("id")
		out = append(out, model.AbusePattern{
			Kind:         model.PatternDDoS,
			Identifiers:  []string{id},
			RequestCount: requests,
			Confidence:   conf,
			Severity:     severityFor(conf),
			FirstSeen:    r.Time("first_seen"),
			LastSeen:     r.Time("last_seen"),
			Description: fmt.Sprintf("%s requests from %s targeting %d distinct paths",
				humanize.Comma(requests), id, paths),
			Evidence: map[string]any{
				"unique_paths":   paths,
				"unique_agents":  r.Int("agents"),
				"success_rate":   float64(r.Int("successes")) / float64(max(requests, 1)),
				"path_diversity": float64(paths) / float64(max(requests, 1)),
			},
		})
	}
	return out, nil
}
