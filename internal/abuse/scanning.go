package abuse

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// Scanning flags identifiers probing many distinct paths that do not exist.
type Scanning struct {
	Config     ScanningConfig
	Identifier string
}

func (d *Scanning) Kind() model.PatternKind { return model.PatternScanning }

func (d *Scanning) Detect(ctx context.Context, q Querier) ([]model.AbusePattern, error) {
	h := q.Handle()
	sql := fmt.Sprintf(`WITH base AS (%s)
SELECT id, COUNT(*) AS requests,
	COUNT(*) FILTER (WHERE is_not_found(status)) AS not_found,
	COUNT(DISTINCT CASE WHEN is_not_found(status) THEN path END) AS not_found_paths,
	COUNT(DISTINCT ua) AS agents,
	MIN(ts) AS first_seen, MAX(ts) AS last_seen
FROM base
GROUP BY id
HAVING COUNT(*) FILTER (WHERE is_not_found(status)) >= %d
ORDER BY id`, base(h, d.Identifier), d.Config.MinNotFound)

	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	var out []model.AbusePattern
	for _, r := range rows {
		requests, notFound, paths := r.Int("requests"), r.Int("not_found"), r.Int("not_found_paths")
		if requests == 0 || notFound == 0 {
			continue
		}
		rate := float64(notFound) / float64(requests)
		diversity := float64(paths) / float64(notFound)
		if rate < d.Config.MinNotFoundRate || diversity < d.Config.MinPathDiversity {
			continue
		}
		conf := confidence(
			excess(float64(notFound), float64(d.Config.MinNotFound)),
			excess(rate, d.Config.MinNotFoundRate),
			excess(diversity, d.Config.MinPathDiversity),
		)
		id := r.String("id")
		out = append(out, model.AbusePattern{
			Kind:         model.PatternScanning,
			Identifiers:  []string{id},
			RequestCount: requests,
			Confidence:   conf,
			Severity:     severityFor(conf),
			FirstSeen:    r.Time("first_seen"),
			LastSeen:     r.Time("last_seen"),
			Description: fmt.Sprintf("%s not-found responses across %s distinct paths from %s",
				humanize.Comma(notFound), humanize.Comma(paths), id),
			Evidence: map[string]any{
				"not_found":          notFound,
				"not_found_rate":     rate,
				"unique_404_paths":   paths,
				"path_diversity_404": diversity,
				"unique_agents":      r.Int("agents"),
			},
		})
	}
	return out, nil
}
