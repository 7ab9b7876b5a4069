package anomaly

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tinytelemetry/accesslens/internal/duckdb"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// maxFilledBuckets bounds zero-filling of empty time buckets.
const maxFilledBuckets = 100_000

func dimensions() []dimension {
	return []dimension{
		{
			name:    DimTrafficVolume,
			query:   bucketQuery,
			samples: trafficSamples,
			describe: func(s sample, b baseline) string {
				return fmt.Sprintf("%s requests in the bucket starting %s, baseline median %.1f",
					humanize.Comma(s.count), s.subject, b.median)
			},
			recommend: func(s sample) string {
				return fmt.Sprintf("Investigate the traffic spike starting %s for a possible DDoS attack or coordinated activity", s.subject)
			},
		},
		{
			name:    DimErrorRate,
			query:   bucketQuery,
			samples: errorRateSamples,
			describe: func(s sample, b baseline) string {
				return fmt.Sprintf("%.1f%% of requests failed in the bucket starting %s, baseline median %.1f%%",
					s.value*100, s.subject, b.median*100)
			},
			recommend: func(s sample) string {
				return fmt.Sprintf("Review server and application errors starting %s", s.subject)
			},
		},
		{
			name: DimIdentifierRate,
			query: func(h *duckdb.Handle, w model.TimeWindow, cfg Config) string {
				return fmt.Sprintf(`SELECT %s AS subject, COUNT(*) AS requests FROM %s WHERE %s AND %s GROUP BY subject`,
					h.Text(cfg.Identifier), h.TableIdent(), h.Window(w), h.IsPresent(cfg.Identifier))
			},
			samples: countSamples,
			describe: func(s sample, b baseline) string {
				return fmt.Sprintf("%s sent %s requests, baseline median %.1f", s.subject, humanize.Comma(s.count), b.median)
			},
			recommend: func(s sample) string {
				return fmt.Sprintf("Consider rate limiting %s and investigate potential DDoS or scraping activity", s.subject)
			},
		},
		{
			name: DimUserAgentDiversity,
			query: func(h *duckdb.Handle, w model.TimeWindow, cfg Config) string {
				return fmt.Sprintf(`SELECT %s AS subject, COUNT(DISTINCT %s) AS agents, COUNT(*) AS requests FROM %s WHERE %s AND %s GROUP BY subject`,
					h.Text(cfg.Identifier), h.Text(model.ColUserAgent), h.TableIdent(), h.Window(w), h.IsPresent(cfg.Identifier))
			},
			samples: func(rows []model.Row, _ model.TimeWindow, _ Config) []sample {
				out := make([]sample, 0, len(rows))
				for _, r := range rows {
					out = append(out, sample{subject: r.String("subject"), value: float64(r.Int("agents")), weight: 1, count: r.Int("requests")})
				}
				return out
			},
			describe: func(s sample, b baseline) string {
				return fmt.Sprintf("%s used %d distinct user agents, baseline median %.1f", s.subject, int64(s.value), b.median)
			},
			recommend: func(s sample) string {
				return fmt.Sprintf("%s rotates user agents; check for automated tools or bot activity", s.subject)
			},
		},
		{
			name: DimPathAccess,
			query: func(h *duckdb.Handle, w model.TimeWindow, _ Config) string {
				return fmt.Sprintf(`SELECT %s AS subject, COUNT(*) AS requests FROM %s WHERE %s AND %s GROUP BY subject`,
					h.Text(model.ColPath), h.TableIdent(), h.Window(w), h.IsPresent(model.ColPath))
			},
			samples: countSamples,
			describe: func(s sample, b baseline) string {
				return fmt.Sprintf("%s was requested %s times, baseline median %.1f", s.subject, humanize.Comma(s.count), b.median)
			},
			recommend: func(s sample) string {
				return fmt.Sprintf("Review access to %s and protect it if it is sensitive", s.subject)
			},
		},
		{
			name: DimResponseSize,
			query: func(h *duckdb.Handle, w model.TimeWindow, _ Config) string {
				size := h.Int(model.ColResponseSize)
				return fmt.Sprintf(`SELECT %s AS size, COUNT(*) AS requests FROM %s WHERE %s AND %s IS NOT NULL GROUP BY size`,
					size, h.TableIdent(), h.Window(w), size)
			},
			samples: func(rows []model.Row, _ model.TimeWindow, _ Config) []sample {
				out := make([]sample, 0, len(rows))
				for _, r := range rows {
					size := r.Int("size")
					n := r.Int("requests")
					out = append(out, sample{subject: strconv.FormatInt(size, 10), value: float64(size), weight: float64(n), count: n})
				}
				return out
			},
			describe: func(s sample, b baseline) string {
				size, _ := strconv.ParseUint(s.subject, 10, 64)
				return fmt.Sprintf("%s responses of %s, baseline median %s",
					humanize.Comma(s.count), humanize.Bytes(size), humanize.Bytes(uint64(max(b.median, 0))))
			},
			recommend: func(s sample) string {
				size, _ := strconv.ParseUint(s.subject, 10, 64)
				return fmt.Sprintf("Responses of %s may indicate data exfiltration; audit what was served", humanize.Bytes(size))
			},
		},
		{
			name:  DimHourOfDay,
			limit: 24,
			query: func(h *duckdb.Handle, w model.TimeWindow, _ Config) string {
				ts := h.Timestamp()
				return fmt.Sprintf(`SELECT hour_of_day(%s) AS slot, COUNT(*) AS requests FROM %s WHERE %s AND %s IS NOT NULL GROUP BY slot`,
					ts, h.TableIdent(), h.Window(w), ts)
			},
			samples: slotSamples(func(n int64) string { return fmt.Sprintf("%02d:00", n) }),
			describe: func(s sample, b baseline) string {
				return fmt.Sprintf("%s requests during hour %s, baseline median %.1f", humanize.Comma(s.count), s.subject, b.median)
			},
			recommend: func(s sample) string {
				return fmt.Sprintf("Investigate the traffic spike during hour %s", s.subject)
			},
		},
		{
			name:  DimDayOfWeek,
			limit: 7,
			query: func(h *duckdb.Handle, w model.TimeWindow, _ Config) string {
				ts := h.Timestamp()
				return fmt.Sprintf(`SELECT day_of_week(%s) AS slot, COUNT(*) AS requests FROM %s WHERE %s AND %s IS NOT NULL GROUP BY slot`,
					ts, h.TableIdent(), h.Window(w), ts)
			},
			samples: slotSamples(func(n int64) string { return time.Weekday(n % 7).String() }),
			describe: func(s sample, b baseline) string {
				return fmt.Sprintf("%s requests on %s, baseline median %.1f", humanize.Comma(s.count), s.subject, b.median)
			},
			recommend: func(s sample) string {
				return fmt.Sprintf("Investigate unusual activity on %s", s.subject)
			},
		},
	}
}

// bucketQuery counts requests and errors per time bucket.
func bucketQuery(h *duckdb.Handle, w model.TimeWindow, cfg Config) string {
	ts := h.Timestamp()
	return fmt.Sprintf(`SELECT bucket_start(%s, %d) AS bucket, COUNT(*) AS requests,
  COUNT(*) FILTER (WHERE is_error_status(%s)) AS errors
FROM %s WHERE %s AND %s IS NOT NULL GROUP BY bucket ORDER BY bucket`,
		ts, bucketSeconds(cfg), h.Int(model.ColStatusCode), h.TableIdent(), h.Window(w), ts)
}

func bucketWindow(start int64, cfg Config) model.TimeWindow {
	t := time.Unix(start, 0).UTC()
	return model.TimeWindow{Start: t, End: t.Add(cfg.Bucket)}
}

// trafficSamples returns one sample per bucket between the first and last
// busy bucket. Empty buckets count as zero requests.
func trafficSamples(rows []model.Row, _ model.TimeWindow, cfg Config) []sample {
	if len(rows) == 0 {
		return nil
	}
	step := bucketSeconds(cfg)
	counts := make(map[int64]int64, len(rows))
	for _, r := range rows {
		counts[r.Int("bucket")] = r.Int("requests")
	}
	first, last := rows[0].Int("bucket"), rows[len(rows)-1].Int("bucket")

	var buckets []int64
	if (last-first)/step+1 <= maxFilledBuckets {
		for b := first; b <= last; b += step {
			buckets = append(buckets, b)
		}
	} else {
		for _, r := range rows {
			buckets = append(buckets, r.Int("bucket"))
		}
	}

	out := make([]sample, 0, len(buckets))
	for _, b := range buckets {
		win := bucketWindow(b, cfg)
		n := counts[b]
		out = append(out, sample{
			subject: win.Start.Format(time.RFC3339),
			value:   float64(n),
			weight:  1,
			count:   n,
			window:  win,
		})
	}
	return out
}

// errorRateSamples scores the share of 4xx and 5xx responses per bucket,
// skipping buckets too quiet for a meaningful rate.
func errorRateSamples(rows []model.Row, _ model.TimeWindow, cfg Config) []sample {
	var out []sample
	for _, r := range rows {
		requests := r.Int("requests")
		if requests < cfg.MinBucketRequests {
			continue
		}
		win := bucketWindow(r.Int("bucket"), cfg)
		errs := r.Int("errors")
		out = append(out, sample{
			subject: win.Start.Format(time.RFC3339),
			value:   float64(errs) / float64(requests),
			weight:  1,
			count:   errs,
			window:  win,
		})
	}
	return out
}

func countSamples(rows []model.Row, _ model.TimeWindow, _ Config) []sample {
	out := make([]sample, 0, len(rows))
	for _, r := range rows {
		n := r.Int("requests")
		out = append(out, sample{subject: r.String("subject"), value: float64(n), weight: 1, count: n})
	}
	return out
}

func slotSamples(label func(int64) string) func([]model.Row, model.TimeWindow, Config) []sample {
	return func(rows []model.Row, _ model.TimeWindow, _ Config) []sample {
		out := make([]sample, 0, len(rows))
		for _, r := range rows {
			n := r.Int("requests")
			out = append(out, sample{subject: label(r.Int("slot")), value: float64(n), weight: 1, count: n})
		}
		return out
	}
}
