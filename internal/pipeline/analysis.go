package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinytelemetry/accesslens/internal/duckdb"
	"github.com/tinytelemetry/accesslens/internal/model"
)

// GroupAnalysis counts records per combination of the requested columns
// inside the window. Absent values form their own group, so without a limit
// the group counts always add up to Total. Groups are ordered by count,
// largest first.
func (p *Pipeline) GroupAnalysis(ctx context.Context, req model.GroupRequest) (model.GroupResult, error) {
	if len(req.Columns) == 0 {
		return model.GroupResult{}, fmt.Errorf("group analysis needs at least one column")
	}
	if err := req.Window.Validate(); err != nil {
		return model.GroupResult{}, err
	}
	for _, name := range req.Columns {
		if _, err := p.column(name); err != nil {
			return model.GroupResult{}, err
		}
	}

	sql, aliases := groupQuery(p.dataset.Handle(), req)
	rows, err := p.dataset.QueryAliased(ctx, sql, aliases)
	if err != nil {
		return model.GroupResult{}, err
	}

	result := model.GroupResult{
		Columns: append([]string(nil), req.Columns...),
		Window:  req.Window,
		Groups:  make([]model.GroupCount, 0, len(rows)),
	}
	if len(rows) > 0 {
		result.Total = rows[0].Int("total")
	}
	for _, r := range rows {
		g := model.GroupCount{Values: make(map[string]any, len(req.Columns)), Count: r.Int("n")}
		for i, name := range req.Columns {
			g.Values[name] = r[groupAlias(i)]
		}
		if result.Total > 0 {
			g.Percent = float64(g.Count) * 100 / float64(result.Total)
		}
		result.Groups = append(result.Groups, g)
	}
	return result, nil
}

func groupAlias(i int) string { return fmt.Sprintf("g%d", i) }

func groupQuery(h *duckdb.Handle, req model.GroupRequest) (string, map[string]string) {
	aliases := make(map[string]string, len(req.Columns))
	selects := make([]string, len(req.Columns))
	keys := make([]string, len(req.Columns))
	order := []string{"n DESC"}
	for i, name := range req.Columns {
		alias := groupAlias(i)
		aliases[alias] = name
		selects[i] = fmt.Sprintf("%s AS %s", h.Value(name), alias)
		keys[i] = alias
		order = append(order, alias+" ASC NULLS LAST")
	}

	sql := fmt.Sprintf(`SELECT %s, COUNT(*) AS n, CAST(SUM(COUNT(*)) OVER () AS BIGINT) AS total FROM %s WHERE %s GROUP BY %s ORDER BY %s`,
		strings.Join(selects, ", "), h.TableIdent(), h.Window(req.Window),
		strings.Join(keys, ", "), strings.Join(order, ", "))
	if req.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	return sql, aliases
}

// Distribution describes one column inside the window: the most frequent
// values and, for numeric columns, an equal-width histogram. limit caps the
// top values; zero uses the configured default.
func (p *Pipeline) Distribution(ctx context.Context, column string, w model.TimeWindow, limit int) (model.Distribution, error) {
	md, err := p.column(column)
	if err != nil {
		return model.Distribution{}, err
	}
	if err := w.Validate(); err != nil {
		return model.Distribution{}, err
	}
	if limit <= 0 {
		limit = p.cfg.TopK
	}
	h := p.dataset.Handle()

	d := model.Distribution{Column: md.Name, Type: md.Type, Window: w, TopValues: []model.ValueCount{}}

	counts, err := p.dataset.Query(ctx, fmt.Sprintf(
		`SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE %s) AS nulls FROM %s WHERE %s`,
		h.IsAbsent(md.Name), h.TableIdent(), h.Window(w)))
	if err != nil {
		return model.Distribution{}, err
	}
	if len(counts) > 0 {
		d.Total = counts[0].Int("total")
		d.Nulls = counts[0].Int("nulls")
	}

	top, err := p.dataset.Query(ctx, fmt.Sprintf(
		`SELECT CAST(v AS VARCHAR) AS value, COUNT(*) AS n FROM (SELECT %s AS v FROM %s WHERE %s) WHERE v IS NOT NULL GROUP BY value ORDER BY n DESC, value LIMIT %d`,
		h.Value(md.Name), h.TableIdent(), h.Window(w), limit))
	if err != nil {
		return model.Distribution{}, err
	}
	present := d.Total - d.Nulls
	for _, r := range top {
		vc := model.ValueCount{Value: r.String("value"), Count: r.Int("n")}
		if present > 0 {
			vc.Percent = float64(vc.Count) * 100 / float64(present)
		}
		d.TopValues = append(d.TopValues, vc)
	}

	if md.Type == model.TypeNumeric && present > 0 {
		d.Histogram, err = p.histogram(ctx, h, md.Name, w)
		if err != nil {
			return model.Distribution{}, err
		}
	}
	return d, nil
}

func (p *Pipeline) histogram(ctx context.Context, h *duckdb.Handle, column string, w model.TimeWindow) ([]model.HistogramBucket, error) {
	bins := p.cfg.HistogramBins
	rows, err := p.dataset.Query(ctx, fmt.Sprintf(`WITH v AS (
  SELECT %s AS x FROM %s WHERE %s
), b AS (
  SELECT min(x) AS lo, max(x) AS hi FROM v WHERE x IS NOT NULL
)
SELECT CASE WHEN hi = lo THEN 0 ELSE LEAST(CAST(floor((x - lo) / (hi - lo) * %d) AS BIGINT), %d) END AS bin,
  COUNT(*) AS n, any_value(lo) AS lo, any_value(hi) AS hi
FROM v, b WHERE x IS NOT NULL GROUP BY bin ORDER BY bin`,
		h.Float(column), h.TableIdent(), h.Window(w), bins, bins-1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	lo, hi := rows[0].Float("lo"), rows[0].Float("hi")
	if hi == lo {
		return []model.HistogramBucket{{Lower: lo, Upper: hi, Count: rows[0].Int("n")}}, nil
	}
	width := (hi - lo) / float64(bins)
	out := make([]model.HistogramBucket, bins)
	for i := range out {
		out[i] = model.HistogramBucket{Lower: lo + float64(i)*width, Upper: lo + float64(i+1)*width}
	}
	out[bins-1].Upper = hi
	for _, r := range rows {
		if bin := r.Int("bin"); bin >= 0 && bin < int64(bins) {
			out[bin].Count += r.Int("n")
		}
	}
	return out, nil
}
