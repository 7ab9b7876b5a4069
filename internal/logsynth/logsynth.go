// Package logsynth generates synthetic access-log traffic, benign and
// abusive, for demos and tests.
package logsynth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// Line is one synthetic request.
type Line struct {
	Host      string
	User      string
	Time      time.Time
	Method    string
	Path      string
	Protocol  string
	Status    int
	Size      int64 // negative = "-"
	Referer   string
	UserAgent string
	Micros    int64
	VHost     string
	Port      int
}

// Format renders the line in one of the predefined format names. Unknown
// names render as combined.
func (l Line) Format(format string) string {
	request := fmt.Sprintf("%s %s %s", l.Method, l.Path, l.Protocol)
	common := fmt.Sprintf(`%s - %s [%s] "%s" %d %s`,
		dash(l.Host), dash(l.User), l.Time.Format("02/Jan/2006:15:04:05 -0700"),
		escape(request), l.Status, size(l.Size))
	agent := fmt.Sprintf(`"%s" "%s"`, escape(dash(l.Referer)), escape(dash(l.UserAgent)))

	switch format {
	case "common":
		return common
	case "combined_with_time":
		return common + " " + agent + " " + strconv.FormatInt(l.Micros, 10)
	case "vhost_combined":
		return fmt.Sprintf("%s:%d %s %s", dash(l.VHost), l.Port, common, agent)
	}
	return common + " " + agent
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func size(n int64) string {
	if n < 0 {
		return "-"
	}
	return strconv.FormatInt(n, 10)
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

var benignPaths = []string{
	"/", "/index.html", "/about", "/products", "/products/42", "/cart",
	"/static/app.js", "/static/style.css", "/images/logo.png", "/api/v1/items",
	"/blog", "/blog/post-1", "/contact", "/search?q=shoes", "/favicon.ico",
}

var probePaths = []string{
	"/.env", "/wp-admin", "/wp-login.php", "/phpmyadmin", "/admin", "/.git/config",
	"/config.php", "/backup.sql", "/server-status", "/cgi-bin/test.cgi",
	"/xmlrpc.php", "/.aws/credentials", "/debug", "/console", "/actuator/health",
}

// Generator produces deterministic traffic for a given seed.
type Generator struct {
	f     *gofakeit.Faker
	clock time.Time
	step  time.Duration
}

// New returns a generator starting at start whose benign traffic advances
// the clock by step per line.
func New(seed uint64, start time.Time, step time.Duration) *Generator {
	if step <= 0 {
		step = time.Second
	}
	return &Generator{f: gofakeit.New(seed), clock: start, step: step}
}

// Benign returns n ordinary requests from a spread of clients.
func (g *Generator) Benign(n int) []Line {
	lines := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, Line{
			Host:      g.f.IPv4Address(),
			Time:      g.clock,
			Method:    g.f.RandomString([]string{"GET", "GET", "GET", "POST", "HEAD"}),
			Path:      g.f.RandomString(benignPaths),
			Protocol:  "HTTP/1.1",
			Status:    g.f.RandomInt([]int{200, 200, 200, 200, 304, 301, 404, 500}),
			Size:      int64(g.f.Number(200, 40000)),
			Referer:   "https://" + g.f.DomainName() + "/",
			UserAgent: g.f.UserAgent(),
			Micros:    int64(g.f.Number(500, 250000)),
			VHost:     "www.example.com",
			Port:      443,
		})
		g.clock = g.clock.Add(g.step)
	}
	return lines
}

// BruteForce returns n failed logins from host, gap apart.
func (g *Generator) BruteForce(host string, n int, start time.Time, gap time.Duration) []Line {
	lines := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, Line{
			Host: host, Time: start.Add(time.Duration(i) * gap),
			Method: "POST", Path: "/login", Protocol: "HTTP/1.1",
			Status: 401, Size: 128, UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
			VHost: "www.example.com", Port: 443,
		})
	}
	return lines
}

// Scan returns n not-found probes from host, each to a distinct path.
func (g *Generator) Scan(host string, n int, start time.Time, gap time.Duration) []Line {
	lines := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		path := probePaths[i%len(probePaths)]
		if i >= len(probePaths) {
			path = fmt.Sprintf("%s.%d", path, i/len(probePaths))
		}
		lines = append(lines, Line{
			Host: host, Time: start.Add(time.Duration(i) * gap),
			Method: "GET", Path: path, Protocol: "HTTP/1.1",
			Status: 404, Size: 196, UserAgent: "Mozilla/5.0 zgrab/0.x",
			VHost: "www.example.com", Port: 443,
		})
	}
	return lines
}

// Flood returns n requests from host to a single path.
func (g *Generator) Flood(host, path string, n int, start time.Time, gap time.Duration) []Line {
	lines := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, Line{
			Host: host, Time: start.Add(time.Duration(i) * gap),
			Method: "GET", Path: path, Protocol: "HTTP/1.1",
			Status: 200, Size: 512, UserAgent: g.f.UserAgent(),
			VHost: "www.example.com", Port: 443,
		})
	}
	return lines
}

// Crawl returns n evenly spaced requests from host using userAgent.
func (g *Generator) Crawl(host, userAgent string, n int, start time.Time, interval time.Duration) []Line {
	lines := make([]Line, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, Line{
			Host: host, Time: start.Add(time.Duration(i) * interval),
			Method: "GET", Path: benignPaths[i%len(benignPaths)], Protocol: "HTTP/1.1",
			Status: 200, Size: 2048, UserAgent: userAgent,
			VHost: "www.example.com", Port: 443,
		})
	}
	return lines
}

// Render formats every line.
func Render(lines []Line, format string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Format(format)
	}
	return out
}

// Entries converts lines into the entries a parser would have produced
// for them, without going through text.
func Entries(lines []Line) []model.LogEntry {
	out := make([]model.LogEntry, len(lines))
	for i, l := range lines {
		e := model.LogEntry{
			RemoteHost:  l.Host,
			RemoteUser:  l.User,
			Timestamp:   l.Time,
			RequestLine: l.Method + " " + l.Path + " " + l.Protocol,
			Method:      l.Method,
			Path:        l.Path,
			Protocol:    l.Protocol,
			StatusCode:  l.Status,
			Referer:     l.Referer,
			UserAgent:   l.UserAgent,
		}
		if l.Size >= 0 {
			size := l.Size
			e.ResponseSize = &size
		}
		out[i] = e
	}
	return out
}
