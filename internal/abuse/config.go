package abuse

import (
	"fmt"
	"time"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// Config holds the thresholds of every detector.
type Config struct {
	Identifier    string           `mapstructure:"identifier" yaml:"identifier"`
	MinConfidence float64          `mapstructure:"min-confidence" yaml:"min_confidence"`
	BruteForce    BruteForceConfig `mapstructure:"brute-force" yaml:"brute_force"`
	DDoS          DDoSConfig       `mapstructure:"ddos" yaml:"ddos"`
	Scanning      ScanningConfig   `mapstructure:"scanning" yaml:"scanning"`
	Bot           BotConfig        `mapstructure:"bot" yaml:"bot"`
}

// BruteForceConfig flags identifiers with many failed-auth responses in one
// time bucket.
type BruteForceConfig struct {
	FailedStatuses []int         `mapstructure:"failed-statuses" yaml:"failed_statuses"`
	MinFailures    int64         `mapstructure:"min-failures" yaml:"min_failures"`
	MinFailureRate float64       `mapstructure:"min-failure-rate" yaml:"min_failure_rate"`
	Span           time.Duration `mapstructure:"span" yaml:"span"`
}

// DDoSConfig flags high volume aimed at few paths.
type DDoSConfig struct {
	MinRequests      int64 `mapstructure:"min-requests" yaml:"min_requests"`
	MaxDistinctPaths int64 `mapstructure:"max-distinct-paths" yaml:"max_distinct_paths"`
}

// ScanningConfig flags many not-found responses spread over many paths.
type ScanningConfig struct {
	MinNotFound      int64   `mapstructure:"min-not-found" yaml:"min_not_found"`
	MinNotFoundRate  float64 `mapstructure:"min-not-found-rate" yaml:"min_not_found_rate"`
	MinPathDiversity float64 `mapstructure:"min-path-diversity" yaml:"min_path_diversity"`
}

// BotConfig flags automated agents with regular request timing.
type BotConfig struct {
	Tokens      []string `mapstructure:"tokens" yaml:"tokens"`
	MinRequests int64    `mapstructure:"min-requests" yaml:"min_requests"`
	MaxGapCV    float64  `mapstructure:"max-gap-cv" yaml:"max_gap_cv"`
}

// DefaultBotTokens are user-agent substrings of common automated clients.
var DefaultBotTokens = []string{
	"bot", "crawler", "spider", "scraper", "python", "curl", "wget",
	"automation", "headless", "phantom", "selenium",
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Identifier:    model.ColRemoteHost,
		MinConfidence: 0.3,
		BruteForce: BruteForceConfig{
			FailedStatuses: []int{401, 403},
			MinFailures:    50,
			MinFailureRate: 0.8,
			Span:           time.Hour,
		},
		DDoS: DDoSConfig{
			MinRequests:      1000,
			MaxDistinctPaths: 5,
		},
		Scanning: ScanningConfig{
			MinNotFound:      20,
			MinNotFoundRate:  0.5,
			MinPathDiversity: 0.8,
		},
		Bot: BotConfig{
			Tokens:      append([]string(nil), DefaultBotTokens...),
			MinRequests: 10,
			MaxGapCV:    0.5,
		},
	}
}

// Validate rejects thresholds that would make a detector meaningless.
func (c Config) Validate() error {
	switch {
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("abuse: min confidence %v outside [0,1]", c.MinConfidence)
	case c.BruteForce.MinFailures < 1:
		return fmt.Errorf("abuse: brute force min failures must be positive")
	case c.BruteForce.MinFailureRate < 0 || c.BruteForce.MinFailureRate > 1:
		return fmt.Errorf("abuse: brute force failure rate %v outside [0,1]", c.BruteForce.MinFailureRate)
	case c.BruteForce.Span < time.Second:
		return fmt.Errorf("abuse: brute force span %s shorter than a second", c.BruteForce.Span)
	case c.DDoS.MinRequests < 1 || c.DDoS.MaxDistinctPaths < 0:
		return fmt.Errorf("abuse: invalid ddos thresholds")
	case c.Scanning.MinNotFound < 1:
		return fmt.Errorf("abuse: scanning min not found must be positive")
	case c.Scanning.MinNotFoundRate < 0 || c.Scanning.MinNotFoundRate > 1 ||
		c.Scanning.MinPathDiversity < 0 || c.Scanning.MinPathDiversity > 1:
		return fmt.Errorf("abuse: scanning rates must be within [0,1]")
	case c.Bot.MinRequests < 2 || c.Bot.MaxGapCV < 0:
		return fmt.Errorf("abuse: bot detection needs at least two requests and a non-negative gap cv")
	}
	return nil
}

func (c Config) identifier() string {
	if c.Identifier == "" {
		return model.ColRemoteHost
	}
	return c.Identifier
}
