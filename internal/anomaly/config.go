package anomaly

import (
	"fmt"
	"time"

	"github.com/tinytelemetry/accesslens/internal/model"
)

// Config tunes the anomaly detector.
type Config struct {
	Identifier        string        `mapstructure:"identifier"`
	Bucket            time.Duration `mapstructure:"bucket"`
	MinBaseline       int           `mapstructure:"min-baseline"`
	MinBucketRequests int64         `mapstructure:"min-bucket-requests"`
	MaxPerDimension   int           `mapstructure:"max-per-dimension"`
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		Identifier:        model.ColRemoteHost,
		Bucket:            time.Minute,
		MinBaseline:       8,
		MinBucketRequests: 10,
		MaxPerDimension:   20,
	}
}

// Validate rejects unusable settings.
func (c Config) Validate() error {
	switch {
	case c.Bucket < time.Second:
		return fmt.Errorf("anomaly: bucket %s shorter than a second", c.Bucket)
	case c.MinBaseline < 2:
		return fmt.Errorf("anomaly: min baseline must be at least 2, got %d", c.MinBaseline)
	case c.MaxPerDimension < 1:
		return fmt.Errorf("anomaly: max alerts per dimension must be positive")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Identifier == "" {
		c.Identifier = d.Identifier
	}
	if c.Bucket < time.Second {
		c.Bucket = d.Bucket
	}
	if c.MinBaseline < 2 {
		c.MinBaseline = d.MinBaseline
	}
	if c.MinBucketRequests <= 0 {
		c.MinBucketRequests = d.MinBucketRequests
	}
	if c.MaxPerDimension <= 0 {
		c.MaxPerDimension = d.MaxPerDimension
	}
	return c
}
