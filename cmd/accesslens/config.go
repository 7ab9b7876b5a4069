package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/accesslens/internal/abuse"
	"github.com/tinytelemetry/accesslens/internal/anomaly"
	"github.com/tinytelemetry/accesslens/internal/model"
	"github.com/tinytelemetry/accesslens/internal/pipeline"
)

const (
	defaultBindHost = "127.0.0.1"
	defaultAPIPort  = 8080

	engineCLI      = "cli"
	engineEmbedded = "embedded"
)

// appConfig is internal runtime configuration.
type appConfig struct {
	Format        string         `mapstructure:"format"`
	TopK          int            `mapstructure:"top-k"`
	HistogramBins int            `mapstructure:"histogram-bins"`
	Signatures    string         `mapstructure:"signatures"`
	Engine        engineConfig   `mapstructure:"engine"`
	API           apiConfig      `mapstructure:"api"`
	Log           logConfig      `mapstructure:"log"`
	Abuse         abuse.Config   `mapstructure:"abuse"`
	Anomaly       anomaly.Config `mapstructure:"anomaly"`
	ConfigPath    string         `mapstructure:"-"` // not from config file
}

type engineConfig struct {
	Mode         string        `mapstructure:"mode"`
	Binary       string        `mapstructure:"binary"`
	QueryTimeout time.Duration `mapstructure:"query-timeout"`
	DBPath       string        `mapstructure:"db-path"`
}

type apiConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Addr string `mapstructure:"addr"`
}

type logConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	ab := abuse.DefaultConfig()
	an := anomaly.DefaultConfig()

	v.SetDefault("format", model.DefaultFormat)
	v.SetDefault("top-k", model.DefaultTopK)
	v.SetDefault("histogram-bins", 20)
	v.SetDefault("signatures", "")

	v.SetDefault("engine.mode", engineCLI)
	v.SetDefault("engine.binary", model.DefaultEngineBinary)
	v.SetDefault("engine.query-timeout", model.DefaultQueryTimeout)
	v.SetDefault("engine.db-path", "")

	v.SetDefault("api.host", defaultBindHost)
	v.SetDefault("api.port", defaultAPIPort)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("abuse.identifier", ab.Identifier)
	v.SetDefault("abuse.min-confidence", ab.MinConfidence)
	v.SetDefault("abuse.brute-force.failed-statuses", ab.BruteForce.FailedStatuses)
	v.SetDefault("abuse.brute-force.min-failures", ab.BruteForce.MinFailures)
	v.SetDefault("abuse.brute-force.min-failure-rate", ab.BruteForce.MinFailureRate)
	v.SetDefault("abuse.brute-force.span", ab.BruteForce.Span)
	v.SetDefault("abuse.ddos.min-requests", ab.DDoS.MinRequests)
	v.SetDefault("abuse.ddos.max-distinct-paths", ab.DDoS.MaxDistinctPaths)
	v.SetDefault("abuse.scanning.min-not-found", ab.Scanning.MinNotFound)
	v.SetDefault("abuse.scanning.min-not-found-rate", ab.Scanning.MinNotFoundRate)
	v.SetDefault("abuse.scanning.min-path-diversity", ab.Scanning.MinPathDiversity)
	v.SetDefault("abuse.bot.tokens", ab.Bot.Tokens)
	v.SetDefault("abuse.bot.min-requests", ab.Bot.MinRequests)
	v.SetDefault("abuse.bot.max-gap-cv", ab.Bot.MaxGapCV)

	v.SetDefault("anomaly.identifier", "")
	v.SetDefault("anomaly.bucket", an.Bucket)
	v.SetDefault("anomaly.min-baseline", an.MinBaseline)
	v.SetDefault("anomaly.min-bucket-requests", an.MinBucketRequests)
	v.SetDefault("anomaly.max-per-dimension", an.MaxPerDimension)
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"format":        "format",
	"engine":        "engine.mode",
	"duckdb":        "engine.binary",
	"query-timeout": "engine.query-timeout",
	"db-path":       "engine.db-path",
	"addr":          "api.addr",
	"port":          "api.port",
	"log-level":     "log.level",
	"dev":           "log.development",
	"signatures":    "signatures",
	"identifier":    "abuse.identifier",
}

func loadConfig(configPath string, flags *pflag.FlagSet) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ACCESSLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return cfg, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "accesslens", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if configPath != "" || (!errors.As(err, &configFileNotFound) && !errors.Is(err, fs.ErrNotExist)) {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return cfg, fmt.Errorf("invalid api.port: %d", cfg.API.Port)
	}
	if cfg.Engine.Mode != engineCLI && cfg.Engine.Mode != engineEmbedded {
		return cfg, fmt.Errorf("invalid engine.mode %q: want %s or %s", cfg.Engine.Mode, engineCLI, engineEmbedded)
	}
	if cfg.Engine.QueryTimeout <= 0 {
		return cfg, fmt.Errorf("invalid engine.query-timeout: %s", cfg.Engine.QueryTimeout)
	}
	if strings.HasPrefix(cfg.Engine.DBPath, "~/") {
		cfg.Engine.DBPath = filepath.Join(home, cfg.Engine.DBPath[2:])
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	}

	if cfg.Signatures != "" {
		sig, err := abuse.LoadSignatures(cfg.Signatures)
		if err != nil {
			return cfg, err
		}
		cfg.Abuse = sig.Apply(cfg.Abuse)
	}
	if err := cfg.pipeline().Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// pipeline returns the pipeline settings carried by cfg.
func (c appConfig) pipeline() pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.Format = c.Format
	pc.TopK = c.TopK
	pc.HistogramBins = c.HistogramBins
	pc.Abuse = c.Abuse
	pc.Anomaly = c.Anomaly
	if pc.Anomaly.Identifier == "" {
		pc.Anomaly.Identifier = pc.Abuse.Identifier
	}
	return pc
}
