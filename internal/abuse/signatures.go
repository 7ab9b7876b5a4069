package abuse

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Signatures overrides the built-in bot tokens and failed-auth statuses.
//
//	bot_tokens: [bot, curl, python-requests]
//	failed_auth_statuses: [401, 403, 407]
type Signatures struct {
	BotTokens          []string `yaml:"bot_tokens"`
	FailedAuthStatuses []int    `yaml:"failed_auth_statuses"`
}

// LoadSignatures reads a YAML signature file.
func LoadSignatures(path string) (Signatures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signatures{}, fmt.Errorf("reading signatures: %w", err)
	}
	var sig Signatures
	if err := yaml.Unmarshal(data, &sig); err != nil {
		return Signatures{}, fmt.Errorf("parsing signatures %s: %w", path, err)
	}
	for _, code := range sig.FailedAuthStatuses {
		if code < 100 || code > 599 {
			return Signatures{}, fmt.Errorf("signatures %s: invalid status code %d", path, code)
		}
	}
	return sig, nil
}

// Apply returns cfg with every non-empty signature list substituted.
func (s Signatures) Apply(cfg Config) Config {
	if len(s.BotTokens) > 0 {
		cfg.Bot.Tokens = append([]string(nil), s.BotTokens...)
	}
	if len(s.FailedAuthStatuses) > 0 {
		cfg.BruteForce.FailedStatuses = append([]int(nil), s.FailedAuthStatuses...)
	}
	return cfg
}
