package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. RELAYBOT_TELEGRAM_TOKEN.
const EnvPrefix = "RELAYBOT_"

// defaultAnthropicBase is the transcription endpoint used when nothing else is
// configured.
const defaultAnthropicBase = "https://api.anthropic.com"

// ApplyEnv overrides cfg from RELAYBOT_* variables. ANTHROPIC_API_KEY and
// ANTHROPIC_BASE_URL fill the transcription endpoint when it was left unset.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment overrides: %w", err)
	}

	tr := &cfg.Transcription
	if tr.APIKey == "" {
		tr.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if _, set := os.LookupEnv(EnvPrefix + "TRANSCRIPTION_API_BASE"); !set && tr.APIBase == defaultAnthropicBase+"/v1" {
		if base := strings.TrimRight(os.Getenv("ANTHROPIC_BASE_URL"), "/"); base != "" {
			tr.APIBase = base + "/v1"
		}
	}
	return nil
}
