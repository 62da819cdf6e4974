// AI provider tier configuration.
//
// DESIGN: The gateway consults one AI provider per request, selected by the
// requested tier (fast / normal / pro). Each tier names an endpoint, model
// and transport (plain chat completions or SSE streaming). Tiers without an
// entry fall back to "normal".
package config

import (
	"fmt"
	"time"
)

// Provider tier names. These are the only values accepted in requests.
const (
	TierFast   = "fast"
	TierNormal = "normal"
	TierPro    = "pro"
)

// ProviderConfig describes one AI provider endpoint.
type ProviderConfig struct {
	Endpoint  string        `yaml:"endpoint"`   // Chat completions URL
	APIKey    string        `yaml:"api_key"`    // Bearer token
	Model     string        `yaml:"model"`      // Model name sent upstream
	Timeout   time.Duration `yaml:"timeout"`    // Per-call timeout (default 5s)
	MaxTokens int           `yaml:"max_tokens"` // Output cap (default 300)
	Streaming bool          `yaml:"streaming"`  // Use the SSE streaming transport
}

// ProvidersConfig maps tier name to provider settings.
type ProvidersConfig map[string]ProviderConfig

// Validate checks tier names and required provider fields.
func (p ProvidersConfig) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("providers: at least one tier is required")
	}
	if _, ok := p[TierNormal]; !ok {
		return fmt.Errorf("providers: tier %q is required (fallback tier)", TierNormal)
	}
	for tier, pc := range p {
		switch tier {
		case TierFast, TierNormal, TierPro:
		default:
			return fmt.Errorf("providers: unknown tier %q (must be fast, normal or pro)", tier)
		}
		if pc.Endpoint == "" {
			return fmt.Errorf("providers.%s.endpoint is required", tier)
		}
		if pc.Model == "" {
			return fmt.Errorf("providers.%s.model is required", tier)
		}
	}
	return nil
}

// Tier returns the provider config for a tier, falling back to "normal"
// when the tier is unknown or not configured.
func (p ProvidersConfig) Tier(name string) ProviderConfig {
	if pc, ok := p[name]; ok {
		return pc
	}
	return p[TierNormal]
}
