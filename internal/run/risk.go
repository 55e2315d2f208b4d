package run

import (
	"path"
	"strings"

	"github.com/codepatrol/patrol/internal/config"
	"github.com/codepatrol/patrol/internal/types"
)

// PatternRiskProvider answers risk lookups from configured glob overrides.
// First match wins; no match means no signal and the scorer falls back to
// TierMedium.
type PatternRiskProvider struct {
	overrides []config.RiskOverride
}

// NewRiskProvider builds a provider from config overrides.
func NewRiskProvider(overrides []config.RiskOverride) *PatternRiskProvider {
	return &PatternRiskProvider{overrides: overrides}
}

// RiskOf implements scoring.RiskProvider.
func (p *PatternRiskProvider) RiskOf(itemID string) (types.RiskTier, bool) {
	for _, o := range p.overrides {
		if matchPattern(o.Pattern, itemID) {
			return o.Tier, true
		}
	}
	return "", false
}

// matchPattern supports exact ids, path.Match globs, and the common
// "dir/**" prefix form.
func matchPattern(pattern, id string) bool {
	if pattern == id {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return id == prefix || strings.HasPrefix(id, prefix+"/")
	}
	ok, err := path.Match(pattern, id)
	return err == nil && ok
}
