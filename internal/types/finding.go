package types

import "fmt"

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Rank orders severities for comparison; lower is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	}
	return 5
}

// FindingCategory is an ordered enum replacing the older string-prefix
// priority hierarchy. The numeric value is internal; dedup precedence comes
// from the aggregator's configured hierarchy, not from this ordering.
type FindingCategory int

const (
	CategoryUnknown FindingCategory = iota
	CategorySecurity
	CategoryCorrectness
	CategoryPerformance
	CategoryMaintainability
	CategoryStyle
	CategoryDocs
)

var categoryNames = map[FindingCategory]string{
	CategoryUnknown:         "unknown",
	CategorySecurity:        "security",
	CategoryCorrectness:     "correctness",
	CategoryPerformance:     "performance",
	CategoryMaintainability: "maintainability",
	CategoryStyle:           "style",
	CategoryDocs:            "docs",
}

func (c FindingCategory) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler so categories persist as
// names rather than integers.
func (c FindingCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *FindingCategory) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory converts a category name to the enum. Unlike the legacy
// prefix matching it only accepts exact names; workers that emit prefixed
// identifiers (e.g. "security/injection") keep the suffix as finding detail.
func ParseCategory(name string) (FindingCategory, error) {
	for cat, n := range categoryNames {
		if n == name {
			return cat, nil
		}
	}
	return CategoryUnknown, fmt.Errorf("unknown finding category: %q", name)
}

// Finding is one result tuple emitted by a worker. Findings are ephemeral
// aggregator input; only the deduplicated set is persisted into item
// summaries.
type Finding struct {
	ItemID     string          `json:"item_id"`
	Severity   Severity        `json:"severity"`
	Category   FindingCategory `json:"category"`
	Line       int             `json:"line,omitempty"`
	Message    string          `json:"message"`
	Evidence   string          `json:"evidence,omitempty"`
	WorkerID   string          `json:"worker_id"`
	Wave       int             `json:"wave"`
	Confidence float64         `json:"confidence"`

	// CrossRefs preserves findings this one outranked during dedup.
	CrossRefs []CrossRef `json:"cross_refs,omitempty"`
}

// Validate checks if the finding has valid field values
func (f *Finding) Validate() error {
	if f.ItemID == "" {
		return fmt.Errorf("item_id is required")
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", f.Severity)
	}
	if f.Message == "" {
		return fmt.Errorf("message is required")
	}
	if f.Confidence < 0.0 || f.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", f.Confidence)
	}
	if f.Line < 0 {
		return fmt.Errorf("line cannot be negative (got %d)", f.Line)
	}
	return nil
}

// CrossRef records a finding that lost a dedup comparison. The loser's
// confidence is preserved rather than discarded.
type CrossRef struct {
	Category   FindingCategory `json:"category"`
	WorkerID   string          `json:"worker_id"`
	Confidence float64         `json:"confidence"`
	Message    string          `json:"message,omitempty"`
}
