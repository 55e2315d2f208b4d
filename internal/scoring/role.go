package scoring

import (
	"path"
	"strings"

	"github.com/src-d/enry/v2"

	"github.com/codepatrol/patrol/internal/types"
)

// Role is the structural role a work item plays in its codebase.
type Role string

const (
	RoleEntryPoint Role = "entry_point"
	RoleCore       Role = "core"
	RoleService    Role = "service"
	RoleHandler    Role = "handler"
	RoleModel      Role = "model"
	RoleUtility    Role = "utility"
	RoleTest       Role = "test"
	RoleConfig     Role = "config"
	RoleUnknown    Role = "unknown"
)

var roleScores = map[Role]float64{
	RoleEntryPoint: 9,
	RoleCore:       8,
	RoleService:    7,
	RoleHandler:    6,
	RoleModel:      5,
	RoleUtility:    4,
	RoleTest:       2,
	RoleConfig:     1,
	RoleUnknown:    5,
}

// RoleScore is the role sub-score for an item: entry points outrank core
// logic, which outranks services, handlers, models, utilities, tests, and
// configuration, in that order. Unmatched items take the middle value.
func RoleScore(itemID string, kind types.ItemKind) float64 {
	return roleScores[ClassifyRole(itemID, kind)]
}

// ClassifyRole determines an item's structural role from its identifier.
// Non-file items map onto the closest structural equivalent: workflows are
// core logic, endpoints are handlers.
func ClassifyRole(itemID string, kind types.ItemKind) Role {
	switch kind {
	case types.KindWorkflow:
		return RoleCore
	case types.KindEndpoint:
		return RoleHandler
	}

	lower := strings.ToLower(itemID)
	base := path.Base(lower)

	// Linguist's corpus-derived matchers catch the broad strokes.
	switch {
	case isTestPath(lower):
		return RoleTest
	case enry.IsConfiguration(lower), enry.IsDotFile(lower):
		return RoleConfig
	case enry.IsDocumentation(lower):
		return RoleConfig
	}

	if base == "main.go" || base == "main.py" || base == "index.js" || base == "index.ts" ||
		strings.HasPrefix(lower, "cmd/") {
		return RoleEntryPoint
	}

	for _, pattern := range []struct {
		needle string
		role   Role
	}{
		{"handler", RoleHandler},
		{"controller", RoleHandler},
		{"route", RoleHandler},
		{"endpoint", RoleHandler},
		{"service", RoleService},
		{"client", RoleService},
		{"worker", RoleService},
		{"model", RoleModel},
		{"schema", RoleModel},
		{"store", RoleModel},
		{"repository", RoleModel},
		{"util", RoleUtility},
		{"helper", RoleUtility},
		{"common", RoleUtility},
		{"engine", RoleCore},
		{"core", RoleCore},
	} {
		if strings.Contains(lower, pattern.needle) {
			return pattern.role
		}
	}

	return RoleUnknown
}

// isTestPath matches the common test-file conventions across languages:
// a test/tests/spec directory segment, Go/Python style name affixes, and
// the .test./.spec. infixes used by JS tooling.
func isTestPath(lower string) bool {
	for _, segment := range strings.Split(path.Dir(lower), "/") {
		switch segment {
		case "test", "tests", "testdata", "spec", "specs", "__tests__":
			return true
		}
	}
	base := path.Base(lower)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return strings.HasSuffix(stem, "_test") || strings.HasPrefix(stem, "test_") ||
		strings.HasSuffix(stem, ".test") || strings.HasSuffix(stem, ".spec")
}
