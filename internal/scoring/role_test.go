package scoring

import (
	"testing"

	"github.com/codepatrol/patrol/internal/types"
)

func TestClassifyRole(t *testing.T) {
	cases := []struct {
		id   string
		kind types.ItemKind
		want Role
	}{
		{"cmd/patrol/main.go", types.KindFile, RoleEntryPoint},
		{"internal/state/store_test.go", types.KindFile, RoleTest},
		{"tests/integration.py", types.KindFile, RoleTest},
		{"src/__tests__/app.js", types.KindFile, RoleTest},
		{"src/app.spec.ts", types.KindFile, RoleTest},
		{"pkg/util/test_helpers.py", types.KindFile, RoleTest},
		{"config.yaml", types.KindFile, RoleConfig},
		{"README.md", types.KindFile, RoleConfig},
		{"internal/api/handler.go", types.KindFile, RoleHandler},
		{"internal/billing/service.go", types.KindFile, RoleService},
		{"internal/db/store.go", types.KindFile, RoleModel},
		{"pkg/strutil/strings.go", types.KindFile, RoleUtility},
		{"foo/bar.go", types.KindFile, RoleUnknown},
		{"deploy-pipeline", types.KindWorkflow, RoleCore},
		{"GET /v1/users", types.KindEndpoint, RoleHandler},
	}
	for _, tc := range cases {
		if got := ClassifyRole(tc.id, tc.kind); got != tc.want {
			t.Errorf("ClassifyRole(%q, %s) = %s, want %s", tc.id, tc.kind, got, tc.want)
		}
	}
}

func TestRoleScoreOrdering(t *testing.T) {
	// Entry points must outrank everything; tests and config sit at the
	// bottom of the role scale.
	if RoleScore("cmd/app/main.go", types.KindFile) <= RoleScore("internal/core/engine.go", types.KindFile) {
		t.Error("entry point must outrank core")
	}
	if RoleScore("a/b_test.go", types.KindFile) <= RoleScore("config.toml", types.KindFile) {
		t.Error("test must outrank config")
	}
}
