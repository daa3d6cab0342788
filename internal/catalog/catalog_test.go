package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Len(t, c.Modules, 3)

	plan, err := c.Plan("professional")
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "hr"}, plan.Modules)

	_, err = c.Plan("platinum")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestModulesFor(t *testing.T) {
	c := Default()
	assert.Equal(t, []string{"core", "hr", "inventory"}, c.ModulesFor("enterprise"))
	assert.Equal(t, DefaultModules, c.ModulesFor(""))
	assert.Equal(t, DefaultModules, c.ModulesFor("unknown"))

	// callers may not mutate the catalog through the returned slice
	modules := c.ModulesFor("basic")
	modules[0] = "changed"
	assert.Equal(t, []string{"core"}, c.ModulesFor("basic"))
}

func TestFlatten(t *testing.T) {
	c := Default()
	entries := c.Flatten([]string{"hr"})

	byCode := make(map[string]Entry)
	for _, e := range entries {
		byCode[e.Code] = e
	}

	require.Contains(t, byCode, "core")
	require.Contains(t, byCode, "hr.leave.requests.approve")
	assert.NotContains(t, byCode, "inventory")

	approve := byCode["hr.leave.requests.approve"]
	assert.Equal(t, KindAction, approve.Kind)
	assert.Equal(t, "hr.leave.requests", approve.ParentCode)
	assert.Equal(t, KindSubmodule, byCode["hr.leave"].Kind)
	assert.Equal(t, KindModule, byCode["hr"].Kind)
	assert.Equal(t, "", byCode["hr"].ParentCode)

	// parents come before their children
	index := make(map[string]int)
	for i, e := range entries {
		index[e.Code] = i
	}
	for _, e := range entries {
		if e.ParentCode != "" {
			assert.Less(t, index[e.ParentCode], index[e.Code], e.Code)
		}
	}
}

func TestLoadRejectsInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown plan module", "modules:\n  - code: core\n    name: Core\nplans:\n  - code: basic\n    modules: [core, billing]\n"},
		{"duplicate code", "modules:\n  - code: core\n    name: Core\n  - code: core\n    name: Again\n"},
		{"dotted code", "modules:\n  - code: core.x\n    name: Core\n"},
		{"too deep", "modules:\n  - code: a\n    children:\n      - code: b\n        children:\n          - code: c\n            children:\n              - code: d\n                children:\n                  - code: e\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}
