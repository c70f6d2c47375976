package hints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hints.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingPathReturnsEmpty(t *testing.T) {
	assert.Empty(t, Load(""))
}

func TestLoad_NonexistentFileReturnsEmpty(t *testing.T) {
	assert.Empty(t, Load("/no/such/file.yml"))
}

func TestLoad_MalformedYAMLReturnsEmpty(t *testing.T) {
	path := writeTemp(t, "not: [valid: yaml")
	assert.Empty(t, Load(path))
}

func TestLoad_NonMappingRootReturnsEmpty(t *testing.T) {
	path := writeTemp(t, "- just\n- a\n- list\n")
	assert.Empty(t, Load(path))
}

func TestLoad_PlannerKnobsAndRenames(t *testing.T) {
	path := writeTemp(t, `
renames:
  orders.total_price: orders.amount
unsafe_allow:
  - "drop_column: users.name"
planner:
  default_backfill_batch_rows: 1000
  use_fast_not_null: true
`)
	h := Load(path)

	assert.Equal(t, "orders.amount", h.StringMap("renames")["orders.total_price"])
	assert.Equal(t, []string{"drop_column: users.name"}, h.StringSlice("unsafe_allow"))

	planner := h.Sub("planner")
	assert.Equal(t, 1000, planner.Int("default_backfill_batch_rows", 5000))
	assert.True(t, planner.Bool("use_fast_not_null"))
}

func TestLoad_DerivesPgMajor(t *testing.T) {
	path := writeTemp(t, `
dialect:
  postgres:
    target_version: "15.4"
`)
	h := Load(path)
	assert.Equal(t, 15, h.Sub("_derived").Int("pg_major", -1))
}

func TestAccessors_ToleratesWrongShapes(t *testing.T) {
	h := Hints{
		"renames":      "not-a-map",
		"unsafe_allow": "not-a-list",
		"planner":      []any{"not", "a", "map"},
	}
	assert.Nil(t, h.StringMap("renames"))
	assert.Nil(t, h.StringSlice("unsafe_allow"))
	assert.Empty(t, h.Sub("planner"))
	assert.Equal(t, 7, h.Sub("planner").Int("default_backfill_batch_rows", 7))
}
