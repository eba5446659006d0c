package postgres

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMigrations(t *testing.T) string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("..", "..", "..", "..", "db", "migrations", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	var b strings.Builder
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		b.Write(data)
	}
	return b.String()
}

func TestMigrations_DeclareMappedConstraints(t *testing.T) {
	sql := readMigrations(t)
	for _, name := range []string{
		ConstraintOrNumber,
		ConstraintSeriesActual,
		ConstraintSeriesName,
		ConstraintSingleActive,
		ConstraintSeriesCounter,
	} {
		assert.Contains(t, sql, name)
	}
}

func TestMigrations_GenerationIndexes(t *testing.T) {
	sql := readMigrations(t)
	assert.Contains(t, sql, "CREATE INDEX idx_or_number_generations_status ON or_number_generations (status")
	assert.Contains(t, sql, "CREATE INDEX idx_or_number_generations_stale")
}
