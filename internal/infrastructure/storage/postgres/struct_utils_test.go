package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type auditedRow struct {
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type sampleRow struct {
	auditedRow
	ID     int64   `db:"id"`
	Name   string  `db:"series_name"`
	Prefix *string `db:"prefix"`
	Hidden string  `db:"-"`
	Plain  string
}

func TestExtractDBColumns(t *testing.T) {
	cols := ExtractDBColumns[sampleRow]()
	assert.Equal(t, []string{"created_at", "updated_at", "id", "series_name", "prefix"}, cols)

	assert.Equal(t, cols, ExtractDBColumns[*sampleRow]())
}

func TestStructToMap(t *testing.T) {
	now := time.Date(2025, 10, 14, 0, 0, 0, 0, time.UTC)
	prefix := "OR"
	row := &sampleRow{
		auditedRow: auditedRow{CreatedAt: now, UpdatedAt: now},
		ID:         7,
		Name:       "FY2025",
		Prefix:     &prefix,
		Hidden:     "x",
	}

	m := StructToMap(row, "id", "updated_at")

	assert.Equal(t, map[string]any{
		"created_at":  now,
		"series_name": "FY2025",
		"prefix":      &prefix,
	}, m)
	assert.Nil(t, StructToMap(42))
}
