// Package entity provides value types shared by domain entities.
package entity

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
)

// Well-known metadata keys written by the allocator.
const (
	MetaJumpedFrom       = "jumped_from"
	MetaSkippedNumbers   = "skipped_numbers"
	MetaJumpReason       = "jump_reason"
	MetaPreviousCounter  = "previous_counter"
	MetaConflictOrNumber = "conflict_or_number"
	MetaSource           = "source"
	MetaCancelledAt      = "cancelled_at"
	MetaCancelledBy      = "cancelled_by"
	MetaCancelReason     = "cancel_reason"
	MetaExpiredAt        = "expired_at"
	MetaExpireReason     = "expire_reason"
)

// Metadata is a free-form JSONB blob attached to generation records.
// Its keys vary by generation method, so it stays loosely typed.
//
// Scan uses json.Number so counters round-trip without float rounding.
type Metadata map[string]any

// Scan implements sql.Scanner for reading from PostgreSQL JSONB.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}

	var source []byte
	switch v := src.(type) {
	case []byte:
		source = v
	case string:
		source = []byte(v)
	default:
		return fmt.Errorf("unsupported type for Metadata: %T", src)
	}

	if len(source) == 0 {
		*m = nil
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(source))
	decoder.UseNumber()

	var result map[string]any
	if err := decoder.Decode(&result); err != nil {
		return fmt.Errorf("failed to decode Metadata: %w", err)
	}

	*m = result
	return nil
}

// Value implements driver.Valuer for writing to PostgreSQL JSONB.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// GetString returns string value or empty string if not found/wrong type.
func (m Metadata) GetString(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// GetInt returns int64 value, handling json.Number correctly.
func (m Metadata) GetInt(key string) int64 {
	switch v := m[key].(type) {
	case json.Number:
		i, _ := v.Int64()
		return i
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Has checks if key exists (including nil values).
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Set adds or updates a value. Returns self for chaining.
func (m *Metadata) Set(key string, value any) Metadata {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
	return *m
}

// Clone creates a shallow copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
