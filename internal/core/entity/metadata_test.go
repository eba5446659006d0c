package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadata_ScanPreservesIntegers(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan([]byte(`{"jumped_from": 9007199254740993, "jump_reason": "manual entry"}`)))

	assert.Equal(t, int64(9007199254740993), m.GetInt(MetaJumpedFrom))
	assert.Equal(t, "manual entry", m.GetString(MetaJumpReason))
	assert.True(t, m.Has(MetaJumpReason))
	assert.False(t, m.Has(MetaSource))
}

func TestMetadata_ScanNilAndEmpty(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	require.NoError(t, m.Scan([]byte{}))
	assert.Nil(t, m)

	assert.Error(t, m.Scan(42))
}

func TestMetadata_ValueAndSet(t *testing.T) {
	var m Metadata
	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)

	m.Set(MetaPreviousCounter, int64(10))
	v, err = m.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"previous_counter": 10}`, string(v.([]byte)))

	clone := m.Clone()
	clone.Set(MetaSource, "api")
	assert.False(t, m.Has(MetaSource))
}
