package postgres

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_CompressRoundTrip(t *testing.T) {
	svc, err := NewAuditService(nil)
	require.NoError(t, err)

	small := AuditEntry{Changes: json.RawMessage(`{"is_active":true}`)}
	out := svc.compress(small)
	assert.Equal(t, CompressionNone, out.CompressionAlgo)
	assert.Nil(t, out.ChangesCompressed)

	big := json.RawMessage(`{"notes":"` + string(bytes.Repeat([]byte("x"), 20*1024)) + `"}`)
	packed := svc.compress(AuditEntry{Changes: big})
	assert.Equal(t, CompressionZstd, packed.CompressionAlgo)
	assert.Nil(t, packed.Changes)
	assert.Less(t, len(packed.ChangesCompressed), len(big))

	require.NoError(t, svc.decompress(&packed))
	assert.Equal(t, []byte(big), []byte(packed.Changes))
}
