package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "dsrengine/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseRequestID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseRequestID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseRequestID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseRequestID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, RequestID(valid), id)
		assert.Equal(t, valid.String(), id.String())
	})
}

func TestParseID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE dsr_requests;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDeletionID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	valid := uuid.New().String()
	for _, input := range []string{"", "invalid", uuid.Nil.String()} {
		t.Run("all reject: "+input, func(t *testing.T) {
			_, errRequest := ParseRequestID(input)
			_, errExport := ParseExportID(input)
			_, errDeletion := ParseDeletionID(input)
			_, errCertificate := ParseCertificateID(input)
			require.Error(t, errRequest)
			require.Error(t, errExport)
			require.Error(t, errDeletion)
			require.Error(t, errCertificate)
		})
	}

	_, errRequest := ParseRequestID(valid)
	_, errExport := ParseExportID(valid)
	_, errDeletion := ParseDeletionID(valid)
	_, errCertificate := ParseCertificateID(valid)
	require.NoError(t, errRequest)
	require.NoError(t, errExport)
	require.NoError(t, errDeletion)
	require.NoError(t, errCertificate)
}

func TestParseSubjectID(t *testing.T) {
	t.Run("trims and accepts opaque identifiers", func(t *testing.T) {
		id, err := ParseSubjectID("  u1 ")
		require.NoError(t, err)
		assert.Equal(t, SubjectID("u1"), id)
	})

	t.Run("rejects blank", func(t *testing.T) {
		_, err := ParseSubjectID("   ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects control characters", func(t *testing.T) {
		_, err := ParseSubjectID("u1\x00admin")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects oversized", func(t *testing.T) {
		_, err := ParseSubjectID(strings.Repeat("x", 300))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestIDsEncodeAsStrings(t *testing.T) {
	id := NewRequestID()
	data, err := json.Marshal(map[string]RequestID{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(data))

	var back map[string]RequestID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back["id"])

	var bad ExportID
	assert.Error(t, bad.UnmarshalText([]byte("nope")))
}
