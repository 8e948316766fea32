package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	prev := GenesisHash
	base := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	for i := 1; i <= n; i++ {
		payload, err := CanonicalPayload(map[string]any{"i": i, "status": "RECEIVED"})
		require.NoError(t, err)
		e := Event{
			Seq:       uint64(i),
			Timestamp: NormalizeTime(base.Add(time.Duration(i) * time.Second)),
			Actor:     "system",
			Action:    string(EventDSRStatusChanged),
			Category:  CategoryCompliance,
			Severity:  SeverityInfo,
			Payload:   payload,
			PrevHash:  prev,
		}
		e.Hash, err = ComputeHash(e)
		require.NoError(t, err)
		prev = e.Hash
		events = append(events, e)
	}
	return events
}

func TestVerifyEvents(t *testing.T) {
	t.Run("intact chain verifies", func(t *testing.T) {
		events := buildChain(t, 5)
		assert.True(t, VerifyEvents(events, 1, GenesisHash).Valid)
		assert.True(t, VerifyEvents(events[2:], 3, events[1].Hash).Valid)
	})

	t.Run("altered payload is detected", func(t *testing.T) {
		events := buildChain(t, 5)
		events[2].Payload["status"] = "COMPLETED"

		v := VerifyEvents(events, 1, GenesisHash)
		assert.False(t, v.Valid)
		assert.Equal(t, uint64(3), v.BrokenAt)
	})

	t.Run("rehashed altered event breaks its successor", func(t *testing.T) {
		events := buildChain(t, 5)
		events[2].Actor = "mallory"
		events[2].Hash, _ = ComputeHash(events[2])

		v := VerifyEvents(events, 1, GenesisHash)
		assert.False(t, v.Valid)
		assert.Equal(t, uint64(4), v.BrokenAt)
	})

	t.Run("removed event is detected", func(t *testing.T) {
		events := buildChain(t, 5)
		events = append(events[:2], events[3:]...)

		v := VerifyEvents(events, 1, GenesisHash)
		assert.False(t, v.Valid)
		assert.Equal(t, "sequence gap", v.Reason)
	})
}

func TestComputeHash_StableAcrossStorageRoundTrip(t *testing.T) {
	e := buildChain(t, 1)[0]

	raw, err := json.Marshal(e.Payload)
	require.NoError(t, err)
	decoded, err := DecodePayload(raw)
	require.NoError(t, err)

	e2 := e
	e2.Payload = decoded
	e2.Timestamp = e.Timestamp.In(time.FixedZone("x", 3600))
	h, err := ComputeHash(e2)
	require.NoError(t, err)
	assert.Equal(t, e.Hash, h)
}
