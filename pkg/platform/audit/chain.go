package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash anchors the first event of the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

type hashedBody struct {
	Seq       uint64         `json:"seq"`
	Timestamp string         `json:"ts"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Category  EventCategory  `json:"category"`
	Severity  Severity       `json:"severity"`
	RequestID string         `json:"request_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// NormalizeTime truncates to the precision every store can hold.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ComputeHash returns hex(SHA-256(canonical(event) || prevHash)).
// encoding/json writes map keys sorted, which makes the body canonical.
func ComputeHash(e Event) (string, error) {
	body, err := json.Marshal(hashedBody{
		Seq:       e.Seq,
		Timestamp: NormalizeTime(e.Timestamp).Format(time.RFC3339Nano),
		Actor:     e.Actor,
		Action:    e.Action,
		Category:  e.Category,
		Severity:  e.Severity,
		RequestID: e.RequestID,
		Payload:   e.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("encode audit event: %w", err)
	}
	h := sha256.New()
	h.Write(body)
	h.Write([]byte(e.PrevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalPayload round-trips a payload through JSON so the in-memory value
// hashes identically to what a store reads back later.
func CanonicalPayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return DecodePayload(raw)
}

// DecodePayload parses stored payload bytes, keeping numbers as json.Number.
func DecodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

// Verification is the outcome of checking a contiguous run of events.
type Verification struct {
	Valid bool
	// BrokenAt is the first sequence number that failed, zero when Valid.
	BrokenAt uint64
	Reason   string
}

// VerifyEvents checks that events form an unbroken chain starting at from and
// linked to anchor (the hash of event from-1, or GenesisHash when from is 1).
func VerifyEvents(events []Event, from uint64, anchor string) Verification {
	prev := anchor
	for i, e := range events {
		want := from + uint64(i)
		if e.Seq != want {
			return Verification{BrokenAt: want, Reason: "sequence gap"}
		}
		if e.PrevHash != prev {
			return Verification{BrokenAt: e.Seq, Reason: "previous hash mismatch"}
		}
		got, err := ComputeHash(e)
		if err != nil || got != e.Hash {
			return Verification{BrokenAt: e.Seq, Reason: "hash mismatch"}
		}
		prev = e.Hash
	}
	return Verification{Valid: true}
}
