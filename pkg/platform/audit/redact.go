package audit

import (
	"strings"

	"dsrengine/pkg/platform/privacy"
)

const redactedValue = "[REDACTED]"

// DefaultRedactKeys lists payload keys whose values never reach the chain.
var DefaultRedactKeys = []string{"password", "token", "answers", "secret", "key", "contact", "email"}

// Redactor strips sensitive values from payloads before they are hashed.
//
// A key is sensitive when it equals a configured name or ends in "_<name>".
// IP addresses are anonymized and subject identifiers are replaced by their hash.
type Redactor struct {
	keys []string
}

func NewRedactor(keys []string) *Redactor {
	if len(keys) == 0 {
		keys = DefaultRedactKeys
	}
	lowered := make([]string, 0, len(keys))
	for _, k := range keys {
		lowered = append(lowered, strings.ToLower(k))
	}
	return &Redactor{keys: lowered}
}

// Redact returns a redacted copy; the input is left untouched.
func (r *Redactor) Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		lk := strings.ToLower(k)
		switch {
		case r.sensitive(lk):
			out[k] = redactedValue
		case lk == "subject_id":
			if s, ok := v.(string); ok {
				out["subject_id_hash"] = privacy.HashIdentifier(s)
				continue
			}
			out[k] = redactedValue
		case lk == "ip" || strings.HasSuffix(lk, "_ip"):
			if s, ok := v.(string); ok {
				out[k] = privacy.AnonymizeIP(s)
				continue
			}
			out[k] = redactedValue
		default:
			out[k] = r.redactValue(v)
		}
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return r.Redact(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.redactValue(item)
		}
		return out
	default:
		return v
	}
}

func (r *Redactor) sensitive(key string) bool {
	for _, k := range r.keys {
		if key == k || strings.HasSuffix(key, "_"+k) {
			return true
		}
	}
	return false
}
