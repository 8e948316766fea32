package service

import (
	"crypto/sha256"
	"crypto/subtle"

	pstrings "dsrengine/pkg/platform/strings"
)

// MatchRatio is the share of known facts the answers reproduce after
// normalization. Comparisons run on digests in constant time so answer length
// and prefix are not observable.
func MatchRatio(facts, answers map[string]string) float64 {
	if len(facts) == 0 {
		return 0
	}
	matched := 0
	for question, expected := range facts {
		want := pstrings.NormalizeAnswer(expected)
		given, ok := answers[question]
		if !ok || want == "" {
			continue
		}
		a := sha256.Sum256([]byte(want))
		b := sha256.Sum256([]byte(pstrings.NormalizeAnswer(given)))
		if subtle.ConstantTimeCompare(a[:], b[:]) == 1 {
			matched++
		}
	}
	return float64(matched) / float64(len(facts))
}
