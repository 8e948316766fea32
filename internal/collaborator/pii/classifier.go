// Package pii is a pattern-based PII classifier. Detection quality is owned by
// the classification collaborator; this one covers local runs.
package pii

import (
	"context"
	"regexp"

	"dsrengine/internal/collaborator"
)

type pattern struct {
	kind       string
	re         *regexp.Regexp
	confidence float64
}

var patterns = []pattern{
	{kind: "email", re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), confidence: 0.97},
	{kind: "iban", re: regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`), confidence: 0.92},
	{kind: "phone", re: regexp.MustCompile(`\+?\d[\d \-]{7,}\d`), confidence: 0.75},
}

// Classifier finds common identifiers with regular expressions.
type Classifier struct{}

func New() *Classifier { return &Classifier{} }

func (c *Classifier) Classify(_ context.Context, content []byte) ([]collaborator.Span, error) {
	var spans []collaborator.Span
	for _, p := range patterns {
		for _, loc := range p.re.FindAllIndex(content, -1) {
			spans = append(spans, collaborator.Span{Kind: p.kind, Start: loc[0], End: loc[1], Confidence: p.confidence})
		}
	}
	return spans, nil
}
