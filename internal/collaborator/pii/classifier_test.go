package pii

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	spans, err := New().Classify(context.Background(), []byte("contact ada@example.com or +44 20 7946 0958"))
	require.NoError(t, err)

	kinds := map[string]float64{}
	for _, s := range spans {
		kinds[s.Kind] = s.Confidence
	}
	assert.Contains(t, kinds, "email")
	assert.Contains(t, kinds, "phone")
	assert.Greater(t, kinds["email"], 0.9)

	spans, err = New().Classify(context.Background(), []byte("nothing here"))
	require.NoError(t, err)
	assert.Empty(t, spans)
}
