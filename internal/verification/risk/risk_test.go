package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/internal/verification/models"
)

var (
	berlin  = models.Location{Latitude: 52.52, Longitude: 13.405, Country: "DE"}
	potsdam = models.Location{Latitude: 52.39, Longitude: 13.06, Country: "DE"}
	madrid  = models.Location{Latitude: 40.42, Longitude: -3.70, Country: "ES"}
	sydney  = models.Location{Latitude: -33.87, Longitude: 151.21, Country: "AU"}
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		input    Input
		minScore float64
		maxScore float64
	}{
		{
			name:     "new subject is low risk",
			input:    Input{Fingerprint: "fp1", Location: &berlin},
			maxScore: 0.3,
		},
		{
			name: "returning device near a known location",
			input: Input{
				History:     models.AccessHistory{Devices: []string{"fp1"}, Locations: []models.Location{berlin}},
				Fingerprint: "fp1",
				Location:    &potsdam,
			},
			maxScore: 0.01,
		},
		{
			name: "new device in a distant country",
			input: Input{
				History:     models.AccessHistory{Devices: []string{"fp1"}, Locations: []models.Location{berlin}},
				Fingerprint: "fp2",
				Location:    &sydney,
			},
			minScore: 0.7,
			maxScore: 0.7,
		},
		{
			name: "new device at medium distance",
			input: Input{
				History:     models.AccessHistory{Devices: []string{"fp1"}, Locations: []models.Location{berlin}},
				Fingerprint: "fp2",
				Location:    &madrid,
			},
			minScore: 0.3,
			maxScore: 0.69,
		},
		{
			name: "frequency saturates",
			input: Input{
				History:     models.AccessHistory{Devices: []string{"fp1"}, Locations: []models.Location{berlin}, RecentAttempts: 50},
				Fingerprint: "fp1",
				Location:    &berlin,
			},
			minScore: 0.3,
			maxScore: 0.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, factors := Score(tt.input)
			assert.GreaterOrEqual(t, score, tt.minScore)
			assert.LessOrEqual(t, score, tt.maxScore+1e-9)
			assert.LessOrEqual(t, factors.Frequency, 1.0)
		})
	}
}

func TestRequiredMethods(t *testing.T) {
	assert.Equal(t, []models.Method{models.MethodEmailToken}, RequiredMethods(0.1, 0.3, 0.7))
	assert.Equal(t, []models.Method{models.MethodEmailToken, models.MethodKnowledgeBased}, RequiredMethods(0.3, 0.3, 0.7))
	assert.Contains(t, RequiredMethods(0.7, 0.3, 0.7), models.MethodRiskAssessment)
}

func TestDistanceKM(t *testing.T) {
	assert.InDelta(t, 0, DistanceKM(berlin, berlin), 1e-6)
	assert.InDelta(t, 1870, DistanceKM(berlin, madrid), 50)
}

func TestPrefixLocator(t *testing.T) {
	locator, err := NewPrefixLocator(map[string]models.Location{
		"203.0.113.0/24":   sydney,
		"203.0.113.128/25": madrid,
		"2001:db8::/32":    berlin,
	})
	require.NoError(t, err)

	loc, ok := locator.Locate("203.0.113.200")
	require.True(t, ok)
	assert.Equal(t, "ES", loc.Country, "longest prefix wins")

	loc, ok = locator.Locate("203.0.113.5")
	require.True(t, ok)
	assert.Equal(t, "AU", loc.Country)

	loc, ok = locator.Locate("::ffff:203.0.113.5")
	require.True(t, ok)
	assert.Equal(t, "AU", loc.Country)

	_, ok = locator.Locate("198.51.100.1")
	assert.False(t, ok)
	_, ok = locator.Locate("not-an-ip")
	assert.False(t, ok)

	_, err = NewPrefixLocator(map[string]models.Location{"bogus": berlin})
	assert.Error(t, err)
}
