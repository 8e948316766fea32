// Package risk scores verification attempts from geographic distance, device
// novelty and attempt frequency relative to the subject's history.
package risk

import (
	"fmt"
	"math"
	"net/netip"
	"sort"

	"dsrengine/internal/verification/models"
)

const (
	weightGeo       = 0.4
	weightDevice    = 0.3
	weightFrequency = 0.3

	// A subject with no history is neither trusted nor suspicious.
	neutralFactor = 0.2
	unknownFactor = 0.5

	nearKM = 100.0
	farKM  = 5000.0

	// Initiations within the frequency window at which the factor saturates.
	frequencySaturation = 5
)

// Input is one attempt as seen by the scorer.
type Input struct {
	History     models.AccessHistory
	Fingerprint string
	Location    *models.Location
}

// Score returns the weighted risk in [0, 1] and the individual factors.
func Score(in Input) (float64, models.RiskFactors) {
	f := models.RiskFactors{
		GeoDistance:   geoFactor(in.History.Locations, in.Location),
		DeviceNovelty: deviceFactor(in.History.Devices, in.Fingerprint),
		Frequency:     math.Min(float64(in.History.RecentAttempts)/frequencySaturation, 1),
	}
	score := weightGeo*f.GeoDistance + weightDevice*f.DeviceNovelty + weightFrequency*f.Frequency
	return clamp(score), f
}

// RequiredMethods maps a score to the factors a subject must pass. Scores at or
// above the threshold add RISK_ASSESSMENT, which cannot be self-served.
func RequiredMethods(score, lowRiskCutoff, threshold float64) []models.Method {
	switch {
	case score < lowRiskCutoff:
		return []models.Method{models.MethodEmailToken}
	case score < threshold:
		return []models.Method{models.MethodEmailToken, models.MethodKnowledgeBased}
	default:
		return []models.Method{models.MethodEmailToken, models.MethodKnowledgeBased, models.MethodRiskAssessment}
	}
}

func geoFactor(known []models.Location, current *models.Location) float64 {
	if len(known) == 0 {
		return neutralFactor
	}
	if current == nil {
		return unknownFactor
	}
	nearest := math.Inf(1)
	for _, loc := range known {
		nearest = math.Min(nearest, DistanceKM(loc, *current))
	}
	switch {
	case nearest <= nearKM:
		return 0
	case nearest >= farKM:
		return 1
	}
	return (nearest - nearKM) / (farKM - nearKM)
}

func deviceFactor(known []string, fingerprint string) float64 {
	if fingerprint == "" {
		return unknownFactor
	}
	if len(known) == 0 {
		return neutralFactor
	}
	for _, d := range known {
		if d == fingerprint {
			return 0
		}
	}
	return 1
}

// DistanceKM is the great-circle distance between two locations.
func DistanceKM(a, b models.Location) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// GeoLocator resolves a client IP to a coarse location.
type GeoLocator interface {
	Locate(ip string) (models.Location, bool)
}

type geoEntry struct {
	prefix   netip.Prefix
	location models.Location
}

// PrefixLocator resolves IPs by longest-prefix match over a static table.
type PrefixLocator struct {
	entries []geoEntry
}

// NewPrefixLocator builds a locator from CIDR strings.
func NewPrefixLocator(table map[string]models.Location) (*PrefixLocator, error) {
	entries := make([]geoEntry, 0, len(table))
	for cidr, loc := range table {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("parse geo prefix %q: %w", cidr, err)
		}
		entries = append(entries, geoEntry{prefix: prefix.Masked(), location: loc})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].prefix.Bits() > entries[j].prefix.Bits()
	})
	return &PrefixLocator{entries: entries}, nil
}

func (l *PrefixLocator) Locate(ip string) (models.Location, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return models.Location{}, false
	}
	addr = addr.Unmap()
	for _, e := range l.entries {
		if e.prefix.Contains(addr) {
			return e.location, true
		}
	}
	return models.Location{}, false
}
