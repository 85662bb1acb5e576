package analyzer

import (
	"errors"
	"math"
	"slices"
)

// RateStats describes the distribution of per-period request rates
type RateStats struct {
	Average float64
	P95     float64
	Peak    float64
	Min     float64
}

// Traffic pattern names
const (
	PatternUnknown        = "unknown"
	PatternIdle           = "idle"
	PatternSteady         = "steady"
	PatternModerate       = "moderate"
	PatternSpiky          = "spiky"
	PatternHighlyVariable = "highly-variable"
)

// minPatternSamples is the fewest periods a pattern is classified from
const minPatternSamples = 10

// TrafficPattern is how variable request traffic was over a window
type TrafficPattern struct {
	Type       string
	Variation  float64 // coefficient of variation
	Confidence float64
}

// CalculateRateStats summarizes rates without reordering them
func CalculateRateStats(rates []float64) (*RateStats, error) {
	if len(rates) == 0 {
		return nil, errors.New("no rates provided")
	}

	sorted := slices.Clone(rates)
	slices.Sort(sorted)

	return &RateStats{
		Average: mean(sorted),
		P95:     percentile(sorted, 95),
		Peak:    sorted[len(sorted)-1],
		Min:     sorted[0],
	}, nil
}

// percentile interpolates linearly between the closest ranks of sorted
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo, hi := int(math.Floor(rank)), int(math.Ceil(rank))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// CoefficientOfVariation is the population standard deviation over the mean.
// It is zero for fewer than two values or a zero mean.
func CoefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if len(values) < 2 || m == 0 {
		return 0
	}
	var squares float64
	for _, v := range values {
		squares += (v - m) * (v - m)
	}
	return math.Sqrt(squares/float64(len(values))) / m
}

// AnalyzeTrafficPattern classifies rates as idle, steady, moderate, spiky or
// highly variable
func AnalyzeTrafficPattern(rates []float64) TrafficPattern {
	if len(rates) < minPatternSamples {
		return TrafficPattern{Type: PatternUnknown}
	}
	if mean(rates) == 0 {
		return TrafficPattern{Type: PatternIdle, Confidence: 1}
	}

	cv := CoefficientOfVariation(rates)
	p := TrafficPattern{Variation: cv}
	switch {
	case cv < 0.15:
		p.Type, p.Confidence = PatternSteady, 0.95
	case cv < 0.35:
		p.Type, p.Confidence = PatternModerate, 0.85
	case cv < 0.70:
		p.Type, p.Confidence = PatternSpiky, 0.80
	default:
		p.Type, p.Confidence = PatternHighlyVariable, 0.75
	}
	return p
}
