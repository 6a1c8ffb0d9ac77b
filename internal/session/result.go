package session

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/nandivision/internal/breeds"
	"github.com/example/nandivision/internal/classifier"
)

// CattleType is the first-stage classification.
type CattleType string

const (
	TypeCow     CattleType = "cow"
	TypeBuffalo CattleType = "buffalo"
	TypeNone    CattleType = "none"
)

// ErrInvalidPrediction marks a success body that breaks the result invariants.
var ErrInvalidPrediction = errors.New("invalid classification response")

// BreedPrediction is the optional second-stage classification. Label and
// confidence are present together or not at all.
type BreedPrediction struct {
	Label      string
	Confidence float64
}

// Result is an interpreted classification. It is never mutated after
// parsing.
type Result struct {
	Type           CattleType
	TypeConfidence float64
	Breed          *BreedPrediction
}

// ParseResult checks a decoded prediction against the result invariants.
func ParseResult(p *classifier.Prediction) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPrediction)
	}

	cattle := CattleType(p.Type)
	switch cattle {
	case TypeCow, TypeBuffalo, TypeNone:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPrediction, p.Type)
	}
	if p.TypeConfidence == nil {
		return nil, fmt.Errorf("%w: missing type_confidence", ErrInvalidPrediction)
	}
	if !isConfidence(*p.TypeConfidence) {
		return nil, fmt.Errorf("%w: type_confidence %v outside [0,1]", ErrInvalidPrediction, *p.TypeConfidence)
	}

	result := &Result{Type: cattle, TypeConfidence: *p.TypeConfidence}
	if p.Breed == nil && p.BreedConfidence == nil {
		return result, nil
	}
	if p.Breed == nil || p.BreedConfidence == nil {
		return nil, fmt.Errorf("%w: breed and breed_confidence must be sent together", ErrInvalidPrediction)
	}
	if cattle == TypeNone {
		return nil, fmt.Errorf("%w: breed sent for type none", ErrInvalidPrediction)
	}
	if *p.Breed == "" {
		return nil, fmt.Errorf("%w: empty breed label", ErrInvalidPrediction)
	}
	if !isConfidence(*p.BreedConfidence) {
		return nil, fmt.Errorf("%w: breed_confidence %v outside [0,1]", ErrInvalidPrediction, *p.BreedConfidence)
	}
	result.Breed = &BreedPrediction{Label: *p.Breed, Confidence: *p.BreedConfidence}
	return result, nil
}

func isConfidence(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Tier buckets a breed confidence for display.
type Tier string

const (
	TierLow    Tier = "low"
	TierNormal Tier = "normal"
)

// LowConfidenceThreshold is the breed confidence below which the UI warns
// about limited training data.
const LowConfidenceThreshold = 0.6

// ConfidenceTier classifies a breed confidence. Type confidence is never
// tiered.
func ConfidenceTier(confidence float64) Tier {
	if confidence < LowConfidenceThreshold {
		return TierLow
	}
	return TierNormal
}

// DeriveBreedInfo joins a result with the breed dictionary. It returns nil
// when there is no result, the image is not cattle, no breed was predicted
// or the label is not in the dictionary.
func DeriveBreedInfo(result *Result, catalog *breeds.Catalog) *breeds.Metadata {
	if result == nil || result.Type == TypeNone || result.Breed == nil {
		return nil
	}
	meta, ok := catalog.Lookup(result.Breed.Label)
	if !ok {
		return nil
	}
	return &meta
}
