package models

import (
	"time"

	"github.com/pkg/errors"
)

// Input errors. Rejections of a single call, never defaulted over.
var (
	ErrHSUnresolvable  = errors.New("unable to derive HS code from provided context")
	ErrOriginRequired  = errors.New("origin country is required")
	ErrRefDateRequired = errors.New("arrival date is required")
)

// ShipmentInput is the explicit boundary record built by the caller.
type ShipmentInput struct {
	ID            string
	ArrivedAt     *time.Time
	OriginCountry string
	HSCode        string
	Description   string
	NetWeightKG   float64
	GrossWeightKG float64
}

// Weight falls back net -> gross; missing or zero stays 0.
func (s ShipmentInput) WeightKG() float64 {
	if s.NetWeightKG > 0 {
		return s.NetWeightKG
	}
	if s.GrossWeightKG > 0 {
		return s.GrossWeightKG
	}
	return 0
}

type EmissionLinkResult struct {
	ShipmentID        string
	Classification    ClassificationResult
	EmissionIntensity *float64
	EmissionSource    *string
	Reused            bool
}
