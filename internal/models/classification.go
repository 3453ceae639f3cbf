package models

import "time"

// Terminal classification sources. AMBIGUOUS is the canonical label for the
// low-confidence branch; older data may still carry HS_DERIVED for it.
const (
	SourceBTI         = "BTI"
	SourceDirectTaric = "DIRECT_TARIC"
	SourceAmbiguous   = "AMBIGUOUS"
	SourceHSDerived   = "HS_DERIVED"
)

type ClassificationContext struct {
	ShipmentID    string
	RefDate       time.Time
	OriginCountry string
	HSHint        string
	TextHint      string
	WeightKG      float64
}

type ClassificationResult struct {
	HSCode8   string
	TaricCode *string
	Source    string
	RulingID  *string
	ValidFrom *time.Time
	ValidTo   *time.Time
	Notes     *string
}

type RulingCandidate struct {
	ID         string
	HSCode8    string
	TaricCode  *string
	Precedence int
	ValidFrom  *time.Time
	ValidTo    *time.Time
	Source     *string
}

type TaricRecord struct {
	TaricCode   string
	HSCode8     string
	ValidFrom   *time.Time
	ValidTo     *time.Time
	Description *string
}

type MeasureRecord struct {
	TaricCode   string
	CountryCode *string
	ValidFrom   *time.Time
	ValidTo     *time.Time
}

type EmissionDefault struct {
	HSCode8           string
	CountryCode       *string
	EmissionIntensity float64
	Source            *string
	ValidFrom         *time.Time
	ValidTo           *time.Time
}

type ClassificationSnapshot struct {
	ShipmentID string
	HSCode8    string
	TaricCode  *string
	RulingID   *string
	Source     string
	RefDate    time.Time
	DecidedAt  time.Time
}

type ReportDraft struct {
	ShipmentID        string
	HSCode8           string
	TaricCode         *string
	RulingID          *string
	Source            string
	EmissionIntensity *float64
	EmissionSource    *string
}
