package resolver

import (
	"context"
	"time"

	"github.com/cargoline/tariffbox/internal/cache"
	"github.com/cargoline/tariffbox/internal/models"
	"github.com/cargoline/tariffbox/internal/services/rules"
)

// Store is the read surface the resolver needs. Implemented by
// *pgtariff.UnitOfWork; fakes implement it in tests.
type Store interface {
	DeriveHSFromText(ctx context.Context, textHint string, refDate time.Time) (string, error)
	PickMostSpecificTaric(ctx context.Context, hsCode8, country string, refDate time.Time) (*models.TaricRecord, error)
	TaricCandidates(ctx context.Context, hsCode8 string, refDate time.Time) ([]models.TaricRecord, error)
	ApplicableRulings(ctx context.Context, hsCode8 string, taricCode *string, country string, refDate time.Time) ([]models.RulingCandidate, error)
	TaricValidity(ctx context.Context, taricCode string) (*time.Time, *time.Time, error)
}

// Resolver turns a classification context into exactly one of four terminal
// results: BTI, DIRECT_TARIC, AMBIGUOUS or HS_DERIVED. It is stateless apart
// from the optional shared TARIC memo cache.
type Resolver struct {
	cache    cache.BytesCache
	cacheTTL time.Duration
}

// New builds a resolver. cache may be nil to bypass memoization; ttl 0 keeps
// entries for the cache's lifetime.
func New(c cache.BytesCache, cacheTTL time.Duration) *Resolver {
	return &Resolver{cache: c, cacheTTL: cacheTTL}
}

func (r *Resolver) Classify(ctx context.Context, store Store, in models.ClassificationContext) (models.ClassificationResult, error) {
	hsCode8, err := r.resolveHS(ctx, store, in)
	if err != nil {
		return models.ClassificationResult{}, err
	}

	taricRecord, err := r.lookupTaric(ctx, store, hsCode8, in.OriginCountry, in.RefDate)
	if err != nil {
		return models.ClassificationResult{}, err
	}

	var stepTaric *string
	if taricRecord != nil {
		stepTaric = &taricRecord.TaricCode
	}

	candidates, err := store.ApplicableRulings(ctx, hsCode8, stepTaric, in.OriginCountry, in.RefDate)
	if err != nil {
		return models.ClassificationResult{}, err
	}

	if ruling := rules.ChooseRuling(candidates); ruling != nil {
		resultTaric := ruling.TaricCode
		if resultTaric == nil {
			resultTaric = stepTaric
		}
		validityKey := hsCode8
		if resultTaric != nil {
			validityKey = *resultTaric
		}
		validFrom, validTo, err := store.TaricValidity(ctx, validityKey)
		if err != nil {
			return models.ClassificationResult{}, err
		}
		return models.ClassificationResult{
			HSCode8:   ruling.HSCode8,
			TaricCode: resultTaric,
			Source:    models.SourceBTI,
			RulingID:  &ruling.ID,
			ValidFrom: validFrom,
			ValidTo:   validTo,
			Notes:     ruling.Source,
		}, nil
	}

	if taricRecord != nil {
		return models.ClassificationResult{
			HSCode8:   hsCode8,
			TaricCode: &taricRecord.TaricCode,
			Source:    models.SourceDirectTaric,
			ValidFrom: taricRecord.ValidFrom,
			ValidTo:   taricRecord.ValidTo,
			Notes:     taricRecord.Description,
		}, nil
	}

	others, err := store.TaricCandidates(ctx, hsCode8, in.RefDate)
	if err != nil {
		return models.ClassificationResult{}, err
	}
	if len(others) > 0 {
		return rules.AmbiguousResult(hsCode8), nil
	}

	note := "No TARIC mapping available on reference date"
	return models.ClassificationResult{
		HSCode8: hsCode8,
		Source:  models.SourceHSDerived,
		Notes:   &note,
	}, nil
}

func (r *Resolver) resolveHS(ctx context.Context, store Store, in models.ClassificationContext) (string, error) {
	if hs := NormalizeHSCode(in.HSHint); hs != "" {
		return hs, nil
	}
	derived, err := store.DeriveHSFromText(ctx, in.TextHint, in.RefDate)
	if err != nil {
		return "", err
	}
	if derived != "" {
		return derived, nil
	}
	return "", models.ErrHSUnresolvable
}

// NormalizeHSCode strips everything non-alphanumeric and keeps the first 8
// characters. Hints that are too short after filtering are unusable and
// yield "".
func NormalizeHSCode(hint string) string {
	if hint == "" {
		return ""
	}
	out := make([]rune, 0, len(hint))
	for _, ch := range hint {
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			out = append(out, ch)
		}
	}
	if len(out) < 8 {
		return ""
	}
	return string(out[:8])
}
