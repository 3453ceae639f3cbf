package pgtariff

import (
	"context"
	"time"

	"github.com/cargoline/tariffbox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const rulingLimit = 10

// TaricCandidates returns TARIC records for the HS code valid on refDate,
// most specific (longest code) first.
func (u *UnitOfWork) TaricCandidates(ctx context.Context, hsCode8 string, refDate time.Time) ([]models.TaricRecord, error) {
	rows, err := u.tx.Query(ctx, `
SELECT taric_code, hs_code8, valid_from, valid_to, description
FROM v_taric_nomenclature
WHERE hs_code8 = $1
  AND is_valid_on(valid_from, valid_to, $2::date)
ORDER BY length(taric_code) DESC, taric_code ASC
`, hsCode8, refDate)
	if err != nil {
		return nil, errors.Wrap(err, "select taric candidates")
	}
	defer rows.Close()

	var out []models.TaricRecord
	for rows.Next() {
		var r models.TaricRecord
		if err := rows.Scan(&r.TaricCode, &r.HSCode8, &r.ValidFrom, &r.ValidTo, &r.Description); err != nil {
			return nil, errors.Wrap(err, "scan taric candidate")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// MeasureMatches reports whether an active measure exists for the TARIC code,
// for the country or country-agnostic, on refDate.
func (u *UnitOfWork) MeasureMatches(ctx context.Context, taricCode, country string, refDate time.Time) (bool, error) {
	var one int
	err := u.tx.QueryRow(ctx, `
SELECT 1
FROM v_taric_measures
WHERE taric_code = $1
  AND (country_code IS NULL OR country_code = $2)
  AND is_valid_on(valid_from, valid_to, $3::date)
LIMIT 1
`, taricCode, country, refDate).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "select measure")
	}
	return true, nil
}

// PickMostSpecificTaric walks candidates from most to least specific and takes
// the first one backed by an active measure. When none is, the single most
// specific candidate is returned as a best-effort match; nil when there are
// no candidates at all.
func (u *UnitOfWork) PickMostSpecificTaric(ctx context.Context, hsCode8, country string, refDate time.Time) (*models.TaricRecord, error) {
	candidates, err := u.TaricCandidates(ctx, hsCode8, refDate)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		ok, err := u.MeasureMatches(ctx, candidates[i].TaricCode, country, refDate)
		if err != nil {
			return nil, err
		}
		if ok {
			return &candidates[i], nil
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

// TaricValidity returns the validity window of the newest nomenclature entry
// for the code. Both bounds nil when the code is unknown.
func (u *UnitOfWork) TaricValidity(ctx context.Context, taricCode string) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	err := u.tx.QueryRow(ctx, `
SELECT valid_from, valid_to
FROM v_taric_nomenclature
WHERE taric_code = $1
ORDER BY valid_from DESC NULLS LAST
LIMIT 1
`, taricCode).Scan(&from, &to)
	if err == pgx.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "select taric validity")
	}
	return from, to, nil
}

// ApplicableRulings fetches active BTI rulings ordered by
// (precedence ASC, valid_from DESC). An exact TARIC match is tried first;
// only when that yields nothing does the HS-level fallback run.
func (u *UnitOfWork) ApplicableRulings(ctx context.Context, hsCode8 string, taricCode *string, country string, refDate time.Time) ([]models.RulingCandidate, error) {
	if taricCode != nil && *taricCode != "" {
		out, err := u.queryRulings(ctx, `
SELECT id::text, hs_code8, taric_code, precedence, valid_from, valid_to, source
FROM bti_rulings
WHERE status = 'ACTIVE'
  AND taric_code = $1
  AND (country_scope IS NULL OR country_scope = $2)
  AND is_valid_on(valid_from, valid_to, $3::date)
ORDER BY precedence ASC, valid_from DESC
LIMIT $4
`, *taricCode, country, refDate, rulingLimit)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	return u.queryRulings(ctx, `
SELECT id::text, hs_code8, taric_code, precedence, valid_from, valid_to, source
FROM bti_rulings
WHERE status = 'ACTIVE'
  AND hs_code8 = $1
  AND (country_scope IS NULL OR country_scope = $2)
  AND is_valid_on(valid_from, valid_to, $3::date)
ORDER BY precedence ASC, valid_from DESC
LIMIT $4
`, hsCode8, country, refDate, rulingLimit)
}

func (u *UnitOfWork) queryRulings(ctx context.Context, q string, args ...any) ([]models.RulingCandidate, error) {
	rows, err := u.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select rulings")
	}
	defer rows.Close()

	var out []models.RulingCandidate
	for rows.Next() {
		var c models.RulingCandidate
		if err := rows.Scan(&c.ID, &c.HSCode8, &c.TaricCode, &c.Precedence, &c.ValidFrom, &c.ValidTo, &c.Source); err != nil {
			return nil, errors.Wrap(err, "scan ruling")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// DeriveHSFromText is a best-effort description lookup. Empty string when no
// entry valid on refDate matches.
func (u *UnitOfWork) DeriveHSFromText(ctx context.Context, textHint string, refDate time.Time) (string, error) {
	if textHint == "" {
		return "", nil
	}
	var hs string
	err := u.tx.QueryRow(ctx, `
SELECT hs_code8
FROM v_hs_codes
WHERE description ILIKE '%' || $1 || '%'
  AND is_valid_on(valid_from, valid_to, $2::date)
ORDER BY valid_from DESC NULLS LAST
LIMIT 1
`, textHint, refDate).Scan(&hs)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "select hs by text")
	}
	return hs, nil
}

// GetEmissionDefault returns the most specific CBAM default valid on refDate:
// country-scoped rows beat country-agnostic ones.
func (u *UnitOfWork) GetEmissionDefault(ctx context.Context, hsCode8, country string, refDate time.Time) (*models.EmissionDefault, error) {
	var d models.EmissionDefault
	err := u.tx.QueryRow(ctx, `
SELECT hs_code8, country_code, emission_intensity, source, valid_from, valid_to
FROM cbam_default_emissions
WHERE hs_code8 = $1
  AND (country_code IS NULL OR country_code = $2)
  AND is_valid_on(valid_from, valid_to, $3::date)
ORDER BY country_code NULLS LAST, valid_from DESC NULLS LAST
LIMIT 1
`, hsCode8, country, refDate).Scan(&d.HSCode8, &d.CountryCode, &d.EmissionIntensity, &d.Source, &d.ValidFrom, &d.ValidTo)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select emission default")
	}
	return &d, nil
}
