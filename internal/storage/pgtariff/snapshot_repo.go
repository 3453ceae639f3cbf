package pgtariff

import (
	"context"
	"time"

	"github.com/cargoline/tariffbox/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// LatestSnapshot returns the most recent classification decision for the
// shipment, nil when it was never classified.
func (u *UnitOfWork) LatestSnapshot(ctx context.Context, shipmentID string) (*models.ClassificationSnapshot, error) {
	var s models.ClassificationSnapshot
	err := u.tx.QueryRow(ctx, `
SELECT shipment_id, hs_code8, taric_code, ruling_id, classification_source, ref_date, decided_at
FROM shipment_classifications
WHERE shipment_id = $1
ORDER BY decided_at DESC
LIMIT 1
`, shipmentID).Scan(&s.ShipmentID, &s.HSCode8, &s.TaricCode, &s.RulingID, &s.Source, &s.RefDate, &s.DecidedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest snapshot")
	}
	return &s, nil
}

// InsertSnapshot appends one decision row. Appending a result identical to the
// latest snapshot is fine; whether to persist at all is the caller's call.
func (u *UnitOfWork) InsertSnapshot(ctx context.Context, shipmentID string, res models.ClassificationResult, refDate time.Time) error {
	_, err := u.tx.Exec(ctx, `
INSERT INTO shipment_classifications (
  id, shipment_id, hs_code8, taric_code, ruling_id, classification_source, ref_date, decided_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7::date, now())
ON CONFLICT (id) DO NOTHING
`, uuid.NewString(), shipmentID, res.HSCode8, res.TaricCode, res.RulingID, res.Source, refDate)
	return errors.Wrap(err, "insert snapshot")
}

// UpsertReportDraft replaces the single current draft row for the shipment.
func (u *UnitOfWork) UpsertReportDraft(ctx context.Context, shipmentID string, res models.ClassificationResult, emissionIntensity *float64, emissionSource *string) error {
	_, err := u.tx.Exec(ctx, `
INSERT INTO cbam_report_drafts (
  shipment_id, hs_code8, taric_code, ruling_id, classification_source, emission_intensity, emission_source, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7, now())
ON CONFLICT (shipment_id) DO UPDATE SET
  hs_code8 = EXCLUDED.hs_code8,
  taric_code = EXCLUDED.taric_code,
  ruling_id = EXCLUDED.ruling_id,
  classification_source = EXCLUDED.classification_source,
  emission_intensity = EXCLUDED.emission_intensity,
  emission_source = EXCLUDED.emission_source,
  updated_at = now()
`, shipmentID, res.HSCode8, res.TaricCode, res.RulingID, res.Source, emissionIntensity, emissionSource)
	return errors.Wrap(err, "upsert report draft")
}

// GetReportDraft reads the current draft row, nil when absent.
func (u *UnitOfWork) GetReportDraft(ctx context.Context, shipmentID string) (*models.ReportDraft, error) {
	var d models.ReportDraft
	err := u.tx.QueryRow(ctx, `
SELECT shipment_id, hs_code8, taric_code, ruling_id, classification_source, emission_intensity, emission_source
FROM cbam_report_drafts
WHERE shipment_id = $1
`, shipmentID).Scan(&d.ShipmentID, &d.HSCode8, &d.TaricCode, &d.RulingID, &d.Source, &d.EmissionIntensity, &d.EmissionSource)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select report draft")
	}
	return &d, nil
}
