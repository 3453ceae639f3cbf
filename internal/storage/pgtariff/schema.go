package pgtariff

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		// Shared validity predicate. Every date-scoped read goes through it.
		`
CREATE OR REPLACE FUNCTION is_valid_on(valid_from DATE, valid_to DATE, ref_date DATE)
RETURNS BOOLEAN
LANGUAGE sql IMMUTABLE
AS $$
  SELECT (valid_from IS NULL OR valid_from <= ref_date)
     AND (valid_to IS NULL OR ref_date <= valid_to)
$$`,
		`
CREATE TABLE IF NOT EXISTS hs_codes (
  hs_code8 TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  valid_from DATE NULL,
  valid_to DATE NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_hs_codes_code ON hs_codes(hs_code8)`,
		`
CREATE TABLE IF NOT EXISTS taric_nomenclature (
  taric_code TEXT NOT NULL,
  hs_code8 TEXT NOT NULL,
  valid_from DATE NULL,
  valid_to DATE NULL,
  description TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_taric_nomenclature_hs ON taric_nomenclature(hs_code8)`,
		`
CREATE TABLE IF NOT EXISTS taric_measures (
  id BIGSERIAL PRIMARY KEY,
  taric_code TEXT NOT NULL,
  country_code TEXT NULL,
  valid_from DATE NULL,
  valid_to DATE NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_taric_measures_code ON taric_measures(taric_code)`,
		`
CREATE TABLE IF NOT EXISTS bti_rulings (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  hs_code8 TEXT NOT NULL,
  taric_code TEXT NULL,
  country_scope TEXT NULL,
  precedence INT NOT NULL DEFAULT 100,
  status TEXT NOT NULL DEFAULT 'ACTIVE',
  source TEXT NULL,
  valid_from DATE NULL,
  valid_to DATE NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_bti_rulings_hs ON bti_rulings(hs_code8)`,
		`CREATE INDEX IF NOT EXISTS idx_bti_rulings_taric ON bti_rulings(taric_code)`,
		`
CREATE TABLE IF NOT EXISTS cbam_default_emissions (
  id BIGSERIAL PRIMARY KEY,
  hs_code8 TEXT NOT NULL,
  country_code TEXT NULL,
  emission_intensity DOUBLE PRECISION NOT NULL CHECK (emission_intensity >= 0),
  source TEXT NULL,
  valid_from DATE NULL,
  valid_to DATE NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_cbam_default_emissions_hs ON cbam_default_emissions(hs_code8)`,
		// Append-only decision log. Rows are never updated or deleted; the
		// current state is the newest row by decided_at.
		`
CREATE TABLE IF NOT EXISTS shipment_classifications (
  id UUID PRIMARY KEY,
  shipment_id TEXT NOT NULL,
  hs_code8 TEXT NOT NULL,
  taric_code TEXT NULL,
  ruling_id TEXT NULL,
  classification_source TEXT NOT NULL,
  ref_date DATE NOT NULL,
  decided_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_classifications_shipment ON shipment_classifications(shipment_id, decided_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS cbam_report_drafts (
  shipment_id TEXT PRIMARY KEY,
  hs_code8 TEXT NOT NULL,
  taric_code TEXT NULL,
  ruling_id TEXT NULL,
  classification_source TEXT NOT NULL,
  emission_intensity DOUBLE PRECISION NULL,
  emission_source TEXT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		// Read views: reference queries target the views so the underlying
		// tables can later be swapped for synced TARIC extracts.
		`CREATE OR REPLACE VIEW v_hs_codes AS SELECT hs_code8, description, valid_from, valid_to FROM hs_codes`,
		`CREATE OR REPLACE VIEW v_taric_nomenclature AS SELECT taric_code, hs_code8, valid_from, valid_to, description FROM taric_nomenclature`,
		`CREATE OR REPLACE VIEW v_taric_measures AS SELECT taric_code, country_code, valid_from, valid_to FROM taric_measures`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
