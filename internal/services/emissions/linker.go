package emissions

import (
	"context"
	"time"

	"github.com/cargoline/tariffbox/internal/models"
	"github.com/cargoline/tariffbox/internal/services/resolver"
	"github.com/pkg/errors"
)

// UnitOfWork is one transaction spanning the whole decide-and-persist
// sequence. A failure anywhere leaves no partially applied draft.
type UnitOfWork interface {
	resolver.Store
	LatestSnapshot(ctx context.Context, shipmentID string) (*models.ClassificationSnapshot, error)
	InsertSnapshot(ctx context.Context, shipmentID string, res models.ClassificationResult, refDate time.Time) error
	GetEmissionDefault(ctx context.Context, hsCode8, country string, refDate time.Time) (*models.EmissionDefault, error)
	UpsertReportDraft(ctx context.Context, shipmentID string, res models.ClassificationResult, emissionIntensity *float64, emissionSource *string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// Linker wraps the resolver with change detection, CBAM default lookup and
// draft persistence. It owns the transaction boundary: one unit of work per
// call, released on every exit path.
type Linker struct {
	store    Store
	resolver *resolver.Resolver
}

func New(store Store, res *resolver.Resolver) *Linker {
	return &Linker{store: store, resolver: res}
}

// Classify resolves a classification without persisting anything.
func (l *Linker) Classify(ctx context.Context, in models.ClassificationContext) (models.ClassificationResult, error) {
	if err := validateContext(in); err != nil {
		return models.ClassificationResult{}, err
	}

	uow, err := l.store.Begin(ctx)
	if err != nil {
		return models.ClassificationResult{}, err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	res, err := l.resolver.Classify(ctx, uow, in)
	if err != nil {
		return models.ClassificationResult{}, err
	}
	if err := uow.Commit(ctx); err != nil {
		return models.ClassificationResult{}, err
	}
	return res, nil
}

// ClassifyAndLink classifies the shipment (or reuses the latest snapshot when
// nothing material changed), appends a snapshot on re-runs, attaches the CBAM
// default emission and always rewrites the report draft.
func (l *Linker) ClassifyAndLink(ctx context.Context, shipment models.ShipmentInput, force bool) (*models.EmissionLinkResult, error) {
	cctx, err := buildContext(shipment)
	if err != nil {
		return nil, err
	}

	uow, err := l.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	snapshot, err := uow.LatestSnapshot(ctx, cctx.ShipmentID)
	if err != nil {
		return nil, err
	}

	var classification models.ClassificationResult
	reused := false
	if shouldReclassify(shipment, snapshot, force) {
		classification, err = l.resolver.Classify(ctx, uow, cctx)
		if err != nil {
			return nil, err
		}
		if err := uow.InsertSnapshot(ctx, cctx.ShipmentID, classification, cctx.RefDate); err != nil {
			return nil, err
		}
	} else {
		classification = resultFromSnapshot(*snapshot)
		reused = true
	}

	def, err := uow.GetEmissionDefault(ctx, classification.HSCode8, cctx.OriginCountry, cctx.RefDate)
	if err != nil {
		return nil, err
	}
	var intensity *float64
	var source *string
	if def != nil {
		intensity = &def.EmissionIntensity
		source = def.Source
	}

	// Always, even on the reuse path: the draft must not drift from the
	// latest snapshot.
	if err := uow.UpsertReportDraft(ctx, cctx.ShipmentID, classification, intensity, source); err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}

	return &models.EmissionLinkResult{
		ShipmentID:        cctx.ShipmentID,
		Classification:    classification,
		EmissionIntensity: intensity,
		EmissionSource:    source,
		Reused:            reused,
	}, nil
}

func buildContext(s models.ShipmentInput) (models.ClassificationContext, error) {
	if len(s.OriginCountry) != 2 {
		return models.ClassificationContext{}, errors.Wrapf(models.ErrOriginRequired, "shipment %s", s.ID)
	}
	if s.ArrivedAt == nil || s.ArrivedAt.IsZero() {
		return models.ClassificationContext{}, errors.Wrapf(models.ErrRefDateRequired, "shipment %s", s.ID)
	}
	return models.ClassificationContext{
		ShipmentID:    s.ID,
		RefDate:       *s.ArrivedAt,
		OriginCountry: s.OriginCountry,
		HSHint:        s.HSCode,
		TextHint:      s.Description,
		WeightKG:      s.WeightKG(),
	}, nil
}

func validateContext(in models.ClassificationContext) error {
	if len(in.OriginCountry) != 2 {
		return errors.Wrapf(models.ErrOriginRequired, "shipment %s", in.ShipmentID)
	}
	if in.RefDate.IsZero() {
		return errors.Wrapf(models.ErrRefDateRequired, "shipment %s", in.ShipmentID)
	}
	if in.WeightKG < 0 {
		return errors.Errorf("shipment %s: negative weight", in.ShipmentID)
	}
	return nil
}

// shouldReclassify: skip only when not forced, a snapshot exists, the
// snapshot's ref date equals the arrival date and the HS hint (if any) still
// agrees with the snapshot.
func shouldReclassify(s models.ShipmentInput, snapshot *models.ClassificationSnapshot, force bool) bool {
	if force || snapshot == nil {
		return true
	}
	if s.ArrivedAt == nil || !sameDate(snapshot.RefDate, *s.ArrivedAt) {
		return true
	}
	if s.HSCode != "" && first8(s.HSCode) != snapshot.HSCode8 {
		return true
	}
	return false
}

// resultFromSnapshot builds a result shell from stored fields. Validity
// bounds are not recorded in snapshots and stay empty.
func resultFromSnapshot(s models.ClassificationSnapshot) models.ClassificationResult {
	source := s.Source
	if source == "" {
		source = models.SourceDirectTaric
	}
	return models.ClassificationResult{
		HSCode8:   s.HSCode8,
		TaricCode: s.TaricCode,
		Source:    source,
		RulingID:  s.RulingID,
	}
}

func sameDate(a, b time.Time) bool {
	return a.UTC().Format("2006-01-02") == b.UTC().Format("2006-01-02")
}

func first8(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
