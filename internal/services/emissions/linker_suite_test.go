package emissions

import (
	"context"
	"testing"
	"time"

	"github.com/cargoline/tariffbox/internal/models"
	"github.com/cargoline/tariffbox/internal/services/resolver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type fakeUow struct {
	snapshot    *models.ClassificationSnapshot
	snapshotErr error

	picked  *models.TaricRecord
	rulings []models.RulingCandidate
	def     *models.EmissionDefault

	resolverCalls int

	insertedCount int
	insertedRes   models.ClassificationResult
	insertedRef   time.Time

	draftRes       *models.ClassificationResult
	draftIntensity *float64
	draftSource    *string
	draftErr       error

	committed  bool
	rolledBack bool
}

func (f *fakeUow) DeriveHSFromText(ctx context.Context, textHint string, refDate time.Time) (string, error) {
	f.resolverCalls++
	return "", nil
}
func (f *fakeUow) PickMostSpecificTaric(ctx context.Context, hsCode8, country string, refDate time.Time) (*models.TaricRecord, error) {
	f.resolverCalls++
	return f.picked, nil
}
func (f *fakeUow) TaricCandidates(ctx context.Context, hsCode8 string, refDate time.Time) ([]models.TaricRecord, error) {
	return nil, nil
}
func (f *fakeUow) ApplicableRulings(ctx context.Context, hsCode8 string, taricCode *string, country string, refDate time.Time) ([]models.RulingCandidate, error) {
	f.resolverCalls++
	return f.rulings, nil
}
func (f *fakeUow) TaricValidity(ctx context.Context, taricCode string) (*time.Time, *time.Time, error) {
	return nil, nil, nil
}
func (f *fakeUow) LatestSnapshot(ctx context.Context, shipmentID string) (*models.ClassificationSnapshot, error) {
	return f.snapshot, f.snapshotErr
}
func (f *fakeUow) InsertSnapshot(ctx context.Context, shipmentID string, res models.ClassificationResult, refDate time.Time) error {
	f.insertedCount++
	f.insertedRes = res
	f.insertedRef = refDate
	return nil
}
func (f *fakeUow) GetEmissionDefault(ctx context.Context, hsCode8, country string, refDate time.Time) (*models.EmissionDefault, error) {
	return f.def, nil
}
func (f *fakeUow) UpsertReportDraft(ctx context.Context, shipmentID string, res models.ClassificationResult, emissionIntensity *float64, emissionSource *string) error {
	if f.draftErr != nil {
		return f.draftErr
	}
	f.draftRes = &res
	f.draftIntensity = emissionIntensity
	f.draftSource = emissionSource
	return nil
}
func (f *fakeUow) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}
func (f *fakeUow) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeStore struct {
	uow      *fakeUow
	beginErr error
	begun    int
}

func (f *fakeStore) Begin(ctx context.Context) (UnitOfWork, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begun++
	return f.uow, nil
}

type LinkerSuite struct {
	suite.Suite

	uow    *fakeUow
	store  *fakeStore
	linker *Linker
}

func (s *LinkerSuite) SetupTest() {
	s.uow = &fakeUow{}
	s.store = &fakeStore{uow: s.uow}
	s.linker = New(s.store, resolver.New(nil, 0))
}

func arrival(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func makeShipment() models.ShipmentInput {
	return models.ShipmentInput{
		ID:            "shp-1",
		ArrivedAt:     arrival(2024, 1, 1),
		OriginCountry: "NL",
		HSCode:        "72071200",
		NetWeightKG:   100,
	}
}

func (s *LinkerSuite) TestFirstClassification_PersistsSnapshotAndDraft() {
	s.uow.picked = &models.TaricRecord{TaricCode: "7207120010", HSCode8: "72071200"}

	out, err := s.linker.ClassifyAndLink(context.Background(), makeShipment(), false)
	s.Require().NoError(err)
	s.Require().False(out.Reused)
	s.Require().Equal(models.SourceDirectTaric, out.Classification.Source)
	s.Require().Equal(1, s.uow.insertedCount)
	s.Require().Equal("7207120010", *s.uow.draftRes.TaricCode)
	s.Require().True(s.uow.committed)
	s.Require().False(s.uow.rolledBack)
}

func (s *LinkerSuite) TestSkipPath_NoResolverWork_DraftStillUpserted() {
	taric := "7207120010"
	s.uow.snapshot = &models.ClassificationSnapshot{
		ShipmentID: "shp-1",
		HSCode8:    "72071200",
		TaricCode:  &taric,
		Source:     models.SourceBTI,
		RefDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	out, err := s.linker.ClassifyAndLink(context.Background(), makeShipment(), false)
	s.Require().NoError(err)
	s.Require().True(out.Reused)
	s.Require().Zero(s.uow.resolverCalls)
	s.Require().Zero(s.uow.insertedCount)

	// Draft never drifts from the latest snapshot, even on the skip path.
	s.Require().NotNil(s.uow.draftRes)
	s.Require().Equal("72071200", s.uow.draftRes.HSCode8)
	s.Require().Equal(taric, *s.uow.draftRes.TaricCode)
	s.Require().Equal(models.SourceBTI, s.uow.draftRes.Source)

	// Validity is not reconstructable from a snapshot.
	s.Require().Nil(out.Classification.ValidFrom)
	s.Require().Nil(out.Classification.ValidTo)
	s.Require().True(s.uow.committed)
}

func (s *LinkerSuite) TestForce_ReclassifiesDespiteFreshSnapshot() {
	s.uow.snapshot = &models.ClassificationSnapshot{
		ShipmentID: "shp-1",
		HSCode8:    "72071200",
		Source:     models.SourceDirectTaric,
		RefDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	out, err := s.linker.ClassifyAndLink(context.Background(), makeShipment(), true)
	s.Require().NoError(err)
	s.Require().False(out.Reused)
	s.Require().NotZero(s.uow.resolverCalls)
	s.Require().Equal(1, s.uow.insertedCount)
}

func (s *LinkerSuite) TestRefDateChange_Reclassifies() {
	s.uow.snapshot = &models.ClassificationSnapshot{
		ShipmentID: "shp-1",
		HSCode8:    "72071200",
		Source:     models.SourceDirectTaric,
		RefDate:    time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
	}

	out, err := s.linker.ClassifyAndLink(context.Background(), makeShipment(), false)
	s.Require().NoError(err)
	s.Require().False(out.Reused)
	s.Require().Equal(1, s.uow.insertedCount)
}

func (s *LinkerSuite) TestHintChange_Reclassifies() {
	s.uow.snapshot = &models.ClassificationSnapshot{
		ShipmentID: "shp-1",
		HSCode8:    "72083900",
		Source:     models.SourceDirectTaric,
		RefDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	out, err := s.linker.ClassifyAndLink(context.Background(), makeShipment(), false)
	s.Require().NoError(err)
	s.Require().False(out.Reused)
}

func (s *LinkerSuite) TestNoHint_FreshSnapshot_Skips() {
	s.uow.snapshot = &models.ClassificationSnapshot{
		ShipmentID: "shp-1",
		HSCode8:    "72083900",
		Source:     models.SourceDirectTaric,
		RefDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	shipment := makeShipment()
	shipment.HSCode = ""

	out, err := s.linker.ClassifyAndLink(context.Background(), shipment, false)
	s.Require().NoError(err)
	s.Require().True(out.Reused)
}

func (s *LinkerSuite) TestEmissionDefault_AttachedWhenPresent() {
	src := "CBAM Annex"
	s.uow.picked = &models.TaricRecord{TaricCode: "7207120010", HSCode8: "72071200"}
	s.uow.def = &models.EmissionDefault{HSCode8: "72071200", EmissionIntensity: 2.5, Source: &src}

	out, err := s.linker.ClassifyAndLink(context.Background(), makeShipment(), false)
	s.Require().NoError(err)
	s.Require().Equal(2.5, *out.EmissionIntensity)
	s.Require().Equal(src, *out.EmissionSource)
	s.Require().Equal(2.5, *s.uow.draftIntensity)
}

func (s *LinkerSuite) TestMissingEmissionDefault_IsNotAnError() {
	s.uow.picked = &models.TaricRecord{TaricCode: "7207120010", HSCode8: "72071200"}

	out, err := s.linker.ClassifyAndLink(context.Background(), makeShipment(), false)
	s.Require().NoError(err)
	s.Require().Nil(out.EmissionIntensity)
	s.Require().Nil(out.EmissionSource)
	s.Require().True(s.uow.committed)
}

func (s *LinkerSuite) TestMissingOrigin_RejectedBeforeBegin() {
	shipment := makeShipment()
	shipment.OriginCountry = ""

	_, err := s.linker.ClassifyAndLink(context.Background(), shipment, false)
	s.Require().ErrorIs(err, models.ErrOriginRequired)
	s.Require().Zero(s.store.begun)
}

func (s *LinkerSuite) TestMissingArrival_Rejected() {
	shipment := makeShipment()
	shipment.ArrivedAt = nil

	_, err := s.linker.ClassifyAndLink(context.Background(), shipment, false)
	s.Require().ErrorIs(err, models.ErrRefDateRequired)
	s.Require().Zero(s.store.begun)
}

func (s *LinkerSuite) TestDraftFailure_RollsBackWholeCall() {
	s.uow.picked = &models.TaricRecord{TaricCode: "7207120010", HSCode8: "72071200"}
	s.uow.draftErr = errors.New("draft write failed")

	_, err := s.linker.ClassifyAndLink(context.Background(), makeShipment(), false)
	s.Require().Error(err)
	s.Require().False(s.uow.committed)
	s.Require().True(s.uow.rolledBack)
}

func (s *LinkerSuite) TestClassify_Standalone() {
	s.uow.picked = &models.TaricRecord{TaricCode: "7207120010", HSCode8: "72071200"}

	res, err := s.linker.Classify(context.Background(), models.ClassificationContext{
		ShipmentID:    "shp-1",
		RefDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		OriginCountry: "NL",
		HSHint:        "72071200",
	})
	s.Require().NoError(err)
	s.Require().Equal(models.SourceDirectTaric, res.Source)
	s.Require().Zero(s.uow.insertedCount)
	s.Require().True(s.uow.committed)
}

func (s *LinkerSuite) TestClassify_ValidatesInput() {
	_, err := s.linker.Classify(context.Background(), models.ClassificationContext{
		ShipmentID:    "shp-1",
		OriginCountry: "NLD", // must be exactly 2 chars
		RefDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().ErrorIs(err, models.ErrOriginRequired)

	_, err = s.linker.Classify(context.Background(), models.ClassificationContext{
		ShipmentID:    "shp-1",
		OriginCountry: "NL",
	})
	s.Require().ErrorIs(err, models.ErrRefDateRequired)

	_, err = s.linker.Classify(context.Background(), models.ClassificationContext{
		ShipmentID:    "shp-1",
		OriginCountry: "NL",
		RefDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		WeightKG:      -1,
	})
	s.Require().Error(err)
}

func TestLinkerSuite(t *testing.T) {
	suite.Run(t, new(LinkerSuite))
}
