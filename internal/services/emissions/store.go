package emissions

import (
	"context"

	"github.com/cargoline/tariffbox/internal/storage/pgtariff"
)

// pgStore adapts *pgtariff.Storage to the Store interface: Go interfaces are
// not covariant over the concrete unit-of-work type.
type pgStore struct {
	st *pgtariff.Storage
}

func NewPGStore(st *pgtariff.Storage) Store {
	return pgStore{st: st}
}

func (p pgStore) Begin(ctx context.Context) (UnitOfWork, error) {
	return p.st.Begin(ctx)
}
