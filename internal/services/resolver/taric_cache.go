package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cargoline/tariffbox/internal/models"
)

// Envelope so a "no candidate" outcome can be memoized alongside hits.
type taricCacheEntry struct {
	Record *models.TaricRecord `json:"record"`
}

// lookupTaric is the read-through memo around PickMostSpecificTaric, keyed by
// (hs, country, ref date). Cache failures degrade to a plain store lookup;
// entries are never invalidated in-process.
func (r *Resolver) lookupTaric(ctx context.Context, store Store, hsCode8, country string, refDate time.Time) (*models.TaricRecord, error) {
	if r.cache == nil {
		return store.PickMostSpecificTaric(ctx, hsCode8, country, refDate)
	}

	key := taricKey(hsCode8, country, refDate)
	if b, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		var entry taricCacheEntry
		if json.Unmarshal(b, &entry) == nil {
			return entry.Record, nil
		}
	}

	record, err := store.PickMostSpecificTaric(ctx, hsCode8, country, refDate)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(taricCacheEntry{Record: record}); err == nil {
		_ = r.cache.Set(ctx, key, b, r.cacheTTL)
	}
	return record, nil
}

func taricKey(hsCode8, country string, refDate time.Time) string {
	return fmt.Sprintf("taric:%s:%s:%s", hsCode8, country, refDate.Format("2006-01-02"))
}
