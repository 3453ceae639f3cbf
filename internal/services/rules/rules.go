package rules

import (
	"time"

	"github.com/cargoline/tariffbox/internal/models"
)

// ChooseRuling picks the candidate with the smallest (precedence, valid_from)
// tuple: the oldest ruling of the strongest precedence wins. A nil valid_from
// sorts before any dated one, so an undated ruling wins ties. Nil on empty
// input.
func ChooseRuling(candidates []models.RulingCandidate) *models.RulingCandidate {
	if len(candidates) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if stronger(candidates[i], candidates[best]) {
			best = i
		}
	}
	return &candidates[best]
}

func stronger(a, b models.RulingCandidate) bool {
	if a.Precedence != b.Precedence {
		return a.Precedence < b.Precedence
	}
	return validFromKey(a.ValidFrom).Before(validFromKey(b.ValidFrom))
}

func validFromKey(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// AmbiguousResult builds the fixed-shape low-confidence result: TARIC codes
// exist for the HS code on the reference date but none could be selected with
// confidence.
func AmbiguousResult(hsCode8 string) models.ClassificationResult {
	note := "Ambiguous TARIC mapping: candidates exist but none carries an applicable measure or ruling"
	return models.ClassificationResult{
		HSCode8: hsCode8,
		Source:  models.SourceAmbiguous,
		Notes:   &note,
	}
}
