package detection

import (
	"vigil-worker-go/internal/helpers"
	"vigil-worker-go/internal/models"
)

// Matcher resolves face observations against reference encodings.
// Deterministic given identical inputs: the closest subject within
// tolerance wins, and exactly equal distances break toward the lowest
// subject id.
type Matcher struct {
	Tolerance float64
}

// Resolve maps one observation to a match result. A subject match carries
// confidence 1 - distance; an unmatched face keeps the detector's own
// confidence and the unknown identity.
func (m Matcher) Resolve(obs FaceObservation, subjects []models.Subject) models.MatchResult {
	bestID := ""
	bestDist := m.Tolerance
	found := false

	for _, subj := range subjects {
		for _, ref := range subj.Encodings {
			d := helpers.EuclideanDistance(obs.Encoding, ref)
			if d > m.Tolerance {
				continue
			}
			switch {
			case !found, d < bestDist:
				bestID, bestDist, found = subj.SubjectID, d, true
			case d == bestDist && subj.SubjectID < bestID:
				bestID = subj.SubjectID
			}
		}
	}

	if !found {
		return models.MatchResult{
			Identity:   models.IdentityUnknown,
			Known:      false,
			Confidence: obs.Confidence,
			Region:     obs.Region,
		}
	}

	confidence := 1 - bestDist
	if confidence < 0 {
		confidence = 0
	}
	return models.MatchResult{
		Identity:   bestID,
		Known:      true,
		Confidence: confidence,
		Region:     obs.Region,
	}
}
