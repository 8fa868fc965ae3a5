package association

import (
	"github.com/your-org/dwell/internal/models"
)

// Associator pairs faces with emotion results by rectangle closeness.
type Associator struct {
	tolerance int
}

// NewAssociator returns an Associator using the given pixel tolerance.
// Negative tolerances are treated as zero.
func NewAssociator(tolerance int) *Associator {
	if tolerance < 0 {
		tolerance = 0
	}
	return &Associator{tolerance: tolerance}
}

// Tolerance returns the per-field pixel tolerance in use.
func (a *Associator) Tolerance() int {
	return a.tolerance
}

// Best returns the index of the emotion sample whose rectangle best matches
// face, and its score. On equal scores the earliest sample wins. It returns
// -1 when no sample matches on at least one field.
func (a *Associator) Best(face models.Rect, emotions []models.EmotionSample) (int, int) {
	best, bestScore := -1, 0
	for i, emo := range emotions {
		score := MatchScore(face, emo.Rect, a.tolerance)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}

// DominantEmotion returns the dominant emotion label of the sample best
// matching face, or "" when nothing matches.
func (a *Associator) DominantEmotion(face models.FaceSample, emotions []models.EmotionSample) string {
	idx, _ := a.Best(face.Rect, emotions)
	if idx < 0 {
		return ""
	}
	return Dominant(emotions[idx].Scores)
}

// Dominant returns the label with the highest score. Equal maxima resolve to
// the lexicographically smallest label so the result does not depend on map
// iteration order.
func Dominant(scores map[string]float64) string {
	label := ""
	var top float64
	for l, s := range scores {
		switch {
		case label == "":
			label, top = l, s
		case s > top:
			label, top = l, s
		case s == top && l < label:
			label = l
		}
	}
	return label
}
