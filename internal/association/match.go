// Package association reconciles emotion-recognition results with face
// detections from the same image. The two services share no identifiers, so
// results are paired by how closely their bounding boxes agree.
package association

import "github.com/your-org/dwell/internal/models"

// DefaultTolerance is the default per-field pixel tolerance.
const DefaultTolerance = 5

// WithinTolerance reports whether |a-b| <= tolerance.
func WithinTolerance(a, b, tolerance int) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// MatchScore counts the rectangle fields (top, left, height, width) of a and
// b that agree within tolerance. The result is in [0, 4].
func MatchScore(a, b models.Rect, tolerance int) int {
	score := 0
	if WithinTolerance(a.Top, b.Top, tolerance) {
		score++
	}
	if WithinTolerance(a.Left, b.Left, tolerance) {
		score++
	}
	if WithinTolerance(a.Height, b.Height, tolerance) {
		score++
	}
	if WithinTolerance(a.Width, b.Width, tolerance) {
		score++
	}
	return score
}
