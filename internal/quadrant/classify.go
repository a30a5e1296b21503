// Package quadrant maps canonical matrix coordinates to percentages and
// category labels. The constants here are shared with every client; a
// drift between producer and consumer would silently reclassify ideas.
package quadrant

// Canonical coordinate space. Positions are stored in [0, Range] on both
// axes with the category cutoff at the midpoint.
const (
	Offset = 0.0
	Range  = 520.0
	Center = 260.0
)

// Category is one of the four fixed classification buckets.
type Category string

const (
	QuickWins  Category = "quick-wins"
	Strategic  Category = "strategic"
	Reconsider Category = "reconsider"
	Avoid      Category = "avoid"
)

// Classify converts a canonical coordinate pair into viewport
// percentages and a category. It is total over the canonical space and
// deterministic; callers are responsible for clamping out-of-range input
// first (see Clamp).
func Classify(x, y float64) (xPercent, yPercent float64, category Category) {
	xPercent = ((x + Offset) / Range) * 100
	yPercent = ((y + Offset) / Range) * 100

	switch {
	case x < Center && y < Center:
		category = QuickWins
	case x >= Center && y < Center:
		category = Strategic
	case x < Center && y >= Center:
		category = Reconsider
	default:
		category = Avoid
	}
	return xPercent, yPercent, category
}

// Clamp forces a coordinate into the canonical range. Producers must
// clamp (or reject) before persisting or classifying.
func Clamp(coord float64) float64 {
	if coord < Offset {
		return Offset
	}
	if coord > Offset+Range {
		return Offset + Range
	}
	return coord
}
