package quadrant

import (
	"math"
	"testing"
)

func TestClassifyQuadrants(t *testing.T) {
	cases := []struct {
		name string
		x, y float64
		want Category
	}{
		{"top-left", 130, 130, QuickWins},
		{"top-right", 390, 130, Strategic},
		{"bottom-left", 130, 390, Reconsider},
		{"bottom-right", 390, 390, Avoid},
		{"origin", 0, 0, QuickWins},
		{"max-corner", 520, 520, Avoid},
		{"center-belongs-right-and-down", 260, 260, Avoid},
		{"center-x-only", 260, 0, Strategic},
		{"center-y-only", 0, 260, Reconsider},
		{"just-under-center", 259.999, 259.999, QuickWins},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, got := Classify(tc.x, tc.y)
			if got != tc.want {
				t.Errorf("Classify(%v, %v) category = %q, want %q", tc.x, tc.y, got, tc.want)
			}
		})
	}
}

func TestClassifyPercentages(t *testing.T) {
	xp, yp, _ := Classify(130, 390)
	if math.Abs(xp-25) > 1e-9 {
		t.Errorf("xPercent = %v, want 25", xp)
	}
	if math.Abs(yp-75) > 1e-9 {
		t.Errorf("yPercent = %v, want 75", yp)
	}

	xp, yp, _ = Classify(0, 520)
	if xp != 0 || yp != 100 {
		t.Errorf("edge percentages = (%v, %v), want (0, 100)", xp, yp)
	}
}

// Every valid coordinate pair maps to exactly one category, and the
// mapping is stable across calls.
func TestClassifyTotalAndDeterministic(t *testing.T) {
	valid := map[Category]bool{QuickWins: true, Strategic: true, Reconsider: true, Avoid: true}
	for x := 0.0; x <= Range; x += 13 {
		for y := 0.0; y <= Range; y += 13 {
			_, _, first := Classify(x, y)
			if !valid[first] {
				t.Fatalf("Classify(%v, %v) = %q, not a defined category", x, y, first)
			}
			_, _, second := Classify(x, y)
			if first != second {
				t.Fatalf("Classify(%v, %v) not deterministic: %q then %q", x, y, first, second)
			}
		}
	}
}

func TestClamp(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-10, 0},
		{0, 0},
		{260, 260},
		{520, 520},
		{531, 520},
	}
	for _, tc := range cases {
		if got := Clamp(tc.in); got != tc.want {
			t.Errorf("Clamp(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
