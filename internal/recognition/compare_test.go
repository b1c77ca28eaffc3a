package recognition

import (
	"math"
	"math/rand"
	"testing"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name      string
		a         []float32
		b         []float32
		expected  float64
		tolerance float64
	}{
		{
			name:      "identical vectors",
			a:         []float32{1, 0, 0},
			b:         []float32{1, 0, 0},
			expected:  1.0,
			tolerance: 0.001,
		},
		{
			name:      "scaled vectors",
			a:         []float32{1, 2, 3},
			b:         []float32{10, 20, 30},
			expected:  1.0,
			tolerance: 0.001,
		},
		{
			name:      "orthogonal vectors",
			a:         []float32{1, 0, 0},
			b:         []float32{0, 1, 0},
			expected:  0.0,
			tolerance: 0.001,
		},
		{
			name:      "opposite vectors",
			a:         []float32{1, 0, 0},
			b:         []float32{-1, 0, 0},
			expected:  -1.0,
			tolerance: 0.001,
		},
		{
			name:      "length mismatch",
			a:         []float32{1, 0},
			b:         []float32{1, 0, 0},
			expected:  0.0,
			tolerance: 0,
		},
		{
			name:      "zero vector",
			a:         []float32{0, 0, 0},
			b:         []float32{1, 0, 0},
			expected:  0.0,
			tolerance: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Similarity(tt.a, tt.b)
			if diff := math.Abs(result - tt.expected); diff > tt.tolerance {
				t.Errorf("Expected %.3f, got %.3f (diff: %.3f)", tt.expected, result, diff)
			}
		})
	}
}

func TestCompareDegenerateInput(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
	}{
		{"nil", nil, []float32{1, 2}},
		{"both empty", []float32{}, []float32{}},
		{"zero norm", []float32{0, 0}, []float32{0, 0}},
		{"length mismatch", []float32{1, 2, 3}, []float32{1, 2}},
		{"nan", []float32{float32(math.NaN()), 1}, []float32{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A negative threshold would accept anything that got through
			match, sim := Compare(tt.a, tt.b, -1)
			if match || sim != 0 {
				t.Errorf("Expected (false, 0), got (%v, %f)", match, sim)
			}
		})
	}
}

func TestCompareIsReflexive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		v := make([]float32, 512)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}

		match, sim := Compare(v, v, 0.999)
		if math.Abs(sim-1) > 1e-6 {
			t.Fatalf("Expected similarity ~1, got %f", sim)
		}
		if !match {
			t.Fatalf("Expected match for identical vectors at threshold 0.999")
		}
	}
}

func TestCompareThresholdIsStrict(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0.62, float32(math.Sqrt(1 - 0.62*0.62))}

	match, sim := Compare(a, b, 0.6)
	if !match {
		t.Errorf("Expected match at similarity %.3f", sim)
	}
	if math.Abs(sim-0.62) > 1e-6 {
		t.Errorf("Expected similarity 0.62, got %f", sim)
	}

	if match, _ := Compare(a, a, 1.0); match {
		t.Error("Expected no match when similarity equals threshold")
	}
}

func TestBestMatch(t *testing.T) {
	probe := []float32{1, 0, 0}
	candidates := [][]float32{
		{0, 1, 0},
		{0.9, 0.1, 0},
		{1, 0},
		{0, 0, 0},
	}

	idx, score := BestMatch(probe, candidates)
	if idx != 1 {
		t.Errorf("Expected candidate 1, got %d", idx)
	}
	if score < 0.99 {
		t.Errorf("Expected high score, got %f", score)
	}

	if idx, _ := BestMatch(probe, [][]float32{{0, 0, 0}}); idx != -1 {
		t.Errorf("Expected no comparable candidate, got %d", idx)
	}
}
