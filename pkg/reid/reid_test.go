package reid

import (
	"math"
	"testing"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float32{1, 0, 0}
	if sim := CosineSimilarity(a, a); !approxEqual(sim, 1, 1e-9) {
		t.Errorf("expected similarity 1 for identical vectors, got %f", sim)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if sim := CosineSimilarity(a, b); !approxEqual(sim, 0, 1e-9) {
		t.Errorf("expected similarity 0 for orthogonal vectors, got %f", sim)
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	a := []float32{0, 0}
	b := []float32{1, 1}
	if sim := CosineSimilarity(a, b); sim != 0 {
		t.Errorf("expected similarity 0 when a vector is zero, got %f", sim)
	}
}

func TestCentralizeMutualKNNSkipsWhenTooFewFeatures(t *testing.T) {
	features := map[int][]float32{
		1: {1, 0},
		2: {0, 1},
	}
	out := CentralizeMutualKNN(features, 2, 2)
	for id, f := range out {
		for i, v := range f {
			if v != features[id][i] {
				t.Fatalf("expected unchanged features when below k1+1 threshold, got %+v", out)
			}
		}
	}
}

func TestCentralizeMutualKNNSumsMutualNeighbors(t *testing.T) {
	// With k1=k2=2 over exactly 3 features, every feature's neighborhood is
	// the other two, so mutuality is trivial and each output must equal the
	// element-wise sum of all three inputs.
	features := map[int][]float32{
		1: {1, 0},
		2: {1, 0.01},
		3: {1, -0.01},
	}
	out := CentralizeMutualKNN(features, 2, 2)

	wantX := features[1][0] + features[2][0] + features[3][0]
	wantY := features[1][1] + features[2][1] + features[3][1]

	if len(out) != 3 {
		t.Fatalf("expected 3 output features, got %d", len(out))
	}
	for id, f := range out {
		if !approxEqual(float64(f[0]), float64(wantX), 1e-6) || !approxEqual(float64(f[1]), float64(wantY), 1e-6) {
			t.Errorf("expected feature %d to equal sum of all three inputs %v,%v, got %+v", id, wantX, wantY, f)
		}
	}
}

func TestCentralizeMutualKNNRequiresMutuality(t *testing.T) {
	// Feature 1's nearest neighbor is 2, but 2's nearest neighbor is 3 (not
	// 1), so with k1=k2=1 the relationship 1->2 is not mutual and 1 should
	// be returned unmodified.
	features := map[int][]float32{
		1: {1, 0},
		2: {0.9, 0.1},
		3: {0.89, 0.11},
	}
	out := CentralizeMutualKNN(features, 1, 1)
	f1 := out[1]
	if f1[0] != features[1][0] || f1[1] != features[1][1] {
		t.Errorf("expected feature 1 unchanged without mutual neighbor, got %+v", f1)
	}
}
