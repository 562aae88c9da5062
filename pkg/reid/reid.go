// Package reid implements the re-identification gallery: cosine similarity,
// mutual-kNN neighbor-feature centralization, two-level clustering, and
// threshold-based gallery reconciliation.
package reid

import "math"

// CosineSimilarity returns the cosine similarity of two equal-length feature
// vectors. Two zero vectors are defined to have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DefaultK1 and DefaultK2 are the default mutual-kNN neighborhood sizes.
const (
	DefaultK1 = 2
	DefaultK2 = 2
)

// CentralizeMutualKNN applies neighbor-feature centralization to an in-frame
// feature set keyed by track id: for each feature i, find its k1 nearest
// neighbors by cosine similarity; keep only the neighbors j for which i is
// also within j's top-k2 neighbors (mutual-kNN); sum feature i with its
// mutual neighbors, with no re-normalization afterward. If fewer than k1+1
// features are present, the input is returned unchanged.
func CentralizeMutualKNN(features map[int][]float32, k1, k2 int) map[int][]float32 {
	if len(features) < k1+1 {
		return features
	}

	ids := make([]int, 0, len(features))
	for id := range features {
		ids = append(ids, id)
	}

	neighbors := make(map[int][]int, len(ids))
	for _, i := range ids {
		neighbors[i] = nearestNeighbors(i, ids, features, k1)
	}
	// j's top-k2 neighborhood, recomputed with k2 (may differ from k1).
	topK2 := make(map[int][]int, len(ids))
	for _, j := range ids {
		topK2[j] = nearestNeighbors(j, ids, features, k2)
	}

	out := make(map[int][]float32, len(features))
	for _, i := range ids {
		sum := append([]float32(nil), features[i]...)
		for _, j := range neighbors[i] {
			if !contains(topK2[j], i) {
				continue
			}
			for k := range sum {
				if k < len(features[j]) {
					sum[k] += features[j][k]
				}
			}
		}
		out[i] = sum
	}
	return out
}

func nearestNeighbors(i int, ids []int, features map[int][]float32, k int) []int {
	type scored struct {
		id  int
		sim float64
	}
	candidates := make([]scored, 0, len(ids)-1)
	for _, j := range ids {
		if j == i {
			continue
		}
		candidates = append(candidates, scored{id: j, sim: CosineSimilarity(features[i], features[j])})
	}
	// Simple selection sort: candidate sets are small (bounded by
	// max_detections per frame), so O(n^2) is not a concern.
	for a := 0; a < len(candidates) && a < k; a++ {
		best := a
		for b := a + 1; b < len(candidates); b++ {
			if candidates[b].sim > candidates[best].sim {
				best = b
			}
		}
		candidates[a], candidates[best] = candidates[best], candidates[a]
	}
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]int, k)
	for idx := 0; idx < k; idx++ {
		out[idx] = candidates[idx].id
	}
	return out
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
