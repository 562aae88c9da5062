package reid

import (
	"database/sql"
	"fmt"

	"github.com/sentrywatch/sentrywatch/pkg/store"
)

// Cluster is an in-event grouping of features by intra-threshold
// similarity, ordered by creation.
type Cluster struct {
	// Representative is the cluster's first-added feature; gallery
	// reconciliation compares against this vector alone.
	Representative []float32
	Features       [][]float32
}

// Dedup drops byte-identical feature vectors, keeping the first occurrence.
func Dedup(features [][]float32) [][]float32 {
	seen := make([]string, 0, len(features))
	out := make([][]float32, 0, len(features))
	for _, f := range features {
		key := string(store.EncodeFeature(f))
		duplicate := false
		for _, s := range seen {
			if s == key {
				duplicate = true
				break
			}
		}
		if !duplicate {
			seen = append(seen, key)
			out = append(out, f)
		}
	}
	return out
}

// IntraEventClusters groups a deduplicated feature list into clusters: each
// surviving feature is compared by cosine similarity to the representative
// of every existing cluster; it joins the cluster with the highest
// similarity if that similarity is >= threshold, else it seeds a new
// cluster.
func IntraEventClusters(features [][]float32, threshold float64) []Cluster {
	var clusters []Cluster
	for _, f := range features {
		bestIdx := -1
		bestSim := -1.0
		for i, c := range clusters {
			sim := CosineSimilarity(f, c.Representative)
			if sim > bestSim {
				bestSim = sim
				bestIdx = i
			}
		}
		if bestIdx >= 0 && bestSim >= threshold {
			clusters[bestIdx].Features = append(clusters[bestIdx].Features, f)
			continue
		}
		clusters = append(clusters, Cluster{Representative: f, Features: [][]float32{f}})
	}
	return clusters
}

// Gallery performs gallery reconciliation against a durable person store:
// matching intra-event clusters against the existing Person set by best
// cosine similarity, merging matches, creating new Persons for the rest,
// and committing the whole batch in one transaction.
type Gallery struct {
	store                *store.Store
	personMatchThreshold float64
}

// NewGallery constructs a Gallery. personMatchThreshold is the required,
// no-default gallery match threshold, typically in the 0.94-0.96 range.
func NewGallery(s *store.Store, personMatchThreshold float64) *Gallery {
	return &Gallery{store: s, personMatchThreshold: personMatchThreshold}
}

// Reconcile runs the full two-level algorithm for one event's feature list:
// dedup, intra-event clustering at intraThreshold, gallery matching, merge,
// and a single commit. It returns the Person id of the first cluster's
// final identity, or 0 when no features were provided or the transaction
// rolled back.
//
// On any error the transaction is rolled back in full: no Person or
// PersonFeature rows are committed for this event.
func (g *Gallery) Reconcile(now float64, rawFeatures [][]float32, intraThreshold float64) (int64, error) {
	deduped := Dedup(rawFeatures)
	if len(deduped) == 0 {
		return 0, nil
	}

	clusters := IntraEventClusters(deduped, intraThreshold)

	existing, err := g.store.AllPersonsWithFeatures()
	if err != nil {
		return 0, fmt.Errorf("reid: loading gallery snapshot: %w", err)
	}

	var firstPersonID int64
	mergedThisEvent := map[int64]bool{}

	err = g.store.WithTx(func(tx *sql.Tx) error {
		for i, c := range clusters {
			personID, matched := bestMatch(c.Representative, existing, g.personMatchThreshold)

			var assigned int64
			if matched {
				if mergedThisEvent[personID] {
					if err := store.AddFeatures(tx, personID, c.Features); err != nil {
						return err
					}
				} else {
					if err := store.MergePerson(tx, personID, now, c.Features); err != nil {
						return err
					}
					mergedThisEvent[personID] = true
				}
				assigned = personID
			} else {
				newID, err := store.CreatePerson(tx, now, c.Features)
				if err != nil {
					return err
				}
				assigned = newID
			}

			if i == 0 {
				firstPersonID = assigned
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reid: gallery transaction: %w", err)
	}

	return firstPersonID, nil
}

// bestMatch finds the Person maximizing max-cosine-over-features against
// representative. It returns matched=false when the gallery is empty or no
// Person reaches threshold.
func bestMatch(representative []float32, gallery map[int64][]store.PersonFeature, threshold float64) (personID int64, matched bool) {
	bestSim := -1.0
	var bestID int64
	for pid, features := range gallery {
		for _, pf := range features {
			sim := CosineSimilarity(representative, pf.Feature)
			if sim > bestSim {
				bestSim = sim
				bestID = pid
			}
		}
	}
	if bestSim >= threshold {
		return bestID, true
	}
	return 0, false
}
