package tagging

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Epsilon absorbs floating point noise in cosine distances, so identical
// vectors still merge at a threshold of zero.
const Epsilon = 1e-9

// validateThreshold rejects negative, NaN and infinite distance thresholds
func validateThreshold(distanceThreshold float64) error {
	if math.IsNaN(distanceThreshold) || math.IsInf(distanceThreshold, 0) || distanceThreshold < 0 {
		return fmt.Errorf("%w: distance threshold must be a non-negative number, got %v", ErrClustering, distanceThreshold)
	}
	return nil
}

// Cluster groups embeddings by agglomerative clustering over cosine distance
// with average linkage. The closest pair of clusters is merged until the
// smallest inter-cluster distance exceeds distanceThreshold. It returns one
// label per embedding; labels are numbered in order of first appearance.
func Cluster(embeddings []Embedding, distanceThreshold float64) ([]int, error) {
	if err := validateThreshold(distanceThreshold); err != nil {
		return nil, err
	}

	n := len(embeddings)
	switch n {
	case 0:
		return []int{}, nil
	case 1:
		return []int{0}, nil
	}

	if err := validateEmbeddings(embeddings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClustering, err)
	}

	dist := cosineDistances(embeddings)

	// owner[i] is the index of the cluster item i currently belongs to.
	// Clusters are identified by the lowest item index they contain.
	owner := make([]int, n)
	members := make([][]int, n)
	alive := make([]bool, n)
	for i := range embeddings {
		owner[i] = i
		members[i] = []int{i}
		alive[i] = true
	}

	limit := distanceThreshold + Epsilon
	for {
		best := math.Inf(1)
		bi, bj := -1, -1
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if alive[j] && dist[i][j] < best {
					best = dist[i][j]
					bi, bj = i, j
				}
			}
		}
		if bi < 0 || best > limit {
			break
		}

		si, sj := float64(len(members[bi])), float64(len(members[bj]))
		for k := 0; k < n; k++ {
			if !alive[k] || k == bi || k == bj {
				continue
			}
			d := (si*dist[bi][k] + sj*dist[bj][k]) / (si + sj)
			dist[bi][k] = d
			dist[k][bi] = d
		}
		for _, m := range members[bj] {
			owner[m] = bi
		}
		members[bi] = append(members[bi], members[bj]...)
		members[bj] = nil
		alive[bj] = false
	}

	labels := make([]int, n)
	labelOf := make(map[int]int)
	for i := range embeddings {
		label, ok := labelOf[owner[i]]
		if !ok {
			label = len(labelOf)
			labelOf[owner[i]] = label
		}
		labels[i] = label
	}
	return labels, nil
}

// cosineDistances returns the full symmetric matrix of 1 - cos(a, b), clamped to [0, 2]
func cosineDistances(embeddings []Embedding) [][]float64 {
	n := len(embeddings)
	units := make([][]float64, n)
	for i, e := range embeddings {
		units[i] = unit(e)
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := 1 - floats.Dot(units[i], units[j])
			d = math.Max(0, math.Min(2, d))
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// Groups collects items by label, keeping item order inside each group and
// ordering groups by label.
func Groups(items []string, labels []int) [][]string {
	count := 0
	for _, l := range labels {
		if l+1 > count {
			count = l + 1
		}
	}
	groups := make([][]string, count)
	for i, item := range items {
		groups[labels[i]] = append(groups[labels[i]], item)
	}
	return groups
}
