// Package stitch reconciles independently segmented tile label maps into one
// globally consistent whole-image label map. Correspondence detection compares
// labels inside the overlap band of each adjacent tile pair; reconciliation
// resolves the resulting "same object" relation with union-find and composes
// the final map from tile core regions only, which removes seam duplication
// without any pixel voting or blending.
package stitch

import (
	"fmt"
	"sort"

	"segstitch/internal/models"
	"segstitch/pkg/grid"
)

// Options configures correspondence detection.
type Options struct {
	// MinOverlapPixels is the minimum number of co-occurring overlap-band
	// pixels required before two tile-local labels are considered the same
	// object. It suppresses spurious matches from distinct objects that
	// merely touch the seam.
	MinOverlapPixels int

	// MinOverlapFraction additionally requires the co-occurrence count to
	// reach this fraction of the smaller side's band-resident area, in
	// [0, 1]. Zero disables the fractional test.
	MinOverlapFraction float64
}

// DefaultOptions returns the detection thresholds used by the CLI.
func DefaultOptions() Options {
	return Options{
		MinOverlapPixels:   5,
		MinOverlapFraction: 0.5,
	}
}

// Edge asserts that a local label in tile A and a local label in tile B
// denote the same physical object, discovered via spatial overlap.
type Edge struct {
	TileA  int
	LabelA int32
	TileB  int
	LabelB int32

	// OverlapPixels is the number of band pixels where both labels co-occur
	OverlapPixels int
}

// labelPair keys a contingency-table cell for one adjacent tile pair.
type labelPair struct {
	a int32
	b int32
}

// FindCorrespondences builds the correspondence graph between tile-local
// labels across every cardinally adjacent tile pair of the grid.
//
// For each pair it intersects the two full regions, reads both tiles' labels
// at every band pixel, and counts co-occurrences per (labelA, labelB) pair,
// excluding background on either side. Pairs whose count passes both Options
// thresholds become edges. When one label overlaps several labels on the
// other side above threshold, an edge is emitted for each: the reconciler
// merges all of them transitively, preferring under-splitting at stitch time
// over introducing spurious new boundaries.
//
// Tiles absent from maps (failed tiles) contribute no edges. The result is
// deterministic: pairs are visited in grid order and edges within a pair are
// sorted by (LabelA, LabelB). Tile data is never mutated.
func FindCorrespondences(maps map[int]*models.LabelMap, g *grid.Grid, opts Options) ([]Edge, error) {
	var edges []Edge

	for _, pair := range g.AdjacentPairs() {
		mapA, okA := maps[pair.A]
		mapB, okB := maps[pair.B]
		if !okA || !okB {
			continue
		}

		specA := g.Tiles[pair.A]
		specB := g.Tiles[pair.B]
		if err := checkShape(mapA, specA); err != nil {
			return nil, err
		}
		if err := checkShape(mapB, specB); err != nil {
			return nil, err
		}

		band, ok := specA.Full.Intersect(specB.Full)
		if !ok {
			continue
		}

		// Contingency table over the band, plus each side's per-label
		// band-resident area for the fractional threshold.
		counts := make(map[labelPair]int)
		areaA := make(map[int32]int)
		areaB := make(map[int32]int)

		for y := band.Y; y < band.Y+band.Height; y++ {
			for x := band.X; x < band.X+band.Width; x++ {
				la := mapA.At(x-specA.Full.X, y-specA.Full.Y)
				lb := mapB.At(x-specB.Full.X, y-specB.Full.Y)
				if la != 0 {
					areaA[la]++
				}
				if lb != 0 {
					areaB[lb]++
				}
				if la != 0 && lb != 0 {
					counts[labelPair{a: la, b: lb}]++
				}
			}
		}

		pairEdges := make([]Edge, 0, len(counts))
		for lp, n := range counts {
			if n < opts.MinOverlapPixels {
				continue
			}
			smaller := min(areaA[lp.a], areaB[lp.b])
			if opts.MinOverlapFraction > 0 && float64(n) < opts.MinOverlapFraction*float64(smaller) {
				continue
			}
			pairEdges = append(pairEdges, Edge{
				TileA:         pair.A,
				LabelA:        lp.a,
				TileB:         pair.B,
				LabelB:        lp.b,
				OverlapPixels: n,
			})
		}

		sort.Slice(pairEdges, func(i, j int) bool {
			if pairEdges[i].LabelA != pairEdges[j].LabelA {
				return pairEdges[i].LabelA < pairEdges[j].LabelA
			}
			return pairEdges[i].LabelB < pairEdges[j].LabelB
		})
		edges = append(edges, pairEdges...)
	}

	return edges, nil
}

// checkShape verifies a tile label map matches its spec's full region.
func checkShape(m *models.LabelMap, spec grid.TileSpec) error {
	if m.Width != spec.Full.Width || m.Height != spec.Full.Height {
		return fmt.Errorf("%w: tile %d label map is %dx%d, expected %dx%d",
			ErrReconciliation, spec.ID, m.Width, m.Height, spec.Full.Width, spec.Full.Height)
	}
	return nil
}
