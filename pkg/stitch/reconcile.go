package stitch

import (
	"errors"
	"fmt"
	"sort"

	"segstitch/internal/models"
	"segstitch/pkg/grid"
)

// ErrReconciliation reports an internal pipeline inconsistency discovered
// while reconciling, such as a correspondence edge referencing a tile that
// has no label map. The global map cannot be trusted, so reconciliation
// aborts with no output.
var ErrReconciliation = errors.New("reconciliation failed")

// Diagnostics summarizes a reconciliation.
type Diagnostics struct {
	// ObjectCount is the number of global labels written to the final map
	ObjectCount int

	// CoreAbsentObjectCount counts equivalence classes confined entirely to
	// overlap bands, with no pixel in any member tile's core. Those objects
	// are absent from the final map; the count surfaces the loss instead of
	// silently miscounting.
	CoreAbsentObjectCount int

	// TileObjectCount is the number of tile-local objects before merging
	TileObjectCount int

	// PixelsLabeled is the number of non-background pixels in the final map
	PixelsLabeled int
}

// node identifies one tile-local object.
type node struct {
	tileID int
	label  int32
}

// unionFind is an arena-indexed disjoint-set forest with path compression
// and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}

// Reconcile resolves the correspondence graph into global equivalence classes
// and writes the final whole-image label map.
//
// Every (tileID, localLabel) pair appearing as non-background in any tile map
// becomes a node; correspondence edges connect nodes, and connected components
// are the equivalence classes. Each class with at least one pixel inside a
// member tile's core region receives a dense global label; assignment order is
// ascending tile ID then ascending local label, so identical inputs always
// yield identical global IDs. The final map is composed by writing each tile's
// core region only, translating local labels through their class; overlap-band
// pixels are never written, which is what removes seam duplicates. Tiles with
// no map (failed tiles) leave their cores as background.
//
// Reconcile returns ErrReconciliation when an edge references a tile absent
// from maps, an edge references a label absent from its tile's map, or a map's
// shape disagrees with its spec.
func Reconcile(maps map[int]*models.LabelMap, edges []Edge, g *grid.Grid) (*models.LabelMap, *Diagnostics, error) {
	// Node arena in deterministic order: tiles ascending by ID, labels
	// ascending within each tile. corePresence marks nodes with at least
	// one pixel inside their own tile's core.
	var nodes []node
	nodeIndex := make(map[node]int)
	var corePresence []bool

	for _, spec := range g.Tiles {
		m, ok := maps[spec.ID]
		if !ok {
			continue
		}
		if err := checkShape(m, spec); err != nil {
			return nil, nil, err
		}

		inCore := make(map[int32]bool)
		seen := make(map[int32]bool)
		for y := 0; y < m.Height; y++ {
			for x := 0; x < m.Width; x++ {
				label := m.At(x, y)
				if label == 0 {
					continue
				}
				seen[label] = true
				ax := x + spec.Full.X
				ay := y + spec.Full.Y
				if ax >= spec.Core.X && ax < spec.Core.X+spec.Core.Width &&
					ay >= spec.Core.Y && ay < spec.Core.Y+spec.Core.Height {
					inCore[label] = true
				}
			}
		}

		labels := make([]int32, 0, len(seen))
		for label := range seen {
			labels = append(labels, label)
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

		for _, label := range labels {
			n := node{tileID: spec.ID, label: label}
			nodeIndex[n] = len(nodes)
			nodes = append(nodes, n)
			corePresence = append(corePresence, inCore[label])
		}
	}

	uf := newUnionFind(len(nodes))
	for _, e := range edges {
		ia, err := lookupNode(nodeIndex, maps, e.TileA, e.LabelA)
		if err != nil {
			return nil, nil, err
		}
		ib, err := lookupNode(nodeIndex, maps, e.TileB, e.LabelB)
		if err != nil {
			return nil, nil, err
		}
		uf.union(ia, ib)
	}

	// A class is present in the final map if any member touches a core.
	classCore := make(map[int]bool)
	for i := range nodes {
		if corePresence[i] {
			classCore[uf.find(i)] = true
		}
	}

	// Dense global labels in first-encountered arena order; core-absent
	// classes get no label and are counted instead.
	globalLabel := make(map[int]int32)
	diag := &Diagnostics{TileObjectCount: len(nodes)}
	var next int32 = 1
	for i := range nodes {
		root := uf.find(i)
		if _, done := globalLabel[root]; done {
			continue
		}
		if classCore[root] {
			globalLabel[root] = next
			next++
		} else {
			globalLabel[root] = 0
			diag.CoreAbsentObjectCount++
		}
	}
	diag.ObjectCount = int(next) - 1

	// Compose the final map from core regions only. Cores partition the
	// image, so no pixel is written twice.
	out := models.NewLabelMap(g.ImageWidth, g.ImageHeight)
	for _, spec := range g.Tiles {
		m, ok := maps[spec.ID]
		if !ok {
			continue
		}
		for y := spec.Core.Y; y < spec.Core.Y+spec.Core.Height; y++ {
			for x := spec.Core.X; x < spec.Core.X+spec.Core.Width; x++ {
				local := m.At(x-spec.Full.X, y-spec.Full.Y)
				if local == 0 {
					continue
				}
				global := globalLabel[uf.find(nodeIndex[node{tileID: spec.ID, label: local}])]
				if global == 0 {
					continue
				}
				out.Set(x, y, global)
				diag.PixelsLabeled++
			}
		}
	}

	return out, diag, nil
}

// lookupNode resolves an edge endpoint to its arena index, distinguishing a
// missing tile from a missing label for error reporting.
func lookupNode(nodeIndex map[node]int, maps map[int]*models.LabelMap, tileID int, label int32) (int, error) {
	if _, ok := maps[tileID]; !ok {
		return 0, fmt.Errorf("%w: correspondence edge references tile %d with no label map",
			ErrReconciliation, tileID)
	}
	idx, ok := nodeIndex[node{tileID: tileID, label: label}]
	if !ok {
		return 0, fmt.Errorf("%w: correspondence edge references label %d absent from tile %d",
			ErrReconciliation, label, tileID)
	}
	return idx, nil
}
