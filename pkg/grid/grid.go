// Package grid plans covering grids of overlapping tiles for large images.
// It computes tile geometry only; pixel data handling is limited to extracting
// a planned tile's region from an in-memory image.
package grid

import (
	"errors"
	"fmt"

	"segstitch/internal/models"
)

// ErrInvalidGeometry reports unusable tiling parameters: a non-positive image
// dimension, a negative overlap, or a tile size not strictly larger than the
// overlap. Planning fails before any tile work starts.
var ErrInvalidGeometry = errors.New("invalid tile geometry")

// Rect is an axis-aligned integer rectangle.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Contains returns true if the other rectangle lies entirely within r.
func (r Rect) Contains(other Rect) bool {
	return other.X >= r.X && other.Y >= r.Y &&
		other.X+other.Width <= r.X+r.Width &&
		other.Y+other.Height <= r.Y+r.Height
}

// Intersect returns the intersection of two rectangles and whether it is
// non-empty.
func (r Rect) Intersect(other Rect) (Rect, bool) {
	x1 := max(r.X, other.X)
	y1 := max(r.Y, other.Y)
	x2 := min(r.X+r.Width, other.X+other.Width)
	y2 := min(r.Y+r.Height, other.Y+other.Height)
	if x2 <= x1 || y2 <= y1 {
		return Rect{}, false
	}
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}

// Area returns the rectangle's area in pixels.
func (r Rect) Area() int {
	return r.Width * r.Height
}

// TileSpec describes one planned tile.
//
// Full is the overlap-inclusive extraction region handed to the segmentation
// function. Core is the sub-region owned exclusively by this tile: the cores
// of all tiles partition the image exactly, and only core pixels are written
// into the final stitched map.
type TileSpec struct {
	// ID is the tile's position in planning order (row-major, starting at 0)
	ID int

	// Row and Col are the tile's coordinates in the core grid
	Row int
	Col int

	// Full is the overlap-inclusive extraction region, clamped to the image
	Full Rect

	// Core is the exclusively owned sub-region of Full
	Core Rect
}

// Grid is a planned tiling of an image.
type Grid struct {
	// ImageWidth and ImageHeight are the dimensions of the tiled image
	ImageWidth  int
	ImageHeight int

	// TileSize and Overlap are the parameters the grid was planned with
	TileSize int
	Overlap  int

	// Rows and Cols are the core-grid dimensions
	Rows int
	Cols int

	// Tiles holds all tile specs in planning order, indexed by TileSpec.ID
	Tiles []TileSpec
}

// AdjacentPair references two cardinally adjacent tiles by ID. A is always
// the lower tile ID. Diagonal neighbours are not paired: an object crossing
// only a corner also crosses the two cardinal overlap bands meeting there.
type AdjacentPair struct {
	A int
	B int
}

// Plan lays out a covering grid of overlapping tiles for an image of the
// given dimensions.
//
// Core regions are placed on a regular grid with step coreSize = tileSize -
// overlap, starting at the origin; the last row and column are clamped to
// the remaining image extent, so edge cores may be narrower than coreSize
// but never extend past the image. Each full region is its core expanded by
// overlap on every side where the image boundary permits; at the boundary
// the full region stops at the image edge, giving edge tiles a smaller
// effective overlap on that side. This asymmetry is expected and handled
// uniformly downstream.
//
// Plan returns ErrInvalidGeometry when tileSize <= overlap, overlap < 0, or
// either image dimension is non-positive. Planning is deterministic:
// identical inputs yield identical tile ordering and specs.
func Plan(imageWidth, imageHeight, tileSize, overlap int) (*Grid, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return nil, fmt.Errorf("%w: image dimensions %dx%d must be positive",
			ErrInvalidGeometry, imageWidth, imageHeight)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap %d must be non-negative", ErrInvalidGeometry, overlap)
	}
	if tileSize <= overlap {
		return nil, fmt.Errorf("%w: tile size %d must exceed overlap %d",
			ErrInvalidGeometry, tileSize, overlap)
	}

	coreSize := tileSize - overlap
	cols := (imageWidth + coreSize - 1) / coreSize
	rows := (imageHeight + coreSize - 1) / coreSize

	g := &Grid{
		ImageWidth:  imageWidth,
		ImageHeight: imageHeight,
		TileSize:    tileSize,
		Overlap:     overlap,
		Rows:        rows,
		Cols:        cols,
		Tiles:       make([]TileSpec, 0, rows*cols),
	}

	for row := 0; row < rows; row++ {
		coreY := row * coreSize
		coreH := min(coreSize, imageHeight-coreY)

		for col := 0; col < cols; col++ {
			coreX := col * coreSize
			coreW := min(coreSize, imageWidth-coreX)

			if coreW <= 0 || coreH <= 0 {
				return nil, fmt.Errorf("%w: tile (%d,%d) has non-positive core %dx%d",
					ErrInvalidGeometry, row, col, coreW, coreH)
			}

			fullX := max(0, coreX-overlap)
			fullY := max(0, coreY-overlap)
			fullX2 := min(imageWidth, coreX+coreW+overlap)
			fullY2 := min(imageHeight, coreY+coreH+overlap)

			g.Tiles = append(g.Tiles, TileSpec{
				ID:   row*cols + col,
				Row:  row,
				Col:  col,
				Full: Rect{X: fullX, Y: fullY, Width: fullX2 - fullX, Height: fullY2 - fullY},
				Core: Rect{X: coreX, Y: coreY, Width: coreW, Height: coreH},
			})
		}
	}

	return g, nil
}

// Tile returns the spec at the given core-grid coordinates.
func (g *Grid) Tile(row, col int) TileSpec {
	return g.Tiles[row*g.Cols+col]
}

// AdjacentPairs enumerates every pair of cardinally adjacent tiles, each pair
// once, in ascending order of the first tile's ID. For each tile this yields
// its right neighbour and its lower neighbour when they exist.
func (g *Grid) AdjacentPairs() []AdjacentPair {
	pairs := make([]AdjacentPair, 0, 2*len(g.Tiles))
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			id := g.Tile(row, col).ID
			if col+1 < g.Cols {
				pairs = append(pairs, AdjacentPair{A: id, B: g.Tile(row, col+1).ID})
			}
			if row+1 < g.Rows {
				pairs = append(pairs, AdjacentPair{A: id, B: g.Tile(row+1, col).ID})
			}
		}
	}
	return pairs
}

// Tile couples a spec with the pixel data extracted for its full region.
type Tile struct {
	Spec  TileSpec
	Image *models.Image
}

// Extract copies the spec's full region out of the source image. The source
// must match the dimensions the grid was planned for.
func Extract(img *models.Image, spec TileSpec) (*Tile, error) {
	sub, err := img.SubImage(spec.Full.X, spec.Full.Y, spec.Full.Width, spec.Full.Height)
	if err != nil {
		return nil, fmt.Errorf("extracting tile %d: %v", spec.ID, err)
	}
	return &Tile{Spec: spec, Image: sub}, nil
}
