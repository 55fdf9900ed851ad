package models

import (
	"fmt"
	"time"
)

// Image is an in-memory pixel array with one or more channels.
// Pixel data is stored row-major as (y*Width+x)*Channels + c.
// The stitching core treats images as immutable; they are owned by the caller.
type Image struct {
	// Width and Height are the image dimensions in pixels
	Width  int
	Height int

	// Channels is the number of interleaved channels per pixel.
	// Microscopy inputs carry 1 (nuclear only) or 2 (nuclear, membrane).
	Channels int

	// Pix holds the interleaved pixel values
	Pix []float64
}

// NewImage allocates a zeroed image with the given dimensions.
func NewImage(width, height, channels int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float64, width*height*channels),
	}
}

// At returns the value of channel c at (x, y).
func (im *Image) At(x, y, c int) float64 {
	return im.Pix[(y*im.Width+x)*im.Channels+c]
}

// Set stores v into channel c at (x, y).
func (im *Image) Set(x, y, c int, v float64) {
	im.Pix[(y*im.Width+x)*im.Channels+c] = v
}

// SubImage copies the rectangle [x, x+width) x [y, y+height) into a new image.
// The rectangle must lie within the image bounds.
func (im *Image) SubImage(x, y, width, height int) (*Image, error) {
	if x < 0 || y < 0 || width <= 0 || height <= 0 ||
		x+width > im.Width || y+height > im.Height {
		return nil, fmt.Errorf("sub-image %dx%d at (%d,%d) exceeds image bounds %dx%d",
			width, height, x, y, im.Width, im.Height)
	}

	sub := NewImage(width, height, im.Channels)
	for row := 0; row < height; row++ {
		srcOff := ((y+row)*im.Width + x) * im.Channels
		dstOff := row * width * im.Channels
		copy(sub.Pix[dstOff:dstOff+width*im.Channels], im.Pix[srcOff:srcOff+width*im.Channels])
	}
	return sub, nil
}

// LabelMap is an integer object-label array. Label 0 is background;
// labels 1..N identify distinct objects. For a tile-local map the labels
// are meaningful only within that tile until reconciled into global labels.
type LabelMap struct {
	Width  int
	Height int
	Pix    []int32
}

// NewLabelMap allocates a background-filled label map.
func NewLabelMap(width, height int) *LabelMap {
	return &LabelMap{
		Width:  width,
		Height: height,
		Pix:    make([]int32, width*height),
	}
}

// At returns the label at (x, y).
func (m *LabelMap) At(x, y int) int32 {
	return m.Pix[y*m.Width+x]
}

// Set stores label v at (x, y).
func (m *LabelMap) Set(x, y int, v int32) {
	m.Pix[y*m.Width+x] = v
}

// MaxLabel returns the largest label present in the map.
func (m *LabelMap) MaxLabel() int32 {
	var max int32
	for _, v := range m.Pix {
		if v > max {
			max = v
		}
	}
	return max
}

// CountLabels returns the number of distinct non-background labels present.
func (m *LabelMap) CountLabels() int {
	seen := make(map[int32]struct{})
	for _, v := range m.Pix {
		if v != 0 {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

// Summary is the diagnostic report accompanying a stitched label map.
// A run that produced a map always returns a summary; FailedTileIDs being
// non-empty is a warning, not an error.
type Summary struct {
	// FailedTileIDs lists tiles whose segmentation failed. Their core
	// regions are background in the final map.
	FailedTileIDs []int

	// CoreAbsentObjectCount is the number of equivalence classes whose
	// every member lies entirely inside overlap bands and touches no
	// tile's core region. Such objects are dropped from the final map.
	CoreAbsentObjectCount int

	// ObjectCount is the number of global labels in the final map.
	ObjectCount int

	// TileObjectCount is the total number of tile-local objects before
	// reconciliation, summed over all successfully segmented tiles.
	TileObjectCount int

	// PixelsLabeled is the number of non-background pixels in the final map.
	PixelsLabeled int

	// Elapsed is the wall-clock duration of the full run.
	Elapsed time.Duration
}
