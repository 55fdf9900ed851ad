package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"segstitch/internal/models"
	"segstitch/pkg/grid"
	"segstitch/pkg/stitch"
	"segstitch/pkg/threshold"
)

// testParams returns a quiet configuration suitable for small test images.
func testParams() *Params {
	return &Params{
		TileSize:   60,
		Overlap:    20,
		NumWorkers: 4,
		Stitch:     stitch.DefaultOptions(),
	}
}

// drawDisk paints a filled disk of the given intensity into channel 0.
func drawDisk(img *models.Image, cx, cy, radius int, value float64) {
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
				continue
			}
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.Set(x, y, 0, value)
			}
		}
	}
}

// TestDiskAcrossSeam runs the full pipeline on a disk centered exactly on a
// tile seam. With overlap at least the disk radius, the final map must carry
// it as one connected global label.
func TestDiskAcrossSeam(t *testing.T) {
	img := models.NewImage(100, 100, 1)
	// Core size is 40, so seams fall at x=40 and x=80; center the disk on one.
	drawDisk(img, 40, 50, 12, 1.0)

	p := New(testParams(), threshold.Segment)
	labels, summary, err := p.Run(context.Background(), img)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.ObjectCount != 1 {
		t.Fatalf("ObjectCount = %d, expected 1", summary.ObjectCount)
	}
	if len(summary.FailedTileIDs) != 0 {
		t.Fatalf("Unexpected failed tiles: %v", summary.FailedTileIDs)
	}

	want := labels.At(40, 50)
	if want == 0 {
		t.Fatal("Disk center is background")
	}
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			dx, dy := x-40, y-50
			inside := dx*dx+dy*dy <= 12*12
			got := labels.At(x, y)
			if inside && got != want {
				t.Fatalf("Disk pixel (%d,%d) = %d, expected %d", x, y, got, want)
			}
			if !inside && got != 0 {
				t.Fatalf("Background pixel (%d,%d) = %d", x, y, got)
			}
		}
	}
}

// TestSeparateObjectsKeepSeparateLabels verifies two disjoint objects in
// different tiles receive different global labels.
func TestSeparateObjectsKeepSeparateLabels(t *testing.T) {
	img := models.NewImage(100, 100, 1)
	drawDisk(img, 15, 15, 8, 1.0)
	drawDisk(img, 85, 85, 8, 1.0)

	labels, summary, err := New(testParams(), threshold.Segment).Run(context.Background(), img)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.ObjectCount != 2 {
		t.Fatalf("ObjectCount = %d, expected 2", summary.ObjectCount)
	}
	if labels.At(15, 15) == labels.At(85, 85) {
		t.Error("Distinct objects share a global label")
	}
}

// TestTileFailureIsolation verifies one failing tile degrades its core to
// background while the rest of the image is still segmented.
func TestTileFailureIsolation(t *testing.T) {
	img := models.NewImage(100, 100, 1)
	drawDisk(img, 15, 15, 8, 1.0)
	// Poison marker read by the failing segmenter; tile (2,2) owns it.
	img.Set(95, 95, 0, -100)

	segment := func(tile *models.Image) (*models.LabelMap, error) {
		for _, v := range tile.Pix {
			if v == -100 {
				return nil, fmt.Errorf("model rejected tile")
			}
		}
		return threshold.Segment(tile)
	}

	labels, summary, err := New(testParams(), segment).Run(context.Background(), img)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(summary.FailedTileIDs) == 0 {
		t.Fatal("Expected failed tiles in summary")
	}
	if labels.At(15, 15) == 0 {
		t.Error("Object far from the failed tile was lost")
	}
	if labels.At(95, 95) != 0 {
		t.Error("Failed tile core was not written as background")
	}
}

// TestAllTilesFailed verifies a fully failed image aborts with a terminal
// error and no map.
func TestAllTilesFailed(t *testing.T) {
	img := models.NewImage(100, 100, 1)
	segment := func(tile *models.Image) (*models.LabelMap, error) {
		return nil, fmt.Errorf("model unavailable")
	}

	labels, _, err := New(testParams(), segment).Run(context.Background(), img)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !errors.Is(err, ErrAllTilesFailed) {
		t.Errorf("Expected ErrAllTilesFailed, got %v", err)
	}
	if labels != nil {
		t.Error("Expected no map on terminal failure")
	}
}

// TestCancellation verifies a cancelled context aborts the join with
// ErrIncompleteTileSet and never reconciles partial results.
func TestCancellation(t *testing.T) {
	img := models.NewImage(100, 100, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	labels, _, err := New(testParams(), threshold.Segment).Run(ctx, img)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !errors.Is(err, ErrIncompleteTileSet) {
		t.Errorf("Expected ErrIncompleteTileSet, got %v", err)
	}
	if labels != nil {
		t.Error("Expected no map on cancellation")
	}
}

// TestTileTimeout verifies an overrunning segmentation call is converted
// into a per-tile failure.
func TestTileTimeout(t *testing.T) {
	img := models.NewImage(50, 50, 1)
	drawDisk(img, 25, 25, 5, 1.0)

	params := testParams()
	params.TileSize = 60
	params.Overlap = 10
	params.TileTimeout = 10 * time.Millisecond

	segment := func(tile *models.Image) (*models.LabelMap, error) {
		time.Sleep(200 * time.Millisecond)
		return threshold.Segment(tile)
	}

	_, _, err := New(params, segment).Run(context.Background(), img)
	if !errors.Is(err, ErrAllTilesFailed) {
		t.Errorf("Expected the single tile to time out and fail the run, got %v", err)
	}
}

// TestInvalidGeometryPropagates verifies bad tiling parameters fail before
// any segmentation work.
func TestInvalidGeometryPropagates(t *testing.T) {
	img := models.NewImage(100, 100, 1)
	params := testParams()
	params.TileSize = 10
	params.Overlap = 10

	calls := 0
	segment := func(tile *models.Image) (*models.LabelMap, error) {
		calls++
		return threshold.Segment(tile)
	}

	_, _, err := New(params, segment).Run(context.Background(), img)
	if !errors.Is(err, grid.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Segmentation ran %d times despite invalid geometry", calls)
	}
}

// TestRunDeterminism verifies identical input yields identical global label
// assignment regardless of tile completion order.
func TestRunDeterminism(t *testing.T) {
	img := models.NewImage(120, 120, 1)
	drawDisk(img, 20, 20, 9, 1.0)
	drawDisk(img, 60, 60, 9, 1.0)
	drawDisk(img, 100, 30, 9, 1.0)
	drawDisk(img, 30, 100, 9, 1.0)

	first, _, err := New(testParams(), threshold.Segment).Run(context.Background(), img)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, _, err := New(testParams(), threshold.Segment).Run(context.Background(), img)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !reflect.DeepEqual(first.Pix, second.Pix) {
		t.Error("Two runs with identical input differ")
	}
}

// TestNormalize verifies per-channel zero-mean unit-variance normalization
// leaves the caller's image untouched.
func TestNormalize(t *testing.T) {
	img := models.NewImage(10, 10, 2)
	for i := 0; i < 100; i++ {
		img.Pix[i*2] = float64(i)
		img.Pix[i*2+1] = 5.0 // constant channel
	}
	original := make([]float64, len(img.Pix))
	copy(original, img.Pix)

	norm := Normalize(img)

	for c := 0; c < 2; c++ {
		var sum float64
		for i := 0; i < 100; i++ {
			sum += norm.Pix[i*2+c]
		}
		if mean := sum / 100; math.Abs(mean) > 1e-9 {
			t.Errorf("Channel %d mean = %v after normalization", c, mean)
		}
	}

	// Varying channel should have unit sample variance.
	var ss float64
	for i := 0; i < 100; i++ {
		ss += norm.Pix[i*2] * norm.Pix[i*2]
	}
	if std := math.Sqrt(ss / 99); math.Abs(std-1) > 1e-9 {
		t.Errorf("Channel 0 std = %v after normalization", std)
	}

	if !reflect.DeepEqual(original, img.Pix) {
		t.Error("Normalize mutated the input image")
	}
}
