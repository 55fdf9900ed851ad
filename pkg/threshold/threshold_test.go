package threshold

import (
	"testing"

	"segstitch/internal/models"
)

// fillRect paints a rectangle into channel 0.
func fillRect(img *models.Image, x0, y0, x1, y1 int, value float64) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.Set(x, y, 0, value)
		}
	}
}

// TestSegmentTwoObjects verifies two separated bright regions become two
// distinct labels over a dark background.
func TestSegmentTwoObjects(t *testing.T) {
	img := models.NewImage(40, 40, 1)
	fillRect(img, 2, 2, 10, 10, 1.0)
	fillRect(img, 25, 25, 35, 35, 1.0)

	labels, err := Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	if n := labels.CountLabels(); n != 2 {
		t.Fatalf("Expected 2 objects, got %d", n)
	}
	if labels.At(3, 3) == 0 || labels.At(30, 30) == 0 {
		t.Error("Object pixels are background")
	}
	if labels.At(3, 3) == labels.At(30, 30) {
		t.Error("Separated objects share a label")
	}
	if labels.At(20, 20) != 0 {
		t.Error("Background pixel was labeled")
	}
}

// TestSegmentConstantImage verifies a flat image yields no objects instead
// of an error.
func TestSegmentConstantImage(t *testing.T) {
	img := models.NewImage(16, 16, 1)
	for i := range img.Pix {
		img.Pix[i] = 0.5
	}

	labels, err := Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if n := labels.CountLabels(); n != 0 {
		t.Errorf("Expected no objects in a constant image, got %d", n)
	}
}

// TestMinObjectArea verifies components below the area floor are erased and
// remaining labels stay dense.
func TestMinObjectArea(t *testing.T) {
	img := models.NewImage(40, 40, 1)
	fillRect(img, 2, 2, 4, 4, 1.0)    // 4 pixels, below the floor of 9
	fillRect(img, 20, 20, 30, 30, 1.0) // 100 pixels

	labels, err := Segmenter(Options{Bins: 256, MinObjectArea: 9})(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	if labels.At(2, 2) != 0 {
		t.Error("Small component survived the area floor")
	}
	if labels.At(25, 25) != 1 {
		t.Errorf("Surviving component has label %d, expected dense label 1", labels.At(25, 25))
	}
}

// TestDiagonalPixelsAreSeparate verifies connectivity is 4-connected: two
// pixels touching only at a corner are distinct objects.
func TestDiagonalPixelsAreSeparate(t *testing.T) {
	img := models.NewImage(10, 10, 1)
	fillRect(img, 2, 2, 4, 4, 1.0)
	fillRect(img, 4, 4, 6, 6, 1.0)
	// Corner contact at (4,4)/(3,3) only.

	labels, err := Segmenter(Options{Bins: 256, MinObjectArea: 1})(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if labels.At(2, 2) == labels.At(5, 5) {
		t.Error("Diagonally touching components were merged")
	}
}

// TestSegmentUsesNuclearChannel verifies only channel 0 drives thresholding
// in a multi-channel image.
func TestSegmentUsesNuclearChannel(t *testing.T) {
	img := models.NewImage(20, 20, 2)
	// Bright membrane everywhere; nuclear signal only in one square.
	for i := 0; i < 400; i++ {
		img.Pix[i*2+1] = 1.0
	}
	fillRect(img, 5, 5, 12, 12, 1.0)

	labels, err := Segment(img)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if n := labels.CountLabels(); n != 1 {
		t.Fatalf("Expected 1 object from the nuclear channel, got %d", n)
	}
	if labels.At(1, 1) != 0 {
		t.Error("Membrane-only pixel was labeled")
	}
}
