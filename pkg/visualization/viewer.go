// Package visualization renders stitched label maps for inspection. Raw
// global labels are near-black when viewed directly, so the viewer maps each
// object to a distinct color and can shuffle label identities so adjacent
// objects rarely share a hue.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"

	"segstitch/internal/models"
	"segstitch/pkg/imageio"
)

// Viewer renders a label map into viewable images.
type Viewer struct {
	// labels is the map being rendered; the viewer owns its copy
	labels *models.LabelMap
}

// NewViewer creates a viewer over a copy of the given label map, so later
// randomization never mutates the caller's data.
func NewViewer(labels *models.LabelMap) *Viewer {
	cp := models.NewLabelMap(labels.Width, labels.Height)
	copy(cp.Pix, labels.Pix)
	return &Viewer{labels: cp}
}

// RandomizeLabels permutes all non-background label identities using the
// given seed. Background stays zero. The permutation is deterministic for a
// given seed and label map, so rendered output is reproducible.
func (v *Viewer) RandomizeLabels(seed int64) {
	maxLabel := v.labels.MaxLabel()
	if maxLabel == 0 {
		return
	}

	perm := rand.New(rand.NewSource(seed)).Perm(int(maxLabel))
	mapping := make([]int32, maxLabel+1)
	for i, p := range perm {
		mapping[i+1] = int32(p) + 1
	}

	for i, label := range v.labels.Pix {
		if label > 0 {
			v.labels.Pix[i] = mapping[label]
		}
	}
}

// Render produces a color image with one distinct color per global label and
// black background. Colors are spread around the hue circle by the golden
// angle, which keeps consecutive labels far apart in hue.
func (v *Viewer) Render() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, v.labels.Width, v.labels.Height))
	for y := 0; y < v.labels.Height; y++ {
		for x := 0; x < v.labels.Width; x++ {
			label := v.labels.At(x, y)
			if label == 0 {
				img.Set(x, y, color.RGBA{A: 255})
				continue
			}
			img.Set(x, y, labelColor(label))
		}
	}
	return img
}

// SaveImage renders the label map and writes it to the given path; the
// encoding follows the file extension.
func (v *Viewer) SaveImage(path string) error {
	if err := imageio.SaveImage(path, v.Render()); err != nil {
		return fmt.Errorf("failed to save visualization: %v", err)
	}
	return nil
}

// labelColor maps a label to a stable, saturated color.
func labelColor(label int32) color.RGBA {
	// Golden angle in degrees spreads hues without clustering.
	hue := math.Mod(float64(label)*137.507764, 360.0)
	r, g, b := hsvToRGB(hue, 0.85, 0.95)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// hsvToRGB converts hue [0,360), saturation and value [0,1] to 8-bit RGB.
func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60.0, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return uint8((r + m) * 255), uint8((g + m) * 255), uint8((b + m) * 255)
}
