// Package threshold provides a reference segmentation function: Otsu global
// thresholding of the nuclear channel followed by 4-connected component
// labeling. It exists so the pipeline can run end-to-end without an external
// model; any function with the same array-in, label-array-out shape can be
// substituted for it.
package threshold

import (
	"fmt"

	"segstitch/internal/models"
)

// Options configures the reference segmenter.
type Options struct {
	// Bins is the histogram resolution for Otsu threshold selection
	Bins int

	// MinObjectArea drops connected components smaller than this many
	// pixels as noise
	MinObjectArea int
}

// DefaultOptions returns the segmenter defaults.
func DefaultOptions() Options {
	return Options{
		Bins:          256,
		MinObjectArea: 4,
	}
}

// Segment runs the reference segmenter with default options. It satisfies
// the pipeline's SegmentFunc contract.
func Segment(img *models.Image) (*models.LabelMap, error) {
	return Segmenter(DefaultOptions())(img)
}

// Segmenter returns a segmentation function bound to the given options.
func Segmenter(opts Options) func(*models.Image) (*models.LabelMap, error) {
	return func(img *models.Image) (*models.LabelMap, error) {
		if img.Width <= 0 || img.Height <= 0 {
			return nil, fmt.Errorf("empty image")
		}
		if opts.Bins < 2 {
			return nil, fmt.Errorf("histogram bins must be at least 2, got %d", opts.Bins)
		}

		intensity := nuclearIntensity(img)
		cut, ok := otsuThreshold(intensity, opts.Bins)
		if !ok {
			// Constant image: nothing to segment.
			return models.NewLabelMap(img.Width, img.Height), nil
		}

		mask := make([]bool, len(intensity))
		for i, v := range intensity {
			mask[i] = v >= cut
		}
		return labelComponents(mask, img.Width, img.Height, opts.MinObjectArea), nil
	}
}

// nuclearIntensity extracts channel 0 as a flat intensity array.
func nuclearIntensity(img *models.Image) []float64 {
	out := make([]float64, img.Width*img.Height)
	for i := range out {
		out[i] = img.Pix[i*img.Channels]
	}
	return out
}

// otsuThreshold picks the threshold maximizing between-class variance over a
// binned histogram of the data range. ok is false when the data is constant.
func otsuThreshold(data []float64, bins int) (float64, bool) {
	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return 0, false
	}

	hist := make([]int, bins)
	binWidth := (hi - lo) / float64(bins)
	for _, v := range data {
		b := int((v - lo) / binWidth)
		if b >= bins {
			b = bins - 1
		}
		hist[b]++
	}

	total := len(data)
	var sumAll float64
	for b, n := range hist {
		sumAll += float64(b) * float64(n)
	}

	var sumBack float64
	var weightBack int
	bestVar := -1.0
	bestBin := 0
	for b := 0; b < bins-1; b++ {
		weightBack += hist[b]
		if weightBack == 0 {
			continue
		}
		weightFore := total - weightBack
		if weightFore == 0 {
			break
		}
		sumBack += float64(b) * float64(hist[b])

		meanBack := sumBack / float64(weightBack)
		meanFore := (sumAll - sumBack) / float64(weightFore)
		diff := meanBack - meanFore
		between := float64(weightBack) * float64(weightFore) * diff * diff
		if between > bestVar {
			bestVar = between
			bestBin = b
		}
	}

	// Foreground starts at the first bin above the chosen one.
	return lo + float64(bestBin+1)*binWidth, true
}

// labelComponents assigns a distinct label to each 4-connected foreground
// component, in raster order of each component's first pixel. Components
// below minArea are erased to background; surviving labels stay dense.
func labelComponents(mask []bool, width, height, minArea int) *models.LabelMap {
	out := models.NewLabelMap(width, height)
	var next int32 = 1
	stack := make([]int, 0, 64)
	component := make([]int, 0, 64)

	for start := range mask {
		if !mask[start] || out.Pix[start] != 0 {
			continue
		}

		// Flood fill with an explicit stack; recursion depth is unbounded
		// on large objects.
		stack = append(stack[:0], start)
		component = component[:0]
		out.Pix[start] = next
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			component = append(component, idx)

			x := idx % width
			for _, n := range [4]int{idx - width, idx + width, idx - 1, idx + 1} {
				if n < 0 || n >= len(mask) {
					continue
				}
				// Row-crossing guard for the horizontal neighbours.
				if (n == idx-1 && x == 0) || (n == idx+1 && x == width-1) {
					continue
				}
				if mask[n] && out.Pix[n] == 0 {
					out.Pix[n] = next
					stack = append(stack, n)
				}
			}
		}

		if len(component) < minArea {
			for _, idx := range component {
				out.Pix[idx] = 0
			}
			continue
		}
		next++
	}

	return out
}
