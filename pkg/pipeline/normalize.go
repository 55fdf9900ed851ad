package pipeline

import (
	"gonum.org/v1/gonum/stat"

	"segstitch/internal/models"
)

// Normalize returns a copy of the image with each channel independently
// shifted and scaled to zero mean and unit variance. Segmentation models are
// typically trained on normalized intensities, so this runs before tiling
// when enabled; the caller's image is never mutated.
//
// A constant channel (zero variance) is only mean-shifted.
func Normalize(img *models.Image) *models.Image {
	out := models.NewImage(img.Width, img.Height, img.Channels)
	channel := make([]float64, img.Width*img.Height)

	for c := 0; c < img.Channels; c++ {
		for i := range channel {
			channel[i] = img.Pix[i*img.Channels+c]
		}

		mean := stat.Mean(channel, nil)
		std := stat.StdDev(channel, nil)

		for i, v := range channel {
			norm := v - mean
			if std > 0 {
				norm /= std
			}
			out.Pix[i*img.Channels+c] = norm
		}
	}

	return out
}
