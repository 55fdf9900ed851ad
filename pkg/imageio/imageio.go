// Package imageio handles reading microscopy channels into in-memory pixel
// arrays and writing label maps back out. The stitching core never touches
// files; this package is the external reader/writer collaborator the core is
// wired to at the CLI level.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"segstitch/internal/models"
)

// LoadChannel reads one image file as a single-channel intensity array.
// TIFF, PNG, and JPEG are supported, chosen by file extension for TIFF and
// by content otherwise. Color inputs are reduced to their red channel, which
// for grayscale microscopy exports equals the luminance.
func LoadChannel(path string) (*models.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err = tiff.Decode(file)
	default:
		img, _, err = image.Decode(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %v", path, err)
	}

	bounds := img.Bounds()
	out := models.NewImage(bounds.Dx(), bounds.Dy(), 1)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// 16-bit color value scaled to the 0-1 range
			out.Set(x, y, 0, float64(r)/65535.0)
		}
	}
	return out, nil
}

// StackChannels combines nuclear and membrane channels into one two-channel
// image, nuclear first. A nil membrane duplicates the nuclear channel, since
// membrane staining is optional in many acquisitions.
func StackChannels(nuclear, membrane *models.Image) (*models.Image, error) {
	if membrane == nil {
		membrane = nuclear
	}
	if nuclear.Width != membrane.Width || nuclear.Height != membrane.Height {
		return nil, fmt.Errorf("channel dimensions differ: nuclear %dx%d, membrane %dx%d",
			nuclear.Width, nuclear.Height, membrane.Width, membrane.Height)
	}
	if nuclear.Channels != 1 || membrane.Channels != 1 {
		return nil, fmt.Errorf("channels to stack must be single-channel")
	}

	out := models.NewImage(nuclear.Width, nuclear.Height, 2)
	for i := 0; i < nuclear.Width*nuclear.Height; i++ {
		out.Pix[i*2] = nuclear.Pix[i]
		out.Pix[i*2+1] = membrane.Pix[i]
	}
	return out, nil
}

// SaveLabelMap writes a label map as a 16-bit grayscale image carrying the
// raw global label values, TIFF or PNG by extension. Labels above 65535 are
// clamped; use SaveImage with a rendered view for display purposes.
func SaveLabelMap(path string, m *models.LabelMap) error {
	img := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := m.At(x, y)
			if v > 65535 {
				v = 65535
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return SaveImage(path, img)
}

// SaveImage encodes an image to disk, with the format chosen by extension:
// .tif/.tiff, .jpg/.jpeg, or .png (the default).
func SaveImage(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", path, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", path, err)
	}
	return nil
}
