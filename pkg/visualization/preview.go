// Package visualization renders quick-look previews of the fused
// cloud: orthographic scatter projections along each axis, saved as
// PNG images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/sdunifon/vggt-slam/pkg/fusion"
)

// Viewer projects a fused model onto image planes.
type Viewer struct {
	model *fusion.GlobalModel

	// size is the long edge of rendered previews in pixels
	size int
}

// NewViewer creates a viewer over the fused model.
func NewViewer(model *fusion.GlobalModel) *Viewer {
	return &Viewer{model: model, size: 800}
}

// RenderProjection draws an orthographic scatter of the cloud viewed
// down the given axis ("x", "y" or "z"). Point brightness follows
// confidence; overlapping points keep the brightest value.
func (v *Viewer) RenderProjection(axis string) (image.Image, error) {
	project, err := projector(axis)
	if err != nil {
		return nil, err
	}
	if len(v.model.Points) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
	}

	minU, minV := math.MaxFloat64, math.MaxFloat64
	maxU, maxV := -math.MaxFloat64, -math.MaxFloat64
	for _, pt := range v.model.Points {
		u, w := project(pt.Position)
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, w), math.Max(maxV, w)
	}

	spanU := maxU - minU
	spanV := maxV - minV
	if spanU == 0 {
		spanU = 1
	}
	if spanV == 0 {
		spanV = 1
	}
	scale := float64(v.size-1) / math.Max(spanU, spanV)
	width := int(spanU*scale) + 1
	height := int(spanV*scale) + 1

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for _, pt := range v.model.Points {
		u, w := project(pt.Position)
		x := int((u - minU) * scale)
		y := int((w - minV) * scale)
		if x < 0 || x >= width || y < 0 || y >= height {
			continue
		}
		value := uint8(math.Max(0, math.Min(255, pt.Confidence*255)))
		if existing := img.RGBAAt(x, y); existing.R < value {
			img.SetRGBA(x, y, color.RGBA{R: value, G: value, B: value, A: 255})
		}
	}
	return img, nil
}

// projector returns the 3D-to-plane mapping for an axis.
func projector(axis string) (func(r3.Vector) (float64, float64), error) {
	switch axis {
	case "x", "X":
		return func(p r3.Vector) (float64, float64) { return p.Y, p.Z }, nil
	case "y", "Y":
		return func(p r3.Vector) (float64, float64) { return p.X, p.Z }, nil
	case "z", "Z":
		return func(p r3.Vector) (float64, float64) { return p.X, p.Y }, nil
	}
	return nil, errors.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// SavePreview renders one projection and writes it as PNG.
func (v *Viewer) SavePreview(axis, filename string) error {
	img, err := v.RenderProjection(axis)
	if err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return png.Encode(file, img)
}

// SaveAxisPreviews writes the x, y and z projections into outputDir.
func (v *Viewer) SaveAxisPreviews(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for _, axis := range []string{"x", "y", "z"} {
		filename := filepath.Join(outputDir, fmt.Sprintf("preview_%s.png", axis))
		if err := v.SavePreview(axis, filename); err != nil {
			return err
		}
	}
	return nil
}
