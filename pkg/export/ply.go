// Package export serializes the fused cloud to a portable binary 3D
// artifact and renders the run summary.
package export

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/sdunifon/vggt-slam/pkg/fusion"
)

// WritePLY streams the model as binary little-endian PLY: position and
// confidence as float32, plus an 8-bit confidence colormap so generic
// viewers show something useful. The input model is not modified.
func WritePLY(model *fusion.GlobalModel, out io.Writer) error {
	w := bufio.NewWriter(out)

	header := "ply\n" +
		"format binary_little_endian 1.0\n" +
		fmt.Sprintf("element vertex %d\n", len(model.Points)) +
		"property float x\n" +
		"property float y\n" +
		"property float z\n" +
		"property float confidence\n" +
		"property uchar red\n" +
		"property uchar green\n" +
		"property uchar blue\n" +
		"end_header\n"
	if _, err := w.WriteString(header); err != nil {
		return errors.Wrap(err, "writing PLY header")
	}

	buf := make([]byte, 0, 19)
	for _, pt := range model.Points {
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint32(buf, floatBits(pt.Position.X))
		buf = binary.LittleEndian.AppendUint32(buf, floatBits(pt.Position.Y))
		buf = binary.LittleEndian.AppendUint32(buf, floatBits(pt.Position.Z))
		buf = binary.LittleEndian.AppendUint32(buf, floatBits(pt.Confidence))
		r, g, b := confidenceColor(pt.Confidence)
		buf = append(buf, r, g, b)
		if _, err := w.Write(buf); err != nil {
			return errors.Wrap(err, "writing PLY vertex")
		}
	}
	return errors.Wrap(w.Flush(), "flushing PLY")
}

// WritePLYFile writes the artifact to path.
func WritePLYFile(model *fusion.GlobalModel, path string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()
	return WritePLY(model, file)
}

func floatBits(v float64) uint32 {
	return math.Float32bits(float32(v))
}

// confidenceColor maps confidence onto a cold-to-warm ramp.
func confidenceColor(c float64) (uint8, uint8, uint8) {
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	r := uint8(255 * c)
	b := uint8(255 * (1 - c))
	g := uint8(64 + 128*c)
	return r, g, b
}
