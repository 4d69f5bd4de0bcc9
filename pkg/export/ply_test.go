package export

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdunifon/vggt-slam/internal/models"
	"github.com/sdunifon/vggt-slam/pkg/fusion"
)

func sampleModel() *fusion.GlobalModel {
	return &fusion.GlobalModel{
		TotalPoints: 3,
		Points: []models.CloudPoint{
			{Position: r3.Vector{X: 1, Y: 2, Z: 3}, Confidence: 0.9, Submap: 0},
			{Position: r3.Vector{X: -1, Y: 0.5, Z: 2}, Confidence: 0.4, Submap: 1},
		},
	}
}

func TestWritePLYHeaderAndPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePLY(sampleModel(), &buf))

	data := buf.Bytes()
	headerEnd := bytes.Index(data, []byte("end_header\n"))
	require.Positive(t, headerEnd)
	header := string(data[:headerEnd])

	assert.True(t, strings.HasPrefix(header, "ply\nformat binary_little_endian 1.0\n"))
	assert.Contains(t, header, "element vertex 2\n")
	assert.Contains(t, header, "property float confidence\n")

	// 4 float32 properties + 3 uchar per vertex.
	payload := data[headerEnd+len("end_header\n"):]
	require.Len(t, payload, 2*19)

	x := math.Float32frombits(binary.LittleEndian.Uint32(payload[0:4]))
	assert.Equal(t, float32(1), x)
	conf := math.Float32frombits(binary.LittleEndian.Uint32(payload[12:16]))
	assert.InDelta(t, 0.9, float64(conf), 1e-6)
}

func TestWritePLYFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.ply")
	require.NoError(t, WritePLYFile(sampleModel(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWritePLYEmptyModel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePLY(&fusion.GlobalModel{}, &buf))
	assert.Contains(t, buf.String(), "element vertex 0\n")
}

func TestReportSummary(t *testing.T) {
	r := NewReport()
	r.ArtifactPath = "scene.ply"
	r.Submaps = 4
	r.Keyframes = 50
	r.LoopClosures = 2
	r.TotalPoints = 1000
	r.RetainedPoints = 750
	r.AddWarning("optimizer hit iteration cap")

	s := r.Summary()
	assert.Contains(t, s, "4 submaps and 2 loop closures")
	assert.Contains(t, s, "Keyframes: 50")
	assert.Contains(t, s, "750 retained of 1000")
	assert.Contains(t, s, "scene.ply")
	assert.Contains(t, s, "Warning: optimizer hit iteration cap")
	assert.Contains(t, s, r.RunID.String())
}
