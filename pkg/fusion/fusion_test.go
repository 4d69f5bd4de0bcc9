package fusion

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sdunifon/vggt-slam/internal/models"
	"github.com/sdunifon/vggt-slam/pkg/submap"
)

// cloudMap builds a single-submap arena with the given confidences,
// one point per confidence at x = its position in the list.
func cloudMap(confidences []float64) *submap.Map {
	m := submap.NewMap()
	s := &submap.Submap{Global: submap.Identity()}
	for i, c := range confidences {
		s.Points = append(s.Points, models.Point{
			Position:   r3.Vector{X: float64(i)},
			Confidence: c,
		})
	}
	m.Add(s)
	return m
}

func rampConfidences(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i+1) / float64(n)
	}
	return out
}

func TestFuseRetainedCountMatchesPercentile(t *testing.T) {
	logger := golog.NewTestLogger(t)
	for _, threshold := range []float64{10, 25, 50, 75, 90} {
		m := cloudMap(rampConfidences(100))
		model := Fuse(m, threshold, logger)

		target := int(math.Ceil(100 * (1 - threshold/100)))
		assert.InDelta(t, target, model.Retained(), 1,
			"threshold %.0f", threshold)
		assert.Equal(t, 100, model.TotalPoints)
	}
}

func TestFuseThresholdExtremes(t *testing.T) {
	logger := golog.NewTestLogger(t)

	model := Fuse(cloudMap(rampConfidences(40)), 0, logger)
	assert.Equal(t, 40, model.Retained())

	model = Fuse(cloudMap(rampConfidences(40)), 100, logger)
	assert.Equal(t, 0, model.Retained())
	assert.Equal(t, 40, model.TotalPoints)
}

func TestFuseKeepsHighestConfidence(t *testing.T) {
	logger := golog.NewTestLogger(t)
	model := Fuse(cloudMap([]float64{0.1, 0.9, 0.5, 0.95}), 50, logger)

	require.Equal(t, 2, model.Retained())
	for _, pt := range model.Points {
		assert.GreaterOrEqual(t, pt.Confidence, 0.9)
	}
}

func TestFuseIdempotent(t *testing.T) {
	logger := golog.NewTestLogger(t)
	m := cloudMap(rampConfidences(64))

	first := Fuse(m, 25, logger)
	second := Fuse(m, 25, logger)

	require.Equal(t, first.Retained(), second.Retained())
	for i := range first.Points {
		assert.Equal(t, first.Points[i], second.Points[i])
	}
}

func TestFuseAppliesGlobalTransform(t *testing.T) {
	logger := golog.NewTestLogger(t)
	m := cloudMap([]float64{0.5})

	shift := submap.Identity()
	shift.Set(0, 3, 10)
	shift.Set(2, 3, -2)
	m.UpdateGlobalTransforms(map[int64]*mat.Dense{0: shift})

	model := Fuse(m, 0, logger)
	require.Equal(t, 1, model.Retained())
	assert.InDelta(t, 10.0, model.Points[0].Position.X, 1e-9)
	assert.InDelta(t, -2.0, model.Points[0].Position.Z, 1e-9)
	assert.Equal(t, int64(0), model.Points[0].Submap)
}

func TestFuseTagsProvenance(t *testing.T) {
	logger := golog.NewTestLogger(t)
	m := submap.NewMap()
	for i := 0; i < 3; i++ {
		s := &submap.Submap{Global: submap.Identity()}
		s.Points = []models.Point{{Position: r3.Vector{X: float64(i)}, Confidence: 1}}
		m.Add(s)
	}

	model := Fuse(m, 0, logger)
	require.Equal(t, 3, model.Retained())
	seen := map[int64]bool{}
	for _, pt := range model.Points {
		seen[pt.Submap] = true
	}
	assert.Len(t, seen, 3)
}
