package submap

import (
	"context"
	"fmt"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdunifon/vggt-slam/internal/models"
	"github.com/sdunifon/vggt-slam/pkg/estimate"
)

// chainEstimator returns poses translated along +X by one unit per
// batch position and one point per frame, so registration math is easy
// to verify by hand.
type chainEstimator struct {
	calls int
	fail  bool
}

func (e *chainEstimator) Estimate(ctx context.Context, batch []models.Keyframe) (*estimate.Estimation, error) {
	e.calls++
	if e.fail {
		return nil, errors.New("out of memory")
	}
	est := &estimate.Estimation{}
	for i := range batch {
		pose := identity4()
		pose.Set(0, 3, float64(i))
		est.Poses = append(est.Poses, pose)
		est.Points = append(est.Points, models.Point{
			Position:   r3Vec(float64(i), 0, 1),
			Confidence: 0.5,
			FrameIndex: i,
		})
	}
	return est, nil
}

func r3Vec(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

func keyframes(n, start int) []models.Keyframe {
	kfs := make([]models.Keyframe, n)
	for i := range kfs {
		kfs[i] = models.Keyframe{
			Frame: models.Frame{Path: fmt.Sprintf("frame_%d.png", start+i), OrderKey: start + i},
			Index: start + i,
		}
	}
	return kfs
}

func TestBuilderRootSubmap(t *testing.T) {
	m := NewMap()
	b := NewBuilder(&chainEstimator{}, m, golog.NewTestLogger(t))

	res, err := b.Build(context.Background(), keyframes(4, 0))
	require.NoError(t, err)
	require.False(t, res.Absorbed)
	assert.Nil(t, res.Relative)

	s := res.Submap
	assert.Equal(t, int64(0), s.ID)
	assert.Len(t, s.Keyframes, 4)
	assert.Len(t, s.LocalPoses, 4)
	assert.Len(t, s.Points, 4)
	// Root submap global starts at identity.
	assert.Equal(t, 1.0, s.Global.At(0, 0))
	assert.Equal(t, 0.0, s.Global.At(0, 3))
}

func TestBuilderSequentialRegistration(t *testing.T) {
	m := NewMap()
	b := NewBuilder(&chainEstimator{}, m, golog.NewTestLogger(t))

	_, err := b.Build(context.Background(), keyframes(4, 0))
	require.NoError(t, err)

	res, err := b.Build(context.Background(), keyframes(4, 4))
	require.NoError(t, err)
	require.NotNil(t, res.Relative)

	// The overlap frame sits at x=3 in the previous submap and is the
	// batch anchor (x=1 pre-re-anchoring) here, so the sequential edge
	// carries a translation of 3+1.
	assert.InDelta(t, 4.0, res.Relative.At(0, 3), 1e-9)

	// Overlap-frame points are not duplicated into the new submap.
	assert.Len(t, res.Submap.Points, 4)
	for i, pt := range res.Submap.Points {
		assert.Equal(t, i, pt.FrameIndex)
	}

	// Local poses re-anchored at the first owned keyframe.
	assert.InDelta(t, 0.0, res.Submap.LocalPoses[0].At(0, 3), 1e-9)
	assert.InDelta(t, 3.0, res.Submap.LocalPoses[3].At(0, 3), 1e-9)
}

func TestBuilderCoversEveryKeyframeExactlyOnce(t *testing.T) {
	m := NewMap()
	b := NewBuilder(&chainEstimator{}, m, golog.NewTestLogger(t))

	total := 50
	size := 16
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		_, err := b.Build(context.Background(), keyframes(end-start, start))
		require.NoError(t, err)
	}

	assert.Equal(t, 4, m.Count())
	assert.Equal(t, total, m.TotalKeyframes())

	seen := map[int]int64{}
	var last = -1
	for _, s := range m.All() {
		assert.LessOrEqual(t, len(s.Keyframes), size)
		for _, kf := range s.Keyframes {
			_, dup := seen[kf.Index]
			assert.False(t, dup, "keyframe %d owned twice", kf.Index)
			seen[kf.Index] = s.ID
			assert.Equal(t, last+1, kf.Index, "keyframes out of order")
			last = kf.Index
		}
	}
}

// A lone keyframe with no previous submap is accepted as a one-keyframe
// root submap, not rejected as too small.
func TestBuilderSingleKeyframeInput(t *testing.T) {
	m := NewMap()
	b := NewBuilder(&chainEstimator{}, m, golog.NewTestLogger(t))

	res, err := b.Build(context.Background(), keyframes(1, 0))
	require.NoError(t, err)
	assert.False(t, res.Absorbed)
	assert.Nil(t, res.Relative)
	assert.Equal(t, 1, m.Count())
	require.Len(t, res.Submap.Keyframes, 1)
	assert.Len(t, res.Submap.LocalPoses, 1)
}

func TestBuilderAbsorbsLoneTrailingKeyframe(t *testing.T) {
	m := NewMap()
	b := NewBuilder(&chainEstimator{}, m, golog.NewTestLogger(t))

	_, err := b.Build(context.Background(), keyframes(4, 0))
	require.NoError(t, err)

	res, err := b.Build(context.Background(), keyframes(1, 4))
	require.NoError(t, err)
	assert.True(t, res.Absorbed)
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 5, m.TotalKeyframes())

	s := m.Get(0)
	require.Len(t, s.LocalPoses, 5)
	// Absorbed pose chains off the previous last pose: x=3 plus one.
	assert.InDelta(t, 4.0, s.LocalPoses[4].At(0, 3), 1e-9)
	// The orphan's point carries the extended frame index.
	assert.Equal(t, 4, s.Points[len(s.Points)-1].FrameIndex)
}

func TestBuilderPropagatesEstimationFailure(t *testing.T) {
	m := NewMap()
	est := &chainEstimator{fail: true}
	b := NewBuilder(est, m, golog.NewTestLogger(t))

	_, err := b.Build(context.Background(), keyframes(4, 0))
	require.Error(t, err)
	var estErr *estimate.EstimationError
	assert.ErrorAs(t, err, &estErr)
	// Not retried, and the arena stays clean.
	assert.Equal(t, 1, est.calls)
	assert.Equal(t, 0, m.Count())
}
