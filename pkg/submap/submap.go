// Package submap groups consecutive keyframes into fixed-size submaps
// and records the sequential registration between neighbors. Submap
// geometry is local and immutable after build; only the global
// transform is rewritten later, by the pose graph optimizer.
package submap

import (
	"sync"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/sdunifon/vggt-slam/internal/models"
)

// Submap is a fixed-capacity run of keyframes with local geometry from
// one dense estimation call.
type Submap struct {
	// ID is the monotonically increasing arena index, root = 0.
	ID int64

	// Keyframes owned by this submap, in trajectory order.
	Keyframes []models.Keyframe

	// LocalPoses holds one camera-to-local 4x4 per owned keyframe,
	// anchored at the first owned keyframe.
	LocalPoses []*mat.Dense

	// Points is the local point set with confidence.
	Points []models.Point

	// Global is the submap-to-world transform. Identity at creation;
	// rewritten only by the optimizer.
	Global *mat.Dense
}

// LastKeyframe returns the final owned keyframe, used as the overlap
// frame for registering the next submap.
func (s *Submap) LastKeyframe() models.Keyframe {
	return s.Keyframes[len(s.Keyframes)-1]
}

// LastPose returns the local pose of the final owned keyframe.
func (s *Submap) LastPose() *mat.Dense {
	return s.LocalPoses[len(s.LocalPoses)-1]
}

// Map is the arena of completed submaps, indexed by ID.
type Map struct {
	mu      sync.RWMutex
	submaps []*Submap
}

// NewMap returns an empty submap arena.
func NewMap() *Map {
	return &Map{}
}

// Add appends a submap, assigning it the next ID.
func (m *Map) Add(s *Submap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.submaps))
	m.submaps = append(m.submaps, s)
}

// Get returns the submap with the given ID, or nil.
func (m *Map) Get(id int64) *Submap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 0 || id >= int64(len(m.submaps)) {
		return nil
	}
	return m.submaps[id]
}

// Count returns the number of completed submaps.
func (m *Map) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.submaps)
}

// All returns the submaps in ID order.
func (m *Map) All() []*Submap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Submap, len(m.submaps))
	copy(out, m.submaps)
	return out
}

// TotalKeyframes sums owned keyframes across submaps.
func (m *Map) TotalKeyframes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, s := range m.submaps {
		total += len(s.Keyframes)
	}
	return total
}

// TotalPoints sums local points across submaps.
func (m *Map) TotalPoints() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, s := range m.submaps {
		total += len(s.Points)
	}
	return total
}

// UpdateGlobalTransforms copies solved world poses into the arena.
// Submaps without an entry keep their current transform.
func (m *Map) UpdateGlobalTransforms(poses map[int64]*mat.Dense) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.submaps {
		if pose, ok := poses[s.ID]; ok {
			s.Global = mat.DenseCopyOf(pose)
		}
	}
}

// applyTransform maps a point through a homogeneous 4x4, dividing by w
// so projective transforms are handled the same as rigid ones.
func applyTransform(t *mat.Dense, p r3.Vector) r3.Vector {
	x := t.At(0, 0)*p.X + t.At(0, 1)*p.Y + t.At(0, 2)*p.Z + t.At(0, 3)
	y := t.At(1, 0)*p.X + t.At(1, 1)*p.Y + t.At(1, 2)*p.Z + t.At(1, 3)
	z := t.At(2, 0)*p.X + t.At(2, 1)*p.Y + t.At(2, 2)*p.Z + t.At(2, 3)
	w := t.At(3, 0)*p.X + t.At(3, 1)*p.Y + t.At(3, 2)*p.Z + t.At(3, 3)
	if w != 0 && w != 1 {
		x, y, z = x/w, y/w, z/w
	}
	return r3.Vector{X: x, Y: y, Z: z}
}

// ApplyTransform is the exported form used by fusion.
func ApplyTransform(t *mat.Dense, p r3.Vector) r3.Vector {
	return applyTransform(t, p)
}

func identity4() *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		out.Set(i, i, 1)
	}
	return out
}

// Identity returns a fresh 4x4 identity transform.
func Identity() *mat.Dense {
	return identity4()
}
