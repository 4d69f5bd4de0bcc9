package export

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Report summarizes one reconstruction run.
type Report struct {
	// RunID uniquely identifies the run the artifact came from.
	RunID uuid.UUID

	// ArtifactPath is where the PLY was written; empty on terminal
	// failure.
	ArtifactPath string

	Submaps        int
	Keyframes      int
	LoopClosures   int
	TotalPoints    int
	RetainedPoints int

	// Warnings carries non-fatal conditions: estimation salvage,
	// optimizer non-convergence.
	Warnings []string
}

// NewReport stamps a fresh run ID.
func NewReport() *Report {
	return &Report{RunID: uuid.New()}
}

// AddWarning records a non-fatal condition for the summary.
func (r *Report) AddWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Summary renders the human-readable result message.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "VGGT-SLAM completed with %d submaps and %d loop closures.", r.Submaps, r.LoopClosures)
	fmt.Fprintf(&b, " Keyframes: %d.", r.Keyframes)
	fmt.Fprintf(&b, " Points: %d retained of %d fused.", r.RetainedPoints, r.TotalPoints)
	if r.ArtifactPath != "" {
		fmt.Fprintf(&b, " Artifact: %s.", r.ArtifactPath)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, " Warning: %s.", w)
	}
	fmt.Fprintf(&b, " Run %s.", r.RunID)
	return b.String()
}
