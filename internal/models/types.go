package models

import (
	"image"

	"github.com/golang/geo/r3"
)

// Frame represents a single candidate image before keyframe selection
type Frame struct {
	// Path is the location the image was decoded from
	Path string

	// OrderKey is the numeric token extracted from the filename,
	// used to sort frames into trajectory order
	OrderKey int

	// Image is the decoded image data
	Image image.Image
}

// Keyframe is a frame that passed the disparity gate
type Keyframe struct {
	Frame

	// Index is the position of this keyframe in the selected sequence
	Index int

	// Disparity is the optical-flow disparity against the previously
	// accepted keyframe at the moment of acceptance (0 for the first)
	Disparity float64
}

// Point is a 3D point in a submap's local coordinate frame
type Point struct {
	// Position in the submap-local frame
	Position r3.Vector

	// Confidence of the estimate, in [0,1]
	Confidence float64

	// FrameIndex is the index within the submap of the keyframe
	// this point was observed from
	FrameIndex int
}

// CloudPoint is a fused point expressed in world coordinates
type CloudPoint struct {
	Position   r3.Vector
	Confidence float64

	// Submap is the ID of the submap the point originated from
	Submap int64
}
