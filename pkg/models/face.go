// Package models provides face types and the gRPC inference collaborators
package models

import "math"

// Landmark names by detector keypoint index
const (
	RightEye    = "right_eye"
	LeftEye     = "left_eye"
	NoseTip     = "nose_tip"
	MouthCenter = "mouth_center"
	RightEar    = "right_ear"
	LeftEar     = "left_ear"
	Unknown     = "unknown"
)

var landmarkNames = [...]string{RightEye, LeftEye, NoseTip, MouthCenter, RightEar, LeftEar}

// LandmarkName maps a keypoint index to its name
func LandmarkName(index int) string {
	if index < 0 || index >= len(landmarkNames) {
		return Unknown
	}
	return landmarkNames[index]
}

// BBox is an axis-aligned rectangle in pixel coordinates
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns width * height
func (b BBox) Area() int {
	return b.Width * b.Height
}

// Slice returns the box as [x, y, width, height]
func (b BBox) Slice() []int {
	return []int{b.X, b.Y, b.Width, b.Height}
}

// Landmark is a single facial keypoint
type Landmark struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Type int    `json:"type"`
	Name string `json:"name"`
}

// NewLandmark builds a landmark whose name is derived from its index
func NewLandmark(x, y, index int) Landmark {
	return Landmark{X: x, Y: y, Type: index, Name: LandmarkName(index)}
}

// Face is one detection result
type Face struct {
	BBox       BBox       `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Landmarks  []Landmark `json:"landmarks"`
}

// Normalize enforces non-negative box sizes and a confidence in [0, 1]
func (f *Face) Normalize() {
	if f.BBox.Width < 0 {
		f.BBox.Width = 0
	}
	if f.BBox.Height < 0 {
		f.BBox.Height = 0
	}
	switch {
	case math.IsNaN(f.Confidence) || f.Confidence < 0:
		f.Confidence = 0
	case f.Confidence > 1:
		f.Confidence = 1
	}
	if f.Landmarks == nil {
		f.Landmarks = []Landmark{}
	}
}

// Largest returns the face with the largest box area. Ties go to the face
// that appears first.
func Largest(faces []Face) (Face, bool) {
	if len(faces) == 0 {
		return Face{}, false
	}

	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].BBox.Area() > faces[best].BBox.Area() {
			best = i
		}
	}
	return faces[best], true
}

// FindLandmark returns the first landmark with the given name
func FindLandmark(landmarks []Landmark, name string) (Landmark, bool) {
	for _, lm := range landmarks {
		if lm.Name == name {
			return lm, true
		}
	}
	return Landmark{}, false
}

// FilterLandmarks returns every landmark with the given name, in order
func FilterLandmarks(landmarks []Landmark, name string) []Landmark {
	var out []Landmark
	for _, lm := range landmarks {
		if lm.Name == name {
			out = append(out, lm)
		}
	}
	return out
}

// EyeLineAngle returns the angle in degrees of the line from the right eye
// to the left eye. ok is false when either eye is missing.
func EyeLineAngle(landmarks []Landmark) (angle float64, ok bool) {
	right, okR := FindLandmark(landmarks, RightEye)
	left, okL := FindLandmark(landmarks, LeftEye)
	if !okR || !okL {
		return 0, false
	}

	dx := float64(left.X - right.X)
	dy := float64(left.Y - right.Y)
	return math.Atan2(dy, dx) * 180 / math.Pi, true
}
