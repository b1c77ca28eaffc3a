// Package liveness tracks per-session blink and head movement signals and
// runs a single-frame spoof heuristic
package liveness

import (
	"fmt"
	"math"
	"strings"

	"github.com/MrCodeEU/faceservice/internal/config"
	"github.com/MrCodeEU/faceservice/pkg/models"
)

// Method selects which signals a liveness check evaluates
type Method string

const (
	MethodBlink    Method = "blink"
	MethodMovement Method = "movement"
	MethodBoth     Method = "both"
)

// ParseMethod parses a method name. An empty name selects blink.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodBlink, nil
	case MethodBlink, MethodMovement, MethodBoth:
		return m, nil
	default:
		return "", fmt.Errorf("invalid liveness method: %s", s)
	}
}

func (m Method) wantsBlink() bool    { return m == MethodBlink || m == MethodBoth }
func (m Method) wantsMovement() bool { return m == MethodMovement || m == MethodBoth }

// Movement is the outcome of one head movement observation
type Movement struct {
	HasMovement bool    `json:"has_movement"`
	Angle       float64 `json:"angle"`
	AngleChange float64 `json:"angle_change"`
}

// Details lists the signals evaluated by a check
type Details struct {
	BlinkDetected *bool     `json:"blink_detected,omitempty"`
	HeadMovement  *Movement `json:"head_movement,omitempty"`
}

// Result is a combined liveness verdict
type Result struct {
	IsLive     bool    `json:"is_live"`
	Method     Method  `json:"method"`
	Confidence float64 `json:"confidence"`
	Details    Details `json:"details"`
}

// Signal confidences
const (
	blinkConfidence    = 0.8
	movementConfidence = 0.7
	bothConfidence     = 0.95
)

// Engine holds liveness thresholds and creates sessions. It is stateless;
// all history lives in a Session.
type Engine struct {
	cfg config.LivenessConfig
}

// NewEngine creates a liveness engine
func NewEngine(cfg config.LivenessConfig) *Engine {
	return &Engine{cfg: cfg}
}

// NewSession creates a session with empty histories
func (e *Engine) NewSession() *Session {
	return &Session{
		cfg:  e.cfg,
		ears: NewHistory(e.cfg.HistorySize),
		pose: NewHistory(e.cfg.HistorySize),
	}
}

// Session is the temporal state of one client. It is not safe for
// concurrent use.
type Session struct {
	cfg  config.LivenessConfig
	ears *History
	pose *History
}

// Reset clears both histories
func (s *Session) Reset() {
	s.ears.Reset()
	s.pose.Reset()
}

// EARHistory returns the retained eye aspect ratios, oldest first
func (s *Session) EARHistory() []float64 {
	return s.ears.Values()
}

// PoseHistory returns the retained eye-line angles, oldest first
func (s *Session) PoseHistory() []float64 {
	return s.pose.Values()
}

// DetectBlink records the mean EAR of both eyes and reports a falling edge
// through the blink threshold. Nothing is recorded unless both eyes are
// present.
func (s *Session) DetectBlink(landmarks []models.Landmark) bool {
	right := models.FilterLandmarks(landmarks, models.RightEye)
	left := models.FilterLandmarks(landmarks, models.LeftEye)
	if len(right) == 0 || len(left) == 0 {
		return false
	}

	return s.RecordEAR((EyeAspectRatio(right) + EyeAspectRatio(left)) / 2)
}

// RecordEAR appends one EAR sample and reports whether it closes the eye:
// below threshold while the previous sample was at or above it.
func (s *Session) RecordEAR(ear float64) bool {
	s.ears.Push(ear)
	if s.ears.Len() < 2 {
		return false
	}

	prev := s.ears.At(s.ears.Len() - 2)
	return ear < s.cfg.BlinkThreshold && prev >= s.cfg.BlinkThreshold
}

// DetectHeadMovement records the eye-line angle and compares it with the
// oldest retained angle
func (s *Session) DetectHeadMovement(landmarks []models.Landmark) Movement {
	angle, ok := models.EyeLineAngle(landmarks)
	if !ok {
		return Movement{}
	}
	return s.RecordAngle(angle)
}

// RecordAngle appends one eye-line angle in degrees. Once the history is
// full the reference is the oldest retained angle, not the first one seen.
func (s *Session) RecordAngle(angle float64) Movement {
	s.pose.Push(angle)

	m := Movement{Angle: angle}
	if s.pose.Len() >= 2 {
		m.AngleChange = math.Abs(s.pose.Newest() - s.pose.Oldest())
	}
	if s.pose.Len() >= 3 {
		m.HasMovement = m.AngleChange > s.cfg.MovementThreshold
	}
	return m
}

// Check evaluates the requested signals against this session's history
func (s *Session) Check(landmarks []models.Landmark, method Method) Result {
	result := Result{Method: method}

	var blinked, moved bool
	if method.wantsBlink() {
		blinked = s.DetectBlink(landmarks)
		result.Details.BlinkDetected = &blinked
		if blinked {
			result.IsLive = true
			result.Confidence = blinkConfidence
		}
	}

	if method.wantsMovement() {
		movement := s.DetectHeadMovement(landmarks)
		result.Details.HeadMovement = &movement
		moved = movement.HasMovement
		if moved {
			result.IsLive = true
			result.Confidence = math.Max(result.Confidence, movementConfidence)
		}
	}

	if method == MethodBoth && blinked && moved {
		result.Confidence = bothConfidence
	}

	return result
}

// EyeAspectRatio computes the eye aspect ratio of a six-point eye contour,
// P0 and P3 being the corners. Clusters with fewer points, or with
// coincident corners, are treated as open (1.0).
func EyeAspectRatio(eye []models.Landmark) float64 {
	if len(eye) < 6 {
		return 1.0
	}

	a := distance(eye[1], eye[5])
	b := distance(eye[2], eye[4])
	c := distance(eye[0], eye[3])
	if c == 0 {
		return 1.0
	}

	return (a + b) / (2 * c)
}

func distance(p1, p2 models.Landmark) float64 {
	dx := float64(p1.X - p2.X)
	dy := float64(p1.Y - p2.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
