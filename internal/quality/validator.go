// Package quality scores a frame and detected face against the enrollment
// acceptance criteria
package quality

import (
	"fmt"
	"math"

	"github.com/MrCodeEU/faceservice/internal/config"
	"github.com/MrCodeEU/faceservice/pkg/models"
	"github.com/MrCodeEU/faceservice/pkg/utils"
)

// BlurCheck is the sharpness sub-check
type BlurCheck struct {
	IsAcceptable bool    `json:"is_acceptable"`
	Variance     float64 `json:"variance"`
	Score        float64 `json:"score"`
}

// LightingCheck is the brightness and uniformity sub-check
type LightingCheck struct {
	IsAcceptable bool    `json:"is_acceptable"`
	Brightness   float64 `json:"brightness"`
	Uniformity   float64 `json:"uniformity"`
	Score        float64 `json:"score"`
}

// CoverageCheck is the face-to-frame area sub-check
type CoverageCheck struct {
	IsAcceptable bool    `json:"is_acceptable"`
	Coverage     float64 `json:"coverage"`
	Score        float64 `json:"score"`
}

// EyeVisibilityCheck requires both eye landmarks
type EyeVisibilityCheck struct {
	IsAcceptable    bool    `json:"is_acceptable"`
	BothVisible     bool    `json:"both_visible"`
	RightEyeVisible bool    `json:"right_eye_visible"`
	LeftEyeVisible  bool    `json:"left_eye_visible"`
	Score           float64 `json:"score"`
}

// ResolutionCheck is the minimum face size sub-check
type ResolutionCheck struct {
	IsAcceptable bool    `json:"is_acceptable"`
	MeetsMinimum bool    `json:"meets_minimum"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	MinDimension int     `json:"min_dimension"`
	Score        float64 `json:"score"`
}

// Details holds every sub-check result
type Details struct {
	Blur          BlurCheck          `json:"blur"`
	Lighting      LightingCheck      `json:"lighting"`
	Coverage      CoverageCheck      `json:"coverage"`
	EyeVisibility EyeVisibilityCheck `json:"eye_visibility"`
	Resolution    ResolutionCheck    `json:"resolution"`
}

// Report is the aggregate verdict
type Report struct {
	IsValid  bool     `json:"is_valid"`
	Score    float64  `json:"score"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Details  Details  `json:"details"`
}

// Validator scores frames. It holds no state between calls.
type Validator struct {
	cfg config.QualityConfig
}

// NewValidator creates a validator with the given thresholds
func NewValidator(cfg config.QualityConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate runs all five sub-checks. Lighting failures are reported as
// warnings and never affect IsValid.
func (v *Validator) Validate(frame *utils.Frame, bbox models.BBox, landmarks []models.Landmark) Report {
	report := Report{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
	}

	crop := frame.Crop(bbox.X, bbox.Y, bbox.Width, bbox.Height)

	report.Details.Blur = v.CheckBlur(crop)
	if !report.Details.Blur.IsAcceptable {
		report.IsValid = false
		report.Errors = append(report.Errors, "Frame is too blurry")
	}

	report.Details.Lighting = v.CheckLighting(crop)
	if !report.Details.Lighting.IsAcceptable {
		report.Warnings = append(report.Warnings, "Lighting may be suboptimal")
	}

	report.Details.Coverage = v.CheckCoverage(frame, bbox)
	if !report.Details.Coverage.IsAcceptable {
		report.IsValid = false
		report.Errors = append(report.Errors, "Face size is not within acceptable range")
	}

	report.Details.EyeVisibility = CheckEyeVisibility(landmarks)
	if !report.Details.EyeVisibility.BothVisible {
		report.IsValid = false
		report.Errors = append(report.Errors, "Both eyes must be visible")
	}

	report.Details.Resolution = v.CheckResolution(bbox)
	if !report.Details.Resolution.MeetsMinimum {
		report.IsValid = false
		report.Errors = append(report.Errors, fmt.Sprintf("Face resolution too low (minimum: %dx%d)", v.cfg.MinFaceSize, v.cfg.MinFaceSize))
	}

	report.Score = (report.Details.Blur.Score +
		report.Details.Lighting.Score +
		report.Details.Coverage.Score +
		report.Details.EyeVisibility.Score +
		report.Details.Resolution.Score) / 5

	return report
}

// CheckBlur measures the Laplacian variance of the face crop
func (v *Validator) CheckBlur(crop *utils.Frame) BlurCheck {
	if crop.Empty() {
		return BlurCheck{}
	}

	variance := crop.Gray().LaplacianVariance()
	return BlurCheck{
		IsAcceptable: variance >= v.cfg.MinBlurVariance,
		Variance:     variance,
		Score:        BlurScore(variance, v.cfg.MinBlurVariance),
	}
}

// BlurScore maps a Laplacian variance to [0, 1] against a reference variance
func BlurScore(variance, reference float64) float64 {
	if reference <= 0 {
		return 0
	}
	return utils.Clamp(variance/reference, 0, 1)
}

// CheckLighting measures brightness and uniformity of the face crop
func (v *Validator) CheckLighting(crop *utils.Frame) LightingCheck {
	if crop.Empty() {
		return LightingCheck{}
	}

	brightness, stdDev := crop.Gray().MeanStdDev()
	uniformity := 1 - math.Min(stdDev/50, 1)

	return LightingCheck{
		IsAcceptable: brightness >= v.cfg.MinBrightness &&
			brightness <= v.cfg.MaxBrightness &&
			uniformity > v.cfg.MinUniformity,
		Brightness: brightness,
		Uniformity: uniformity,
		Score:      utils.Clamp(0.5*(brightness/200)+0.5*uniformity, 0, 1),
	}
}

// CheckCoverage compares the face area with the frame area
func (v *Validator) CheckCoverage(frame *utils.Frame, bbox models.BBox) CoverageCheck {
	frameArea := frame.Area()
	faceArea := bbox.Area()
	if frameArea <= 0 || faceArea <= 0 {
		return CoverageCheck{}
	}

	coverage := float64(faceArea) / float64(frameArea)
	distance := math.Abs(coverage - v.cfg.IdealCoverage)

	return CoverageCheck{
		IsAcceptable: coverage >= v.cfg.MinCoverage && coverage <= v.cfg.MaxCoverage,
		Coverage:     coverage,
		Score:        1 - math.Min(distance/v.cfg.CoverageSpread, 1),
	}
}

// CheckEyeVisibility requires a right_eye and a left_eye landmark
func CheckEyeVisibility(landmarks []models.Landmark) EyeVisibilityCheck {
	_, right := models.FindLandmark(landmarks, models.RightEye)
	_, left := models.FindLandmark(landmarks, models.LeftEye)

	check := EyeVisibilityCheck{
		RightEyeVisible: right,
		LeftEyeVisible:  left,
		BothVisible:     right && left,
	}
	check.IsAcceptable = check.BothVisible
	if check.BothVisible {
		check.Score = 1
	}
	return check
}

// CheckResolution requires both box sides to reach the minimum face size
func (v *Validator) CheckResolution(bbox models.BBox) ResolutionCheck {
	minDim := min(bbox.Width, bbox.Height)
	if minDim < 0 {
		minDim = 0
	}

	meets := minDim >= v.cfg.MinFaceSize
	return ResolutionCheck{
		IsAcceptable: meets,
		MeetsMinimum: meets,
		Width:        bbox.Width,
		Height:       bbox.Height,
		MinDimension: minDim,
		Score:        utils.Clamp(float64(minDim)/float64(v.cfg.MinFaceSize), 0, 1),
	}
}

// EnrollmentScore blends sharpness, relative face size and detector
// confidence: 0.4 blur + 0.3 size + 0.3 confidence. Faces whose box does not
// overlap the frame score 0.
func EnrollmentScore(frame *utils.Frame, face models.Face) float64 {
	crop := frame.Crop(face.BBox.X, face.BBox.Y, face.BBox.Width, face.BBox.Height)
	if crop.Empty() || frame.Empty() {
		return 0
	}

	blurScore := BlurScore(crop.Gray().LaplacianVariance(), 100)
	sizeScore := math.Min(float64(face.BBox.Area())/(float64(frame.Area())*0.1), 1)
	confidence := utils.Clamp(face.Confidence, 0, 1)

	return utils.Clamp(0.4*blurScore+0.3*sizeScore+0.3*confidence, 0, 1)
}
