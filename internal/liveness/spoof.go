package liveness

import (
	"math"

	"github.com/MrCodeEU/faceservice/pkg/utils"
)

// Spoof reasons
const (
	ReasonLowTexture    = "low_texture"
	ReasonLowSaturation = "low_saturation"
)

// SpoofResult is the outcome of the single-frame spoof heuristic
type SpoofResult struct {
	IsSpoof         bool     `json:"is_spoof"`
	Confidence      float64  `json:"confidence"`
	Reasons         []string `json:"reasons"`
	TextureVariance float64  `json:"texture_variance"`
	Saturation      float64  `json:"saturation"`
}

// DetectSpoof flags prints (flat texture) and screen replays (washed out
// color). Only low texture marks the frame as a spoof; low saturation raises
// the confidence to at least 0.4 and is reported as a reason.
func (e *Engine) DetectSpoof(frame *utils.Frame) SpoofResult {
	result := SpoofResult{Reasons: []string{}}
	if frame == nil || frame.Empty() {
		return result
	}

	result.TextureVariance = frame.Gray().LaplacianVariance()
	if result.TextureVariance < e.cfg.TextureThreshold {
		result.IsSpoof = true
		result.Confidence = 0.6
		result.Reasons = append(result.Reasons, ReasonLowTexture)
	}

	result.Saturation = frame.MeanSaturation()
	if result.Saturation < e.cfg.SaturationThreshold {
		result.Confidence = math.Max(result.Confidence, 0.4)
		result.Reasons = append(result.Reasons, ReasonLowSaturation)
	}

	return result
}
