package quality

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/MrCodeEU/faceservice/internal/config"
	"github.com/MrCodeEU/faceservice/pkg/models"
	"github.com/MrCodeEU/faceservice/pkg/utils"
	"github.com/disintegration/imaging"
)

// texturedImage alternates two gray levels per pixel, giving a large
// Laplacian response with a predictable mean.
func texturedImage(w, h int, lo, hi uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := lo
			if (x+y)%2 == 0 {
				v = hi
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func flatImage(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func bothEyes() []models.Landmark {
	return []models.Landmark{
		models.NewLandmark(120, 150, 0),
		models.NewLandmark(200, 150, 1),
		models.NewLandmark(160, 200, 2),
	}
}

func newValidator() *Validator {
	return NewValidator(config.DefaultConfig().Quality)
}

func TestValidatePassingFrame(t *testing.T) {
	// 400x400 frame, 320x320 face = 64% coverage
	frame := utils.NewFrame(texturedImage(400, 400, 120, 140))
	bbox := models.BBox{X: 40, Y: 40, Width: 320, Height: 320}

	report := newValidator().Validate(frame, bbox, bothEyes())

	if !report.IsValid {
		t.Fatalf("Expected valid report, errors: %v", report.Errors)
	}
	if !report.Details.Blur.IsAcceptable || report.Details.Blur.Score != 1 {
		t.Errorf("Expected sharp crop, got %+v", report.Details.Blur)
	}
	if !report.Details.Lighting.IsAcceptable {
		t.Errorf("Expected acceptable lighting, got %+v", report.Details.Lighting)
	}
	if !report.Details.Resolution.MeetsMinimum || report.Details.Resolution.MinDimension != 320 {
		t.Errorf("Unexpected resolution check: %+v", report.Details.Resolution)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", report.Warnings)
	}

	d := report.Details
	mean := (d.Blur.Score + d.Lighting.Score + d.Coverage.Score + d.EyeVisibility.Score + d.Resolution.Score) / 5
	if math.Abs(report.Score-mean) > 1e-12 {
		t.Errorf("Expected score to be the mean of sub-scores (%f), got %f", mean, report.Score)
	}
}

func TestLightingFailureIsOnlyAWarning(t *testing.T) {
	// Very dark but sharp: brightness ~10
	frame := utils.NewFrame(texturedImage(400, 400, 0, 20))
	bbox := models.BBox{X: 40, Y: 40, Width: 320, Height: 320}

	report := newValidator().Validate(frame, bbox, bothEyes())

	if report.Details.Lighting.IsAcceptable {
		t.Fatalf("Expected lighting to fail, got %+v", report.Details.Lighting)
	}
	if !report.IsValid {
		t.Errorf("Expected lighting failure not to block validity, errors: %v", report.Errors)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("Expected one warning, got %v", report.Warnings)
	}
}

func TestBlurryFrameIsInvalid(t *testing.T) {
	frame := utils.NewFrame(flatImage(400, 400, 128))
	bbox := models.BBox{X: 40, Y: 40, Width: 320, Height: 320}

	report := newValidator().Validate(frame, bbox, bothEyes())

	if report.IsValid {
		t.Fatal("Expected flat frame to be rejected")
	}
	if report.Details.Blur.IsAcceptable || report.Details.Blur.Score != 0 {
		t.Errorf("Expected blur failure, got %+v", report.Details.Blur)
	}
}

func TestCheckCoverage(t *testing.T) {
	v := newValidator()
	frame := utils.NewFrame(flatImage(100, 100, 128))

	tests := []struct {
		name       string
		bbox       models.BBox
		acceptable bool
		score      float64
	}{
		{"ideal 65%", models.BBox{Width: 65, Height: 100}, true, 1.0},
		{"lower bound 50%", models.BBox{Width: 50, Height: 100}, true, 0.0},
		{"too small 10%", models.BBox{Width: 10, Height: 100}, false, 0.0},
		{"too large 95%", models.BBox{Width: 95, Height: 100}, false, 0.0},
		{"zero area", models.BBox{Width: 0, Height: 100}, false, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := v.CheckCoverage(frame, tt.bbox)
			if check.IsAcceptable != tt.acceptable {
				t.Errorf("Expected acceptable=%v, got %v (coverage %.3f)", tt.acceptable, check.IsAcceptable, check.Coverage)
			}
			if math.Abs(check.Score-tt.score) > 1e-9 {
				t.Errorf("Expected score %.3f, got %.3f", tt.score, check.Score)
			}
		})
	}
}

func TestCheckEyeVisibility(t *testing.T) {
	tests := []struct {
		name      string
		landmarks []models.Landmark
		both      bool
	}{
		{"both", bothEyes(), true},
		{"right only", []models.Landmark{models.NewLandmark(1, 1, 0)}, false},
		{"left only", []models.Landmark{models.NewLandmark(1, 1, 1)}, false},
		{"none", nil, false},
		{"unknown indices", []models.Landmark{models.NewLandmark(1, 1, 9), models.NewLandmark(1, 1, 10)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := CheckEyeVisibility(tt.landmarks)
			if check.BothVisible != tt.both {
				t.Errorf("Expected both=%v, got %v", tt.both, check.BothVisible)
			}
			want := 0.0
			if tt.both {
				want = 1.0
			}
			if check.Score != want {
				t.Errorf("Expected score %.1f, got %.1f", want, check.Score)
			}
		})
	}
}

func TestCheckResolution(t *testing.T) {
	v := newValidator()

	check := v.CheckResolution(models.BBox{Width: 300, Height: 112})
	if check.MeetsMinimum {
		t.Error("Expected 112px face to fail the 224px minimum")
	}
	if math.Abs(check.Score-0.5) > 1e-9 {
		t.Errorf("Expected score 0.5, got %f", check.Score)
	}

	check = v.CheckResolution(models.BBox{Width: 224, Height: 500})
	if !check.MeetsMinimum || check.Score != 1 {
		t.Errorf("Expected 224px face to pass with score 1, got %+v", check)
	}
}

func TestEmptyCropShortCircuits(t *testing.T) {
	frame := utils.NewFrame(texturedImage(100, 100, 0, 255))
	bbox := models.BBox{X: 500, Y: 500, Width: 250, Height: 250}

	report := newValidator().Validate(frame, bbox, bothEyes())

	if report.Details.Blur.IsAcceptable || report.Details.Blur.Score != 0 {
		t.Errorf("Expected blur short-circuit, got %+v", report.Details.Blur)
	}
	if report.Details.Lighting.IsAcceptable || report.Details.Lighting.Score != 0 {
		t.Errorf("Expected lighting short-circuit, got %+v", report.Details.Lighting)
	}
	if report.IsValid {
		t.Error("Expected invalid report")
	}
}

func TestScoresSurviveUpscaling(t *testing.T) {
	v := newValidator()
	src := texturedImage(300, 300, 110, 150)
	bbox := models.BBox{X: 30, Y: 30, Width: 240, Height: 240}

	small := v.Validate(utils.NewFrame(src), bbox, bothEyes())
	big := v.Validate(
		utils.NewFrame(imaging.Resize(src, 600, 600, imaging.NearestNeighbor)),
		models.BBox{X: 60, Y: 60, Width: 480, Height: 480},
		bothEyes(),
	)

	if !small.IsValid || !big.IsValid {
		t.Fatalf("Expected both scales to pass: small=%v big=%v", small.Errors, big.Errors)
	}
	if math.Abs(small.Details.Coverage.Score-big.Details.Coverage.Score) > 1e-9 {
		t.Errorf("Coverage score changed with scale: %f vs %f", small.Details.Coverage.Score, big.Details.Coverage.Score)
	}
	if math.Abs(small.Details.Lighting.Brightness-big.Details.Lighting.Brightness) > 1 {
		t.Errorf("Brightness changed with scale: %f vs %f", small.Details.Lighting.Brightness, big.Details.Lighting.Brightness)
	}
	if big.Score < small.Score-1e-9 {
		t.Errorf("Expected score not to drop when upscaling: %f -> %f", small.Score, big.Score)
	}
}

func TestEnrollmentScore(t *testing.T) {
	// 640x480 frame, face (100,100,300,300), confidence 0.95, sharp texture
	frame := utils.NewFrame(texturedImage(640, 480, 100, 160))
	face := models.Face{
		BBox:       models.BBox{X: 100, Y: 100, Width: 300, Height: 300},
		Confidence: 0.95,
	}

	score := EnrollmentScore(frame, face)
	if math.Abs(score-0.985) > 1e-9 {
		t.Errorf("Expected 0.985, got %f", score)
	}

	face.BBox.X = 1000
	if score := EnrollmentScore(frame, face); score != 0 {
		t.Errorf("Expected 0 for face outside frame, got %f", score)
	}
}
