package dispatch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/MrCodeEU/faceservice/internal/embedding"
	"github.com/MrCodeEU/faceservice/internal/liveness"
	"github.com/MrCodeEU/faceservice/internal/protocol"
	"github.com/MrCodeEU/faceservice/internal/quality"
	"github.com/MrCodeEU/faceservice/internal/recognition"
	"github.com/MrCodeEU/faceservice/pkg/models"
	"github.com/MrCodeEU/faceservice/pkg/utils"
)

// FaceResult is one detected face in a DETECT response
type FaceResult struct {
	X          int               `json:"x"`
	Y          int               `json:"y"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Confidence float64           `json:"confidence"`
	Landmarks  []models.Landmark `json:"landmarks"`
}

// DetectResult is the DETECT payload
type DetectResult struct {
	Faces []FaceResult `json:"faces"`
}

// EmbeddingResult is the EXTRACT_EMBEDDING payload
type EmbeddingResult struct {
	Embedding  []float32 `json:"embedding"`
	Confidence float64   `json:"confidence"`
}

// CompareResult is the COMPARE payload
type CompareResult struct {
	Match      bool    `json:"match"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
	Subject    string  `json:"subject,omitempty"`
	CaptureID  int64   `json:"capture_id,omitempty"`
}

// EnrollResult is the ENROLL_CAPTURE payload
type EnrollResult struct {
	Embedding     []float32         `json:"embedding"`
	BBox          []int             `json:"bbox"`
	Confidence    float64           `json:"confidence"`
	QualityScore  float64           `json:"quality_score"`
	Landmarks     []models.Landmark `json:"landmarks"`
	QualityReport *quality.Report   `json:"quality_report,omitempty"`
	Subject       string            `json:"subject,omitempty"`
	Stored        bool              `json:"stored,omitempty"`
	CaptureID     int64             `json:"capture_id,omitempty"`
}

// SessionResult is the RESET_SESSION payload
type SessionResult struct {
	SessionID string `json:"session_id"`
	Reset     bool   `json:"reset"`
}

// PingResult is the PING payload
type PingResult struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Version   string `json:"version"`
}

func (s *Session) decodeFrame(req *protocol.Request) (*utils.Frame, error) {
	if req.FrameData == "" {
		return nil, reject("Invalid frame data")
	}

	data, err := base64.StdEncoding.DecodeString(req.FrameData)
	if err != nil {
		s.log.Debugf("Error decoding frame: %v", err)
		return nil, reject("Invalid frame data")
	}

	frame, err := s.d.decoder.Decode(data)
	if err != nil {
		s.log.Debugf("Error decoding frame: %v", err)
		return nil, reject("Invalid frame data")
	}
	return frame, nil
}

func (s *Session) detect(ctx context.Context, frame *utils.Frame) ([]models.Face, error) {
	faces, err := s.d.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fault("Face detection failed", err)
	}
	return faces, nil
}

func (s *Session) embed(ctx context.Context, frame *utils.Frame, bbox *models.BBox) ([]float32, error) {
	emb, err := s.d.recognizer.Embed(ctx, frame, bbox)
	if err != nil {
		return nil, fault("Embedding extraction failed", err)
	}
	if emb != nil && len(emb) != s.d.embSize {
		return nil, fault("Embedding extraction failed",
			fmt.Errorf("recognizer returned %d values, expected %d", len(emb), s.d.embSize))
	}
	return emb, nil
}

// largestFace detects faces and keeps the largest one
func (s *Session) largestFace(ctx context.Context, frame *utils.Frame) (models.Face, error) {
	faces, err := s.detect(ctx, frame)
	if err != nil {
		return models.Face{}, err
	}
	if len(faces) == 0 {
		return models.Face{}, reject("No face detected")
	}
	face, ok := models.Largest(faces)
	if !ok {
		return models.Face{}, reject("No valid face detected")
	}
	return face, nil
}

func (s *Session) handleDetect(ctx context.Context, req *protocol.Request) (any, error) {
	frame, err := s.decodeFrame(req)
	if err != nil {
		return nil, err
	}

	faces, err := s.detect(ctx, frame)
	if err != nil {
		return nil, err
	}

	result := DetectResult{Faces: make([]FaceResult, 0, len(faces))}
	for _, f := range faces {
		result.Faces = append(result.Faces, FaceResult{
			X:          f.BBox.X,
			Y:          f.BBox.Y,
			Width:      f.BBox.Width,
			Height:     f.BBox.Height,
			Confidence: f.Confidence,
			Landmarks:  f.Landmarks,
		})
	}
	return result, nil
}

func (s *Session) handleExtractEmbedding(ctx context.Context, req *protocol.Request) (any, error) {
	frame, err := s.decodeFrame(req)
	if err != nil {
		return nil, err
	}

	bbox, err := req.Parameters.BBox("bbox")
	if err != nil {
		return nil, reject("%v", err)
	}

	emb, err := s.embed(ctx, frame, bbox)
	if err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, reject("No face detected")
	}

	// The recognizer does not report a confidence of its own
	return EmbeddingResult{Embedding: emb, Confidence: 1.0}, nil
}

func (s *Session) handleCompare(ctx context.Context, req *protocol.Request) (any, error) {
	frame, err := s.decodeFrame(req)
	if err != nil {
		return nil, err
	}

	params := req.Parameters
	subject := params.String("subject")
	identify := params.Bool("identify")
	if !params.Has("embedding") && subject == "" && !identify {
		return nil, reject("Missing embedding parameter")
	}

	probe, err := s.embed(ctx, frame, nil)
	if err != nil {
		return nil, err
	}
	if probe == nil {
		return nil, reject("No face detected in frame")
	}

	threshold, err := params.Float("threshold", s.d.threshold)
	if err != nil {
		return nil, reject("%v", err)
	}

	if params.Has("embedding") {
		reference, err := params.Embedding("embedding")
		if err != nil {
			return nil, reject("%v", err)
		}
		if len(reference) != s.d.embSize {
			return nil, reject("Embedding length mismatch: expected %d, got %d", s.d.embSize, len(reference))
		}

		match, similarity := recognition.Compare(probe, reference, threshold)
		return CompareResult{Match: match, Similarity: similarity, Threshold: threshold}, nil
	}

	if subject == "" {
		return s.identify(probe, threshold)
	}
	return s.compareSubject(subject, probe, threshold)
}

// identify searches every enrolled subject for the best match above threshold
func (s *Session) identify(probe []float32, threshold float64) (any, error) {
	if s.d.store == nil {
		return nil, reject("Enrollment storage is disabled")
	}

	m, err := s.d.store.FindBestMatch(probe, threshold)
	if err != nil {
		return nil, fault("Failed to search subjects", err)
	}
	if m == nil {
		return CompareResult{Threshold: threshold}, nil
	}

	result := CompareResult{
		Match:      true,
		Similarity: m.Similarity,
		Threshold:  threshold,
		Subject:    m.Subject.Name,
		CaptureID:  m.CaptureID,
	}
	s.recordComparison(result)
	return result, nil
}

func (s *Session) compareSubject(subject string, probe []float32, threshold float64) (any, error) {
	if s.d.store == nil {
		return nil, reject("Enrollment storage is disabled")
	}

	m, err := s.d.store.MatchSubject(subject, probe)
	if err != nil {
		if errors.Is(err, embedding.ErrSubjectNotFound) {
			return nil, reject("Unknown subject: %s", subject)
		}
		var dimErr *embedding.DimensionError
		if errors.As(err, &dimErr) {
			return nil, reject("Embedding length mismatch: expected %d, got %d", dimErr.Probe, dimErr.Stored)
		}
		return nil, fault("Failed to match subject", err)
	}

	result := CompareResult{
		Match:      m.Similarity > threshold,
		Similarity: m.Similarity,
		Threshold:  threshold,
		Subject:    subject,
		CaptureID:  m.CaptureID,
	}

	s.recordComparison(result)
	return result, nil
}

// recordComparison logs a comparison against a stored subject. Failures are
// logged but do not fail the command.
func (s *Session) recordComparison(result CompareResult) {
	err := s.d.store.RecordComparison(embedding.Comparison{
		Subject:    result.Subject,
		SessionID:  s.id,
		Similarity: result.Similarity,
		Threshold:  result.Threshold,
		Matched:    result.Match,
	})
	if err != nil {
		s.log.Errorf("Failed to record comparison: %v", err)
	}
}

func (s *Session) handleEnrollCapture(ctx context.Context, req *protocol.Request) (any, error) {
	frame, err := s.decodeFrame(req)
	if err != nil {
		return nil, err
	}

	face, err := s.largestFace(ctx, frame)
	if err != nil {
		return nil, err
	}

	emb, err := s.embed(ctx, frame, &face.BBox)
	if err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, reject("Failed to extract embedding")
	}

	result := EnrollResult{
		Embedding:    emb,
		BBox:         face.BBox.Slice(),
		Confidence:   face.Confidence,
		QualityScore: quality.EnrollmentScore(frame, face),
		Landmarks:    face.Landmarks,
	}

	if req.Parameters.Bool("validate") {
		report := s.d.validator.Validate(frame, face.BBox, face.Landmarks)
		result.QualityReport = &report
	}

	if subject := req.Parameters.String("subject"); subject != "" {
		if s.d.store == nil {
			return nil, reject("Enrollment storage is disabled")
		}
		result.Subject = subject

		// A capture that failed explicit validation is returned but not kept
		if result.QualityReport == nil || result.QualityReport.IsValid {
			capture, err := s.d.store.AddCapture(subject, emb, result.QualityScore)
			if err != nil {
				return nil, fault("Failed to store capture", err)
			}
			result.Stored = true
			result.CaptureID = capture.ID
			s.log.Infof("Stored capture %d for subject %s", capture.ID, subject)
		}
	}

	return result, nil
}

func (s *Session) handleValidateQuality(ctx context.Context, req *protocol.Request) (any, error) {
	frame, err := s.decodeFrame(req)
	if err != nil {
		return nil, err
	}

	bbox, err := req.Parameters.BBox("bbox")
	if err != nil {
		return nil, reject("%v", err)
	}

	if bbox != nil {
		landmarks, err := req.Parameters.Landmarks("landmarks")
		if err != nil {
			return nil, reject("%v", err)
		}
		return s.d.validator.Validate(frame, *bbox, landmarks), nil
	}

	face, err := s.largestFace(ctx, frame)
	if err != nil {
		return nil, err
	}
	return s.d.validator.Validate(frame, face.BBox, face.Landmarks), nil
}

func (s *Session) handleCheckLiveness(ctx context.Context, req *protocol.Request) (any, error) {
	method, err := liveness.ParseMethod(req.Parameters.String("method"))
	if err != nil {
		return nil, reject("Invalid liveness method: %s", req.Parameters.String("method"))
	}

	if req.Parameters.Has("landmarks") {
		landmarks, err := req.Parameters.Landmarks("landmarks")
		if err != nil {
			return nil, reject("%v", err)
		}
		return s.liveness.Check(landmarks, method), nil
	}

	frame, err := s.decodeFrame(req)
	if err != nil {
		return nil, err
	}
	face, err := s.largestFace(ctx, frame)
	if err != nil {
		return nil, err
	}
	return s.liveness.Check(face.Landmarks, method), nil
}

func (s *Session) handleCheckSpoof(_ context.Context, req *protocol.Request) (any, error) {
	frame, err := s.decodeFrame(req)
	if err != nil {
		return nil, err
	}

	bbox, err := req.Parameters.BBox("bbox")
	if err != nil {
		return nil, reject("%v", err)
	}
	if bbox != nil {
		frame = frame.Crop(bbox.X, bbox.Y, bbox.Width, bbox.Height)
	}

	return s.d.liveness.DetectSpoof(frame), nil
}

func (s *Session) handleResetSession(_ context.Context, _ *protocol.Request) (any, error) {
	s.liveness.Reset()
	return SessionResult{SessionID: s.id, Reset: true}, nil
}

func (s *Session) handlePing(_ context.Context, _ *protocol.Request) (any, error) {
	return PingResult{Status: "ok", SessionID: s.id, Version: s.d.version}, nil
}
