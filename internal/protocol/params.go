package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/MrCodeEU/faceservice/pkg/models"
)

// Params holds command-specific parameters. Values stay raw until a handler
// asks for them with the type it expects.
type Params map[string]json.RawMessage

// Has reports whether key is present and not null
func (p Params) Has(key string) bool {
	raw, ok := p[key]
	return ok && string(raw) != "null"
}

// Decode unmarshals the value at key into v
func (p Params) Decode(key string, v any) error {
	raw, ok := p[key]
	if !ok {
		return fmt.Errorf("missing %s parameter", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid %s parameter: %w", key, err)
	}
	return nil
}

// Float returns the number at key, or def when absent
func (p Params) Float(key string, def float64) (float64, error) {
	if !p.Has(key) {
		return def, nil
	}
	var f float64
	if err := p.Decode(key, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// String returns the string at key, or "" when absent or not a string
func (p Params) String(key string) string {
	if !p.Has(key) {
		return ""
	}
	var s string
	if err := p.Decode(key, &s); err != nil {
		return ""
	}
	return s
}

// Bool returns the boolean at key. Absent or non-boolean values are false.
func (p Params) Bool(key string) bool {
	if !p.Has(key) {
		return false
	}
	var b bool
	if err := p.Decode(key, &b); err != nil {
		return false
	}
	return b
}

// BBox parses a bounding box given either as [x, y, width, height] or as an
// object with x, y, width and height. It returns nil when absent.
func (p Params) BBox(key string) (*models.BBox, error) {
	if !p.Has(key) {
		return nil, nil
	}

	var arr []float64
	if err := json.Unmarshal(p[key], &arr); err == nil {
		if len(arr) != 4 {
			return nil, fmt.Errorf("invalid %s parameter: expected 4 values, got %d", key, len(arr))
		}
		return &models.BBox{
			X:      int(arr[0]),
			Y:      int(arr[1]),
			Width:  max(int(arr[2]), 0),
			Height: max(int(arr[3]), 0),
		}, nil
	}

	var box models.BBox
	if err := p.Decode(key, &box); err != nil {
		return nil, err
	}
	box.Width = max(box.Width, 0)
	box.Height = max(box.Height, 0)
	return &box, nil
}

// Embedding parses a list of numbers
func (p Params) Embedding(key string) ([]float32, error) {
	var v []float32
	if err := p.Decode(key, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Landmarks parses a list of landmark objects. Names are derived from the
// type index when missing.
func (p Params) Landmarks(key string) ([]models.Landmark, error) {
	if !p.Has(key) {
		return nil, nil
	}

	var landmarks []models.Landmark
	if err := p.Decode(key, &landmarks); err != nil {
		return nil, err
	}
	for i := range landmarks {
		if landmarks[i].Name == "" {
			landmarks[i].Name = models.LandmarkName(landmarks[i].Type)
		}
	}
	return landmarks, nil
}
