// Package embedding provides tests for the embedding store
package embedding

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "data", "faceservice.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	store := newTestStore(t)

	t.Run("AddCapture", func(t *testing.T) {
		if _, err := store.AddCapture("alice", []float32{0.1, 0.2, 0.3, 0.4, 0.5}, 0.9); err != nil {
			t.Fatalf("Failed to add capture: %v", err)
		}
		capture, err := store.AddCapture("alice", []float32{0.2, 0.3, 0.4, 0.5, 0.6}, 0.8)
		if err != nil {
			t.Fatalf("Failed to add capture: %v", err)
		}
		if capture.SubjectID != SubjectID("alice") {
			t.Errorf("Expected subject id %s, got %s", SubjectID("alice"), capture.SubjectID)
		}
	})

	t.Run("GetSubject", func(t *testing.T) {
		subject, err := store.GetSubject("alice")
		if err != nil {
			t.Fatalf("Failed to get subject: %v", err)
		}
		if subject.Name != "alice" {
			t.Errorf("Expected name 'alice', got '%s'", subject.Name)
		}
		if len(subject.Captures) != 2 {
			t.Fatalf("Expected 2 captures, got %d", len(subject.Captures))
		}
		if subject.Captures[0].QualityScore != 0.9 || subject.Captures[1].Embedding[4] != 0.6 {
			t.Errorf("Captures did not round-trip: %+v", subject.Captures)
		}
	})

	t.Run("MatchSubject", func(t *testing.T) {
		match, err := store.MatchSubject("alice", []float32{0.21, 0.31, 0.41, 0.51, 0.61})
		if err != nil {
			t.Fatalf("Failed to match subject: %v", err)
		}
		subject, _ := store.GetSubject("alice")
		if match.CaptureID != subject.Captures[1].ID {
			t.Errorf("Expected second capture to match best, got %d", match.CaptureID)
		}
		if match.Similarity < 0.99 {
			t.Errorf("Expected high similarity, got %f", match.Similarity)
		}
	})

	t.Run("FindBestMatch", func(t *testing.T) {
		if _, err := store.AddCapture("bob", []float32{-1, 0, 1, 0, -1}, 0.7); err != nil {
			t.Fatalf("Failed to add capture: %v", err)
		}

		match, err := store.FindBestMatch([]float32{0.11, 0.21, 0.31, 0.41, 0.51}, 0.5)
		if err != nil {
			t.Fatalf("Failed to find best match: %v", err)
		}
		if match == nil || match.Subject.Name != "alice" {
			t.Fatalf("Expected alice to match, got %+v", match)
		}

		match, err = store.FindBestMatch([]float32{0.11, 0.21, 0.31, 0.41, 0.51}, 1.0)
		if err != nil || match != nil {
			t.Errorf("Expected no match above threshold 1.0, got %+v (%v)", match, err)
		}
	})

	t.Run("RecordComparison", func(t *testing.T) {
		err := store.RecordComparison(Comparison{
			Subject:    "alice",
			SessionID:  "session-1",
			Similarity: 0.82,
			Threshold:  0.6,
			Matched:    true,
		})
		if err != nil {
			t.Fatalf("Failed to record comparison: %v", err)
		}

		history, err := store.ComparisonHistory("alice", 10)
		if err != nil {
			t.Fatalf("Failed to read history: %v", err)
		}
		if len(history) != 1 || !history[0].Matched || history[0].SessionID != "session-1" {
			t.Errorf("Unexpected history: %+v", history)
		}

		subject, _ := store.GetSubject("alice")
		if subject.MatchCount != 1 || subject.LastMatchedAt == nil {
			t.Errorf("Expected match stats to update, got %+v", subject)
		}
	})

	t.Run("ListSubjects", func(t *testing.T) {
		subjects, err := store.ListSubjects()
		if err != nil {
			t.Fatalf("Failed to list subjects: %v", err)
		}
		if len(subjects) != 2 || subjects[0].Name != "alice" || subjects[1].Name != "bob" {
			t.Errorf("Unexpected subjects: %+v", subjects)
		}
	})

	t.Run("DeleteSubject", func(t *testing.T) {
		if err := store.DeleteSubject("bob"); err != nil {
			t.Fatalf("Failed to delete subject: %v", err)
		}
		if _, err := store.GetSubject("bob"); !errors.Is(err, ErrSubjectNotFound) {
			t.Errorf("Expected ErrSubjectNotFound, got %v", err)
		}
		if err := store.DeleteSubject("bob"); !errors.Is(err, ErrSubjectNotFound) {
			t.Errorf("Expected ErrSubjectNotFound on second delete, got %v", err)
		}
	})
}

func TestAddCaptureRejectsEmptyInput(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.AddCapture("", []float32{1}, 0); err == nil {
		t.Error("Expected error for empty name")
	}
	if _, err := store.AddCapture("carol", nil, 0); err == nil {
		t.Error("Expected error for empty embedding")
	}
}

func TestMatchSubjectDimensionMismatch(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.AddCapture("dave", []float32{1, 0, 0}, 0.5); err != nil {
		t.Fatalf("Failed to add capture: %v", err)
	}
	_, err := store.MatchSubject("dave", []float32{1, 0})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Expected ErrDimensionMismatch, got %v", err)
	}
	var dimErr *DimensionError
	if !errors.As(err, &dimErr) || dimErr.Probe != 2 || dimErr.Stored != 3 || dimErr.Subject != "dave" {
		t.Errorf("Unexpected dimension error: %+v", dimErr)
	}
	if _, err := store.MatchSubject("nobody", []float32{1, 0, 0}); !errors.Is(err, ErrSubjectNotFound) {
		t.Errorf("Expected ErrSubjectNotFound, got %v", err)
	}
}
