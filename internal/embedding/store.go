// Package embedding provides enrollment storage for face embeddings
package embedding

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/faceservice/internal/recognition"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrSubjectNotFound is returned for unknown subject names
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrDimensionMismatch matches a DimensionError
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DimensionError is returned when a probe cannot be compared with a
// subject's stored captures because the lengths differ
type DimensionError struct {
	Subject string
	Probe   int
	Stored  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%v for subject %s: probe has %d values, stored captures have %d",
		ErrDimensionMismatch, e.Subject, e.Probe, e.Stored)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Subject is an enrolled identity and its captured embeddings
type Subject struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Captures      []Capture  `json:"captures"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastMatchedAt *time.Time `json:"last_matched_at,omitempty"`
	MatchCount    int        `json:"match_count"`
}

// Embeddings returns the embedding of every capture
func (s *Subject) Embeddings() [][]float32 {
	out := make([][]float32, len(s.Captures))
	for i, c := range s.Captures {
		out[i] = c.Embedding
	}
	return out
}

// Capture is one stored enrollment embedding
type Capture struct {
	ID           int64     `json:"id"`
	SubjectID    string    `json:"subject_id"`
	Embedding    []float32 `json:"embedding"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// Match is the best stored capture for a probe embedding
type Match struct {
	Subject    *Subject `json:"-"`
	CaptureID  int64    `json:"capture_id"`
	Similarity float64  `json:"similarity"`
}

// Comparison is one logged comparison against a stored subject
type Comparison struct {
	ID         int64     `json:"id"`
	SubjectID  string    `json:"subject_id"`
	Subject    string    `json:"subject"`
	SessionID  string    `json:"session_id"`
	Similarity float64   `json:"similarity"`
	Threshold  float64   `json:"threshold"`
	Matched    bool      `json:"matched"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store provides persistent storage for face embeddings
type Store struct {
	db *sql.DB
}

// NewStore opens (and creates if needed) the enrollment database
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_matched_at DATETIME,
		match_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS captures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id TEXT NOT NULL,
		embedding BLOB NOT NULL,
		quality_score REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (subject_id) REFERENCES subjects(id)
	);

	CREATE INDEX IF NOT EXISTS idx_captures_subject_id ON captures(subject_id);

	CREATE TABLE IF NOT EXISTS comparisons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id TEXT,
		subject TEXT,
		session_id TEXT,
		similarity REAL,
		threshold REAL,
		matched BOOLEAN NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_comparisons_subject ON comparisons(subject);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SubjectID derives a stable id from a subject name
func SubjectID(name string) string {
	hash := sha256.Sum256([]byte(name))
	return hex.EncodeToString(hash[:16])
}

// AddCapture stores an embedding for a subject, creating the subject on first use
func (s *Store) AddCapture(name string, embedding []float32, qualityScore float64) (*Capture, error) {
	if name == "" {
		return nil, fmt.Errorf("subject name cannot be empty")
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding cannot be empty")
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize embedding: %w", err)
	}

	id := SubjectID(name)
	now := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO subjects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subject: %w", err)
	}

	result, err := tx.Exec(
		`INSERT INTO captures (subject_id, embedding, quality_score, created_at) VALUES (?, ?, ?, ?)`,
		id, embeddingJSON, qualityScore, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store capture: %w", err)
	}
	captureID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get capture id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit capture: %w", err)
	}

	return &Capture{
		ID:           captureID,
		SubjectID:    id,
		Embedding:    embedding,
		QualityScore: qualityScore,
		CreatedAt:    now,
	}, nil
}

// GetSubject retrieves a subject and its captures by name
func (s *Store) GetSubject(name string) (*Subject, error) {
	var subject Subject
	var lastMatchedAt sql.NullTime

	err := s.db.QueryRow(
		`SELECT id, name, created_at, updated_at, last_matched_at, match_count
		 FROM subjects WHERE name = ?`,
		name,
	).Scan(
		&subject.ID, &subject.Name, &subject.CreatedAt,
		&subject.UpdatedAt, &lastMatchedAt, &subject.MatchCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, name)
		}
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}

	if lastMatchedAt.Valid {
		subject.LastMatchedAt = &lastMatchedAt.Time
	}

	subject.Captures, err = s.captures(subject.ID)
	if err != nil {
		return nil, err
	}

	return &subject, nil
}

func (s *Store) captures(subjectID string) ([]Capture, error) {
	rows, err := s.db.Query(
		`SELECT id, subject_id, embedding, quality_score, created_at
		 FROM captures WHERE subject_id = ? ORDER BY id`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	captures := []Capture{}
	for rows.Next() {
		var c Capture
		var embeddingJSON []byte
		var quality sql.NullFloat64

		if err := rows.Scan(&c.ID, &c.SubjectID, &embeddingJSON, &quality, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		if quality.Valid {
			c.QualityScore = quality.Float64
		}

		// Deserialize embedding
		if err := json.Unmarshal(embeddingJSON, &c.Embedding); err != nil {
			return nil, fmt.Errorf("failed to deserialize embedding: %w", err)
		}

		captures = append(captures, c)
	}

	return captures, rows.Err()
}

// ListSubjects returns all enrolled subjects with their captures
func (s *Store) ListSubjects() ([]Subject, error) {
	rows, err := s.db.Query(`SELECT name FROM subjects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		names = append(names, name)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}

	subjects := make([]Subject, 0, len(names))
	for _, name := range names {
		subject, err := s.GetSubject(name)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, *subject)
	}

	return subjects, nil
}

// DeleteSubject removes a subject and all of its captures
func (s *Store) DeleteSubject(name string) error {
	id := SubjectID(name)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM captures WHERE subject_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete captures: %w", err)
	}

	result, err := tx.Exec(`DELETE FROM subjects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subject: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSubjectNotFound, name)
	}

	return tx.Commit()
}

// MatchSubject compares probe with every capture of the named subject and
// returns the most similar one
func (s *Store) MatchSubject(name string, probe []float32) (*Match, error) {
	subject, err := s.GetSubject(name)
	if err != nil {
		return nil, err
	}

	idx, similarity := recognition.BestMatch(probe, subject.Embeddings())
	if idx < 0 {
		for _, c := range subject.Captures {
			if len(c.Embedding) != len(probe) {
				return nil, &DimensionError{Subject: name, Probe: len(probe), Stored: len(c.Embedding)}
			}
		}
		return nil, fmt.Errorf("no comparable capture for subject %s", name)
	}

	return &Match{
		Subject:    subject,
		CaptureID:  subject.Captures[idx].ID,
		Similarity: similarity,
	}, nil
}

// FindBestMatch searches every subject for the capture most similar to probe.
// It returns nil when nothing exceeds threshold.
func (s *Store) FindBestMatch(probe []float32, threshold float64) (*Match, error) {
	subjects, err := s.ListSubjects()
	if err != nil {
		return nil, err
	}

	var best *Match
	for i := range subjects {
		idx, similarity := recognition.BestMatch(probe, subjects[i].Embeddings())
		if idx < 0 {
			continue
		}
		if best == nil || similarity > best.Similarity {
			best = &Match{
				Subject:    &subjects[i],
				CaptureID:  subjects[i].Captures[idx].ID,
				Similarity: similarity,
			}
		}
	}

	if best == nil || best.Similarity <= threshold {
		return nil, nil
	}
	return best, nil
}

// RecordComparison logs a comparison and updates match stats on success
func (s *Store) RecordComparison(c Comparison) error {
	if c.SubjectID == "" && c.Subject != "" {
		c.SubjectID = SubjectID(c.Subject)
	}

	_, err := s.db.Exec(
		`INSERT INTO comparisons (subject_id, subject, session_id, similarity, threshold, matched)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.SubjectID, c.Subject, c.SessionID, c.Similarity, c.Threshold, c.Matched,
	)
	if err != nil {
		return fmt.Errorf("failed to record comparison: %w", err)
	}

	if c.Matched {
		_, _ = s.db.Exec(
			`UPDATE subjects SET last_matched_at = ?, match_count = match_count + 1 WHERE id = ?`,
			time.Now(), c.SubjectID,
		)
	}

	return nil
}

// ComparisonHistory returns the most recent comparisons for a subject
func (s *Store) ComparisonHistory(name string, limit int) ([]Comparison, error) {
	rows, err := s.db.Query(
		`SELECT id, subject_id, subject, session_id, similarity, threshold, matched, created_at
		 FROM comparisons
		 WHERE subject = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get comparison history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []Comparison
	for rows.Next() {
		var c Comparison
		var sessionID sql.NullString

		err := rows.Scan(
			&c.ID, &c.SubjectID, &c.Subject, &sessionID,
			&c.Similarity, &c.Threshold, &c.Matched, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comparison: %w", err)
		}
		c.SessionID = sessionID.String

		history = append(history, c)
	}

	return history, rows.Err()
}
