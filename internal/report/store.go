// Package report persists end-of-session debriefs: a flat directory of PDF
// files indexed by a metadata.json sidecar.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coachvisio/coachvisio/internal/persona"
)

// ErrNotFound is returned when no report matches the requested id, or its
// PDF file is gone.
var ErrNotFound = errors.New("report not found")

// Record is one saved report's metadata entry.
type Record struct {
	ID              string `json:"id"`
	CreatedAt       string `json:"createdAt"`
	Persona         string `json:"persona"`
	DurationSeconds int    `json:"durationSeconds"`
	FileName        string `json:"fileName"`
}

const metadataFile = "metadata.json"

// Store reads and writes reports under a single directory.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger zerolog.Logger
}

// NewStore prepares the reports directory and its metadata index.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger}
	meta := filepath.Join(dir, metadataFile)
	if _, err := os.Stat(meta); os.IsNotExist(err) {
		if err := os.WriteFile(meta, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("init metadata: %w", err)
		}
	}
	return s, nil
}

// Save writes the PDF and appends its metadata entry. The persona id is
// stored as given; callers validate it against the catalog.
func (s *Store) Save(personaID string, durationSeconds int, fileName string, pdf []byte) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		Persona:         personaID,
		DurationSeconds: durationSeconds,
		FileName:        fileName,
	}

	if err := os.WriteFile(s.pdfPath(rec.ID), pdf, 0o644); err != nil {
		return Record{}, fmt.Errorf("write report pdf: %w", err)
	}

	records := s.readLocked()
	records = append(records, rec)
	if err := s.writeLocked(records); err != nil {
		return Record{}, err
	}

	s.logger.Info().Str("id", rec.ID).Str("persona", personaID).Msg("report saved")
	return rec, nil
}

// List returns all records, most recent first.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readLocked()
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
	return records
}

// Get returns the record and PDF path for id. A record whose file has gone
// missing counts as not found.
func (s *Store) Get(id string) (Record, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.readLocked() {
		if rec.ID != id {
			continue
		}
		path := s.pdfPath(rec.ID)
		if _, err := os.Stat(path); err != nil {
			return Record{}, "", ErrNotFound
		}
		return rec, path, nil
	}
	return Record{}, "", ErrNotFound
}

func (s *Store) pdfPath(id string) string {
	return filepath.Join(s.dir, id+".pdf")
}

// readLocked loads the metadata index, dropping entries that fail
// validation. A malformed index is reset to empty rather than blocking all
// report access.
func (s *Store) readLocked() []Record {
	raw, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if err != nil {
		return nil
	}

	var parsed []Record
	if err := json.Unmarshal(raw, &parsed); err != nil {
		s.logger.Warn().Err(err).Msg("metadata index malformed, resetting")
		_ = s.writeLocked(nil)
		return nil
	}

	records := parsed[:0]
	for _, rec := range parsed {
		if rec.ID == "" || rec.CreatedAt == "" || rec.FileName == "" {
			continue
		}
		if rec.DurationSeconds < 0 || !persona.IsID(rec.Persona) {
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (s *Store) writeLocked(records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	path := filepath.Join(s.dir, metadataFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return os.Rename(tmp, path)
}
