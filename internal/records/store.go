package records

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// storeData is the on-disk shape of the record store
type storeData struct {
	// Templates keyed by assignment id
	Templates map[string]*Record `json:"templates"`
	// Submissions keyed by "{assignmentID}/{userID}"
	Submissions map[string]*Record `json:"submissions"`
}

// fileStore implements Store using a single JSON file with atomic writes
type fileStore struct {
	path string

	mu   sync.RWMutex
	data storeData
}

// NewFileStore creates a file-backed record store at the given path,
// loading any existing records. A missing file is not an error (first run).
func NewFileStore(path string) (Store, error) {
	s := &fileStore{
		path: path,
		data: storeData{
			Templates:   make(map[string]*Record),
			Submissions: make(map[string]*Record),
		},
	}

	// #nosec G304 -- path comes from trusted configuration
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read record store: %w", err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record store: %w", err)
	}
	if s.data.Templates == nil {
		s.data.Templates = make(map[string]*Record)
	}
	if s.data.Submissions == nil {
		s.data.Submissions = make(map[string]*Record)
	}

	return s, nil
}

// submissionKey builds the map key for a submission record
func submissionKey(assignmentID, userID string) string {
	return assignmentID + "/" + userID
}

// PutTemplate records the template repository for an assignment.
// If a record already exists for the assignment, it is returned unchanged.
func (s *fileStore) PutTemplate(_ context.Context, rec *Record) (*Record, error) {
	if rec.AssignmentID == "" || rec.Path == "" {
		return nil, fmt.Errorf("template record requires assignment id and path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.data.Templates[rec.AssignmentID]; ok {
		return cloneRecord(existing), nil
	}

	stored := cloneRecord(rec)
	stored.Kind = KindTemplate
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.data.Templates[rec.AssignmentID] = stored

	if err := s.persistLocked(); err != nil {
		delete(s.data.Templates, rec.AssignmentID)
		return nil, err
	}
	return cloneRecord(stored), nil
}

// PutSubmission records the submission repository for an (assignment, user)
// pair. If a record already exists for the pair, it is returned unchanged.
func (s *fileStore) PutSubmission(_ context.Context, rec *Record) (*Record, error) {
	if rec.AssignmentID == "" || rec.UserID == "" || rec.Path == "" || rec.SubmissionID == "" {
		return nil, fmt.Errorf("submission record requires assignment id, user id, submission id and path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := submissionKey(rec.AssignmentID, rec.UserID)
	if existing, ok := s.data.Submissions[key]; ok {
		return cloneRecord(existing), nil
	}

	stored := cloneRecord(rec)
	stored.Kind = KindSubmission
	if stored.Status == "" {
		stored.Status = StatusDraft
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.data.Submissions[key] = stored

	if err := s.persistLocked(); err != nil {
		delete(s.data.Submissions, key)
		return nil, err
	}
	return cloneRecord(stored), nil
}

// TemplateByAssignment returns the template record for an assignment
func (s *fileStore) TemplateByAssignment(_ context.Context, assignmentID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data.Templates[assignmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// SubmissionByAssignment returns the submission record for an (assignment, user) pair
func (s *fileStore) SubmissionByAssignment(_ context.Context, assignmentID, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data.Submissions[submissionKey(assignmentID, userID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// SubmissionByID returns the submission record with the given submission id
func (s *fileStore) SubmissionByID(_ context.Context, submissionID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.data.Submissions {
		if rec.SubmissionID == submissionID {
			return cloneRecord(rec), nil
		}
	}
	return nil, ErrNotFound
}

// SetPrivate updates the recorded visibility of a repository. The key is
// the assignment id for templates and the submission id for submissions.
func (s *fileStore) SetPrivate(_ context.Context, kind Kind, key string, private bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookupLocked(kind, key)
	if err != nil {
		return err
	}
	rec.Private = private
	return s.persistLocked()
}

// SetStatus updates the workflow status of a submission
func (s *fileStore) SetStatus(_ context.Context, submissionID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookupLocked(KindSubmission, submissionID)
	if err != nil {
		return err
	}
	rec.Status = status
	return s.persistLocked()
}

// lookupLocked finds the stored (mutable) record for a kind and key.
// Callers must hold the write lock.
func (s *fileStore) lookupLocked(kind Kind, key string) (*Record, error) {
	switch kind {
	case KindTemplate:
		if rec, ok := s.data.Templates[key]; ok {
			return rec, nil
		}
	case KindSubmission:
		for _, rec := range s.data.Submissions {
			if rec.SubmissionID == key {
				return rec, nil
			}
		}
	}
	return nil, ErrNotFound
}

// persistLocked writes the store to disk via a temporary file and atomic
// rename. Callers must hold the write lock.
func (s *fileStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create record store directory: %w", err)
	}

	data, err := json.MarshalIndent(&s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record store: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary record store file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename record store file: %w", err)
	}

	return nil
}

func cloneRecord(rec *Record) *Record {
	c := *rec
	return &c
}
