package devserver

import (
	"fmt"
	"sync"

	"github.com/clinops/intake-tracker/internal/models"
)

// Ignore reasons returned in the "ignored" list of an upload reply.
const (
	ReasonDuplicate = "duplicate of a previously submitted document"
	ReasonQuota     = "document quota reached; upgrade your plan to process more documents"
)

// upload is one received file reduced to what admission needs.
type upload struct {
	Name   string
	Digest string
}

// Store keeps job and batch records in memory. Reads return copies so a
// handler never races the simulator.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]*models.Job
	batches  map[string]*models.Batch
	seen     map[string]string // digest -> first filename
	quota    int
	accepted int
}

// NewStore creates a store admitting at most quota documents over its
// lifetime. A quota of zero or less is unlimited.
func NewStore(quota int) *Store {
	return &Store{
		jobs:    make(map[string]*models.Job),
		batches: make(map[string]*models.Batch),
		seen:    make(map[string]string),
		quota:   quota,
	}
}

// Admit splits files into the accepted ones and the ignored ones with a reason.
// Duplicates are checked by content digest, against earlier submissions and
// within this one.
func (s *Store) Admit(files []upload) (accepted []upload, ignored []models.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range files {
		if _, dup := s.seen[f.Digest]; dup {
			ignored = append(ignored, models.Item{Filename: f.Name, Message: ReasonDuplicate})
			continue
		}
		if s.quota > 0 && s.accepted >= s.quota {
			ignored = append(ignored, models.Item{Filename: f.Name, Message: ReasonQuota})
			continue
		}
		s.seen[f.Digest] = f.Name
		s.accepted++
		accepted = append(accepted, f)
	}
	return accepted, ignored
}

// PutJob stores a copy of job.
func (s *Store) PutJob(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
}

// Job returns a copy of the job with id.
func (s *Store) Job(id string) (*models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job.Clone(), ok
}

// UpdateJob applies mutate to the stored job and returns a copy of the result.
func (s *Store) UpdateJob(id string, mutate func(*models.Job)) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	mutate(job)
	return job.Clone(), nil
}

// PutBatch stores a copy of batch.
func (s *Store) PutBatch(batch *models.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := *batch
	s.batches[b.ID] = &b
}

// Batch returns a copy of the batch with id.
func (s *Store) Batch(id string) (*models.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, false
	}
	b := *batch
	return &b, true
}

// UpdateBatch applies mutate to the stored batch and returns a copy of the result.
func (s *Store) UpdateBatch(id string, mutate func(*models.Batch)) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch not found: %s", id)
	}
	mutate(batch)
	b := *batch
	return &b, nil
}
