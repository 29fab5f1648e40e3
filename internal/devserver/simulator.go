package devserver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
)

// FailMarker makes a simulated file fail when it appears in the filename.
const FailMarker = "fail"

// Submission holds the ids created for one accepted upload.
type Submission struct {
	JobID           string
	UploadJobID     string
	ProcessingJobID string
	BatchID         string
	Manifest        []string
}

// Simulator advances jobs through their steps in the background, one file
// per step, storing and publishing every change.
type Simulator struct {
	store    *Store
	pub      Publisher
	step     time.Duration
	twoPhase bool
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimulator creates a simulator. pub may be nil.
func NewSimulator(store *Store, pub Publisher, step time.Duration, twoPhase bool, logger *logging.Logger) *Simulator {
	if pub == nil {
		pub = Publishers(nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		store:    store,
		pub:      pub,
		step:     step,
		twoPhase: twoPhase,
		logger:   logger.Named("simulator"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Begin creates the records for names and starts processing them. The
// records exist in the store when Begin returns.
func (s *Simulator) Begin(names []string) Submission {
	sub := Submission{
		BatchID:  uuid.NewString(),
		Manifest: append([]string(nil), names...),
	}

	processing := &models.Job{
		ID:         uuid.NewString(),
		Status:     models.StatusPending,
		TotalSteps: len(names),
		Manifest:   sub.Manifest,
	}
	s.store.PutJob(processing)
	s.store.PutBatch(&models.Batch{ID: sub.BatchID, Status: models.StatusPending, TotalJobs: 1})

	var upload *models.Job
	if s.twoPhase {
		upload = &models.Job{
			ID:         uuid.NewString(),
			Status:     models.StatusPending,
			TotalSteps: len(names),
			Manifest:   sub.Manifest,
		}
		s.store.PutJob(upload)
		sub.UploadJobID = upload.ID
		sub.ProcessingJobID = processing.ID
	} else {
		sub.JobID = processing.ID
	}

	s.logger.Info().
		Str("job", processing.ID).
		Str("batch", sub.BatchID).
		Bool("two_phase", s.twoPhase).
		Int("files", len(names)).
		Msg("Simulation started")

	if s.ctx.Err() != nil {
		return sub
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if upload != nil && !s.runUpload(upload.ID, names) {
			return
		}
		s.runProcessing(processing.ID, sub.BatchID, names)
	}()
	return sub
}

func (s *Simulator) runUpload(id string, names []string) bool {
	for i, name := range names {
		if !s.wait(s.step / 2) {
			return false
		}
		done := i + 1
		s.updateJob(id, func(j *models.Job) {
			j.Status = models.StatusProcessing
			j.CurrentFile = name
			j.CompletedSteps = done
			j.Percent = done * 100 / len(names)
		})
	}
	s.updateJob(id, func(j *models.Job) {
		j.Status = models.StatusUploadComplete
		j.Percent = 100
		j.CurrentFile = ""
	})
	return true
}

func (s *Simulator) runProcessing(id, batchID string, names []string) {
	failed := 0
	for i, name := range names {
		s.updateJob(id, func(j *models.Job) {
			j.Status = models.StatusProcessing
			j.CurrentFile = name
		})
		if !s.wait(s.step) {
			return
		}

		done := i + 1
		fails := strings.Contains(strings.ToLower(name), FailMarker)
		if fails {
			failed++
		}
		job := s.updateJob(id, func(j *models.Job) {
			if fails {
				j.FailedItems = append(j.FailedItems, models.Item{Filename: name, Message: "could not extract text"})
			} else {
				j.SuccessfulItems = append(j.SuccessfulItems, models.Item{Filename: name})
			}
			j.CompletedSteps = done
			j.Percent = done * 100 / len(names)
		})
		if job != nil {
			s.updateBatch(batchID, func(b *models.Batch) {
				b.Status = models.StatusProcessing
				b.OverallPercent = job.Percent
			})
		}
	}

	// Completed with some failed items is still a success; only a batch in
	// which nothing could be processed fails.
	status := models.StatusCompleted
	if len(names) > 0 && failed == len(names) {
		status = models.StatusFailed
	}
	s.updateJob(id, func(j *models.Job) {
		j.Status = status
		j.Percent = 100
		j.CurrentFile = ""
	})
	s.updateBatch(batchID, func(b *models.Batch) {
		b.Status = status
		b.OverallPercent = 100
		if status == models.StatusFailed {
			b.FailedJobs = 1
		} else {
			b.CompletedJobs = 1
		}
	})
	s.logger.Info().Str("job", id).Str("status", string(status)).Int("failed", failed).Msg("Simulation finished")
}

func (s *Simulator) updateJob(id string, mutate func(*models.Job)) *models.Job {
	job, err := s.store.UpdateJob(id, mutate)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Simulated job vanished")
		return nil
	}
	s.pub.PublishJob(s.ctx, job)
	return job
}

func (s *Simulator) updateBatch(id string, mutate func(*models.Batch)) {
	batch, err := s.store.UpdateBatch(id, mutate)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Simulated batch vanished")
		return
	}
	s.pub.PublishBatch(s.ctx, batch)
}

func (s *Simulator) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close stops every running simulation and waits for it to exit.
func (s *Simulator) Close() {
	s.cancel()
	s.wg.Wait()
}
