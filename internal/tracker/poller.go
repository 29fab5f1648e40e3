package tracker

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/clinops/intake-tracker/internal/models"
)

// poll fetches the tracked job and batch concurrently. It is a no-op while a
// previous poll is in flight or once the session has settled. Each response is merged
// as soon as it arrives; neither waits for the other.
func (e *Engine) poll(reason string) {
	s := e.sess
	if s == nil || s.completed || s.failed || s.inFlight || e.fetcher == nil {
		return
	}
	s.inFlight = true
	s.pollAttempt++

	ctx, gen := s.ctx, s.gen
	jobID, batchID := s.activeJobID, s.activeBatchID
	attempt := s.pollAttempt

	e.logger.Debug().
		Str("session", s.id).
		Str("reason", reason).
		Int("attempt", attempt).
		Msg("Polling")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		// A failed job poll must not cancel the batch poll, so no shared context
		var g errgroup.Group
		if jobID != "" {
			g.Go(func() error {
				snap, err := e.fetcher.FetchJobSnapshot(ctx, jobID)
				if err != nil {
					return fmt.Errorf("poll job %s: %w", jobID, err)
				}
				e.post(ctx, func() { e.receive(gen, snap) })
				return nil
			})
		}
		if batchID != "" {
			g.Go(func() error {
				snap, err := e.fetcher.FetchBatchSnapshot(ctx, batchID)
				if err != nil {
					return fmt.Errorf("poll batch %s: %w", batchID, err)
				}
				e.post(ctx, func() { e.receive(gen, snap) })
				return nil
			})
		}
		err := g.Wait()
		e.post(ctx, func() { e.pollDone(gen, attempt, err) })
	}()
}

func (e *Engine) pollDone(gen uint64, attempt int, err error) {
	s := e.sess
	if s == nil || s.gen != gen {
		return
	}
	s.inFlight = false
	if err != nil && s.ctx.Err() == nil {
		// Swallowed: the next tick tries again
		e.logger.Warn().Err(err).Str("session", s.id).Int("attempt", attempt).Msg("Poll failed")
	}
}

// receive is the single entry point for snapshots from either source.
func (e *Engine) receive(gen uint64, snap models.Snapshot) {
	s := e.sess
	if s == nil || s.gen != gen {
		return
	}
	if !e.reconcile(s, snap) {
		return
	}
	e.evaluate(s)
	e.publish()
}
