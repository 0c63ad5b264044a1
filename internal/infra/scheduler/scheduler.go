package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DirtySubjectLister finds subjects whose cached forecasts need recomputing.
type DirtySubjectLister interface {
	ListSubjectsWithDirtyForecasts(ctx context.Context) ([]int64, error)
}

// ForecastRefresher recomputes one subject's stale forecasts.
type ForecastRefresher interface {
	RefreshDirtyForecasts(ctx context.Context, subjectID int64) (int, error)
}

// ForecastSweeper periodically recomputes dirty cached forecasts. Subjects
// are independent, so several are swept in parallel.
type ForecastSweeper struct {
	cronEngine  *cron.Cron
	lister      DirtySubjectLister
	refresher   ForecastRefresher
	logger      *logrus.Entry
	cronSpec    string
	concurrency int
	timeout     time.Duration
}

func NewForecastSweeper(
	lister DirtySubjectLister,
	refresher ForecastRefresher,
	logger *logrus.Entry,
	cronSpec string, // e.g., "*/15 * * * *" (every 15 minutes)
	concurrency int,
) *ForecastSweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ForecastSweeper{
		cronEngine:  cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		lister:      lister,
		refresher:   refresher,
		logger:      logger,
		cronSpec:    cronSpec,
		concurrency: concurrency,
		timeout:     5 * time.Minute,
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Subjects  int
	Refreshed int
	Failed    int
}

func (s *ForecastSweeper) Start() error {
	s.logger.Info("Starting forecast sweeper")
	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("Forecast sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add forecast sweep cron job %q: %w", s.cronSpec, err)
	}
	s.cronEngine.Start()
	s.logger.WithField("spec", s.cronSpec).Info("Forecast sweeper started")
	return nil
}

// Sweep refreshes every subject with dirty forecasts. A subject that fails is
// counted and logged; the others still run.
func (s *ForecastSweeper) Sweep(ctx context.Context) (SweepStats, error) {
	subjectIDs, err := s.lister.ListSubjectsWithDirtyForecasts(ctx)
	if err != nil {
		return SweepStats{}, fmt.Errorf("failed to list subjects with dirty forecasts: %w", err)
	}
	stats := SweepStats{Subjects: len(subjectIDs)}
	if len(subjectIDs) == 0 {
		s.logger.Debug("No dirty forecasts to sweep")
		return stats, nil
	}

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range subjectIDs {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			n, err := s.refresher.RefreshDirtyForecasts(gctx, id)
			refreshed.Add(int64(n))
			if err != nil {
				failed.Add(1)
				s.logger.WithFields(logrus.Fields{"subject_id": id, "refreshed": n}).WithError(err).Warn("Subject forecast refresh failed")
			}
			return nil
		})
	}
	err = g.Wait()

	stats.Refreshed = int(refreshed.Load())
	stats.Failed = int(failed.Load())
	s.logger.WithFields(logrus.Fields{
		"subjects":  stats.Subjects,
		"refreshed": stats.Refreshed,
		"failed":    stats.Failed,
	}).Info("Forecast sweep finished")
	return stats, err
}

func (s *ForecastSweeper) Stop() {
	s.logger.Info("Stopping forecast sweeper")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Forecast sweeper stopped")
}
