// internal/app/cycle_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"
	"vest_tracker/internal/domain/vest"

	"github.com/sirupsen/logrus"
)

// CycleService owns each subject's cycle chain. It is the only place that
// changes a cycle's status, and it keeps measured intervals and cached
// forecasts of later cycles consistent after every mutation.
type CycleService struct {
	cycleRepo   cycle.Repository
	subjectRepo subject.Repository
	resolver    *onah.Resolver
	engine      *vest.Engine
	locks       subjectLocks
	logger      *logrus.Entry
	now         func() time.Time
}

func NewCycleService(
	cr cycle.Repository,
	sr subject.Repository,
	resolver *onah.Resolver,
	engine *vest.Engine,
	logger *logrus.Entry,
) *CycleService {
	return &CycleService{
		cycleRepo:   cr,
		subjectRepo: sr,
		resolver:    resolver,
		engine:      engine,
		logger:      logger,
		now:         time.Now,
	}
}

// subjectScope is a subject's profile and chain, loaded under its lock.
type subjectScope struct {
	subject *subject.Subject
	tz      *time.Location
	chain   *cycleChain
}

func (s *CycleService) openScope(ctx context.Context, subjectID int64) (*subjectScope, error) {
	subj, err := s.subjectRepo.GetByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if err := subj.Location.Validate(); err != nil {
		return nil, err
	}
	tz, _ := subj.Location.TimeZone()
	cycles, err := s.cycleRepo.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycles of subject %d: %w", subjectID, err)
	}
	return &subjectScope{subject: subj, tz: tz, chain: newCycleChain(cycles)}, nil
}

// withCycle runs fn under the owning subject's lock with the cycle taken
// from the freshly loaded chain.
func (s *CycleService) withCycle(ctx context.Context, cycleID int64, fn func(sc *subjectScope, c *cycle.Cycle) error) error {
	c, err := s.cycleRepo.GetByID(ctx, cycleID)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(c.SubjectID)
	defer unlock()

	sc, err := s.openScope(ctx, c.SubjectID)
	if err != nil {
		return err
	}
	current := sc.chain.find(cycleID)
	if current == nil {
		return &cycle.NotFoundError{Entity: "cycle", ID: cycleID}
	}
	return fn(sc, current)
}

func minimumGapDays(subj *subject.Subject) int {
	if subj.MinimumGapDays <= 0 {
		return cycle.DefaultMinimumGapDays
	}
	return subj.MinimumGapDays
}

// interval is the civil-day distance between the onah starts of pred and c.
func (s *CycleService) interval(sc *subjectScope, pred, c *cycle.Cycle) sql.NullInt32 {
	if pred == nil {
		return sql.NullInt32{}
	}
	days := onah.DaysBetween(pred.OnahStartDate(sc.tz), c.OnahStartDate(sc.tz))
	return sql.NullInt32{Int32: int32(days), Valid: true}
}

// persist writes updated as the next version of c and swaps it into the
// chain. c is untouched when the write fails.
func (s *CycleService) persist(ctx context.Context, c, updated *cycle.Cycle) error {
	updated.Version = c.Version + 1
	if err := s.cycleRepo.Update(ctx, updated); err != nil {
		return fmt.Errorf("failed to update cycle %d: %w", c.ID, err)
	}
	*c = *updated
	return nil
}

// markDirty flags a cycle's cache entry for the sweeper.
func (s *CycleService) markDirty(ctx context.Context, cycleID int64) {
	if err := s.cycleRepo.MarkForecastsDirty(ctx, []int64{cycleID}); err != nil {
		s.logger.WithError(err).WithField("cycle_id", cycleID).Error("Failed to mark forecast dirty")
	}
}

// refreshForecast recomputes and caches the forecast of c. A failed
// computation leaves the cache entry dirty.
func (s *CycleService) refreshForecast(ctx context.Context, sc *subjectScope, c *cycle.Cycle) (*cycle.Forecast, error) {
	f, err := s.engine.Forecast(c, sc.chain.before(c.OnahStart, c.ID), sc.subject.Location, sc.subject.Flags)
	if err != nil {
		s.markDirty(ctx, c.ID)
		return nil, fmt.Errorf("failed to compute forecast for cycle %d: %w", c.ID, err)
	}
	entry := &cycle.CachedForecast{
		CycleID:      c.ID,
		SubjectID:    c.SubjectID,
		CycleVersion: c.Version,
		Forecast:     f,
		ComputedAt:   s.now(),
	}
	if err := s.cycleRepo.SaveForecast(ctx, entry); err != nil {
		return f, fmt.Errorf("failed to cache forecast for cycle %d: %w", c.ID, err)
	}
	return f, nil
}

// cascade recomputes every cycle starting after anchor, oldest first. A
// failing cycle is recorded and the rest still run.
func (s *CycleService) cascade(ctx context.Context, sc *subjectScope, anchor time.Time, skipID int64, result *cycle.CascadeResult) {
	for _, c := range sc.chain.after(anchor, skipID) {
		if err := s.recompute(ctx, sc, c); err != nil {
			result.Failures = append(result.Failures, cycle.CascadeFailure{CycleID: c.ID, Err: err})
			s.logger.WithFields(logrus.Fields{
				"subject_id": sc.subject.ID,
				"cycle_id":   c.ID,
			}).WithError(err).Warn("Cascade step failed")
			continue
		}
		result.Cascaded++
	}
	s.logger.WithFields(logrus.Fields{
		"subject_id": sc.subject.ID,
		"cascaded":   result.Cascaded,
		"failed":     len(result.Failures),
	}).Info("Cascade finished")
}

// recompute re-derives the measured interval of c and its forecast. When the
// cycle cannot be written its cache entry is left dirty for the sweeper.
func (s *CycleService) recompute(ctx context.Context, sc *subjectScope, c *cycle.Cycle) error {
	updated := c.Clone()
	updated.MeasuredInterval = s.interval(sc, sc.chain.predecessorOf(c.OnahStart, c.ID), updated)
	if err := s.persist(ctx, c, updated); err != nil {
		s.markDirty(ctx, c.ID)
		return err
	}
	_, err := s.refreshForecast(ctx, sc, c)
	return err
}

// StartCycle opens a new cycle at the given onah.
func (s *CycleService) StartCycle(ctx context.Context, subjectID int64, onahStart, onahEnd time.Time) (*cycle.Cycle, error) {
	if !onahEnd.After(onahStart) {
		return nil, &cycle.TemporalInvariantError{
			Rule:   cycle.RuleOnahOrder,
			Detail: fmt.Sprintf("onah end %s is not after start %s", onahEnd.Format(time.RFC3339), onahStart.Format(time.RFC3339)),
		}
	}

	unlock := s.locks.lock(subjectID)
	defer unlock()

	sc, err := s.openScope(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.WithField("subject_id", subjectID)

	active := sc.chain.active()
	for _, a := range active {
		if a.Overlaps(onahStart, onahEnd) {
			return nil, &cycle.TemporalInvariantError{
				Rule:   cycle.RuleOverlap,
				Detail: fmt.Sprintf("onah overlaps active cycle %d", a.ID),
			}
		}
	}
	if len(active) > 0 {
		return nil, &cycle.StateTransitionError{From: active[0].Status, Action: cycle.ActionStart}
	}

	c := &cycle.Cycle{
		SubjectID: subjectID,
		OnahStart: onahStart,
		OnahEnd:   onahEnd,
		Status:    cycle.StatusPhase1,
		Version:   1,
	}
	c.MeasuredInterval = s.interval(sc, sc.chain.predecessorOf(onahStart, 0), c)
	if err := s.cycleRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create cycle: %w", err)
	}
	sc.chain.insert(c)
	logger.WithField("cycle_id", c.ID).Info("Cycle started")

	if _, err := s.refreshForecast(ctx, sc, c); err != nil {
		logger.WithError(err).Warn("Forecast left dirty after start")
	}
	// a backdated cycle changes the intervals of the ones after it
	result := &cycle.CascadeResult{}
	if len(sc.chain.after(c.OnahStart, c.ID)) > 0 {
		s.cascade(ctx, sc, c.OnahStart, c.ID, result)
	}
	if result.Degraded() {
		logger.WithFields(logrus.Fields{
			"cycle_id": c.ID,
			"failed":   len(result.Failures),
		}).Warn("Backdated start left later cycles dirty")
	}
	return c.Clone(), nil
}

// StartCycleOnDate resolves the day or night onah of a civil date and starts
// a cycle there.
func (s *CycleService) StartCycleOnDate(ctx context.Context, subjectID int64, date time.Time, isDayOnah bool) (*cycle.Cycle, error) {
	subj, err := s.subjectRepo.GetByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	p, err := s.resolver.Resolve(date, subj.Location, isDayOnah)
	if err != nil {
		return nil, err
	}
	return s.StartCycle(ctx, subjectID, p.Start, p.End)
}

// RecordMilestone moves the cycle into phase2.
func (s *CycleService) RecordMilestone(ctx context.Context, cycleID int64, date time.Time) (*cycle.Cycle, error) {
	var out *cycle.Cycle
	err := s.withCycle(ctx, cycleID, func(sc *subjectScope, c *cycle.Cycle) error {
		updated := c.Clone()
		if err := updated.RecordMilestone(date, minimumGapDays(sc.subject), sc.tz); err != nil {
			return err
		}
		if err := s.persist(ctx, c, updated); err != nil {
			return err
		}
		if _, err := s.refreshForecast(ctx, sc, c); err != nil {
			s.logger.WithError(err).WithField("cycle_id", c.ID).Warn("Forecast left dirty after milestone")
		}
		s.logger.WithFields(logrus.Fields{
			"cycle_id":  c.ID,
			"milestone": c.MilestoneDate.Time.Format(time.DateOnly),
		}).Info("Milestone recorded")
		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordCompletion completes a phase2 cycle, fixing its total length and
// measured interval.
func (s *CycleService) RecordCompletion(ctx context.Context, cycleID int64, date time.Time) (*cycle.Cycle, error) {
	var out *cycle.Cycle
	err := s.withCycle(ctx, cycleID, func(sc *subjectScope, c *cycle.Cycle) error {
		updated := c.Clone()
		if err := updated.RecordCompletion(date, sc.tz); err != nil {
			return err
		}
		updated.MeasuredInterval = s.interval(sc, sc.chain.predecessorOf(c.OnahStart, c.ID), updated)
		if err := s.persist(ctx, c, updated); err != nil {
			return err
		}
		if _, err := s.refreshForecast(ctx, sc, c); err != nil {
			s.logger.WithError(err).WithField("cycle_id", c.ID).Warn("Forecast left dirty after completion")
		}
		s.logger.WithFields(logrus.Fields{
			"cycle_id":     c.ID,
			"total_length": c.TotalLength.Int32,
		}).Info("Cycle completed")
		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordExamination stores an examination. A not-clean result voids an
// in-progress cycle and cascades to the cycles after it.
func (s *CycleService) RecordExamination(ctx context.Context, cycleID int64, exam *cycle.Examination) (*cycle.CascadeResult, error) {
	result := &cycle.CascadeResult{}
	err := s.withCycle(ctx, cycleID, func(sc *subjectScope, c *cycle.Cycle) error {
		exam.CycleID = c.ID
		if exam.Date.IsZero() && c.SecondMilestoneStart.Valid && exam.DayNumber > 0 {
			exam.Date = onah.AddDays(c.SecondMilestoneStart.Time, exam.DayNumber-1)
		}
		if !exam.Date.IsZero() {
			exam.Date = onah.Date(exam.Date)
		}
		if err := exam.Validate(); err != nil {
			return err
		}

		// the new onah is settled before anything is written
		var restart *onah.Period
		if exam.Result == cycle.ResultNotClean && c.IsActive() {
			p, err := s.restartOnah(sc, c, exam.Date)
			if err != nil {
				return err
			}
			restart = &p
		}

		if err := s.cycleRepo.CreateExamination(ctx, exam); err != nil {
			return fmt.Errorf("failed to create examination: %w", err)
		}

		logger := s.logger.WithFields(logrus.Fields{
			"cycle_id":       c.ID,
			"examination_id": exam.ID,
			"result":         exam.Result,
		})
		switch {
		case exam.Result != cycle.ResultNotClean:
			logger.Debug("Examination recorded")
			return nil
		case restart == nil:
			logger.Info("Not-clean examination on a completed cycle, cycle kept")
			return nil
		}
		return s.void(ctx, sc, c, exam, *restart, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// restartOnah resolves the onah a void moves c to: the examination date with
// c's day/night kind. It may not precede c's onah or reach its successor.
func (s *CycleService) restartOnah(sc *subjectScope, c *cycle.Cycle, examDate time.Time) (onah.Period, error) {
	if start := c.OnahStartDate(sc.tz); examDate.Before(start) {
		return onah.Period{}, &cycle.TemporalInvariantError{
			Rule:   cycle.RuleRestartAfterOnah,
			Detail: fmt.Sprintf("examination %s is before onah start %s", examDate.Format(time.DateOnly), start.Format(time.DateOnly)),
		}
	}
	loc := sc.subject.Location
	isDay, err := s.resolver.Classify(c.OnahStart, c.OnahEnd, loc)
	if err != nil {
		return onah.Period{}, err
	}
	p, err := s.resolver.Resolve(examDate, loc, isDay)
	if err != nil {
		return onah.Period{}, err
	}
	if next := sc.chain.after(c.OnahStart, c.ID); len(next) > 0 && !p.Start.Before(next[0].OnahStart) {
		return onah.Period{}, &cycle.TemporalInvariantError{
			Rule:   cycle.RuleOverlap,
			Detail: fmt.Sprintf("restarted onah would reach cycle %d", next[0].ID),
		}
	}
	return p, nil
}

func (s *CycleService) void(ctx context.Context, sc *subjectScope, c *cycle.Cycle, exam *cycle.Examination, p onah.Period, result *cycle.CascadeResult) error {
	anchor := c.OnahStart
	updated := c.Clone()
	if err := updated.Restart(p.Start, p.End, exam.ID, s.now()); err != nil {
		return err
	}
	updated.MeasuredInterval = s.interval(sc, sc.chain.predecessorOf(anchor, c.ID), updated)
	if err := s.persist(ctx, c, updated); err != nil {
		s.markDirty(ctx, c.ID)
		return err
	}
	sc.chain.sort()
	result.Voided = true
	s.logger.WithFields(logrus.Fields{
		"cycle_id":       c.ID,
		"examination_id": exam.ID,
		"new_onah_start": c.OnahStart.Format(time.RFC3339),
	}).Info("Cycle voided")

	if _, err := s.refreshForecast(ctx, sc, c); err != nil {
		s.logger.WithError(err).WithField("cycle_id", c.ID).Warn("Forecast left dirty after void")
	}
	s.cascade(ctx, sc, anchor, c.ID, result)
	return nil
}

// DeleteCycle removes a cycle with its examinations and recomputes the
// cycles after it.
func (s *CycleService) DeleteCycle(ctx context.Context, cycleID int64) (*cycle.CascadeResult, error) {
	result := &cycle.CascadeResult{}
	err := s.withCycle(ctx, cycleID, func(sc *subjectScope, c *cycle.Cycle) error {
		if err := s.cycleRepo.Delete(ctx, c.ID); err != nil {
			return fmt.Errorf("failed to delete cycle %d: %w", c.ID, err)
		}
		sc.chain.remove(c.ID)
		s.logger.WithFields(logrus.Fields{"subject_id": sc.subject.ID, "cycle_id": c.ID}).Info("Cycle deleted")
		s.cascade(ctx, sc, c.OnahStart, c.ID, result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecalculateAllForSubject stores new stringency flags and recomputes the
// whole chain with them.
func (s *CycleService) RecalculateAllForSubject(ctx context.Context, subjectID int64, flags subject.StringencyFlags) (*cycle.CascadeResult, error) {
	_, result, err := s.UpdateProfile(ctx, subjectID, func(subj *subject.Subject) { subj.Flags = flags }, true)
	return result, err
}

// UpdateProfile applies change to the subject under its lock, so profile
// writes never interleave with a cascade or with each other. A nil change
// leaves the profile as stored. With recalculate set the whole chain is
// recomputed from the updated profile before the lock is released.
func (s *CycleService) UpdateProfile(
	ctx context.Context,
	subjectID int64,
	change func(*subject.Subject),
	recalculate bool,
) (*subject.Subject, *cycle.CascadeResult, error) {
	unlock := s.locks.lock(subjectID)
	defer unlock()

	subj, err := s.subjectRepo.GetByID(ctx, subjectID)
	if err != nil {
		return nil, nil, err
	}
	if change != nil {
		change(subj)
		if err := s.subjectRepo.Update(ctx, subj); err != nil {
			return nil, nil, fmt.Errorf("failed to update subject %d: %w", subjectID, err)
		}
	}
	if !recalculate {
		return subj, nil, nil
	}

	sc, err := s.openScope(ctx, subjectID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.cycleRepo.MarkForecastsDirty(ctx, sc.chain.ids()); err != nil {
		s.logger.WithError(err).WithField("subject_id", subjectID).Warn("Failed to mark forecasts dirty before recalculation")
	}
	result := &cycle.CascadeResult{}
	s.cascade(ctx, sc, time.Time{}, 0, result)
	return sc.subject, result, nil
}

// RefreshDirtyForecasts recomputes the subject's cache entries that are
// dirty, missing or stale, returning how many were refreshed.
func (s *CycleService) RefreshDirtyForecasts(ctx context.Context, subjectID int64) (int, error) {
	unlock := s.locks.lock(subjectID)
	defer unlock()

	sc, err := s.openScope(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	var errs []error
	refreshed := 0
	for _, c := range sc.chain.cycles {
		// an interval left stale by a failed cascade step is repaired first
		want := s.interval(sc, sc.chain.predecessorOf(c.OnahStart, c.ID), c)
		if want != c.MeasuredInterval {
			updated := c.Clone()
			updated.MeasuredInterval = want
			if err := s.persist(ctx, c, updated); err != nil {
				errs = append(errs, err)
				continue
			}
		} else {
			cached, err := s.cycleRepo.GetForecast(ctx, c.ID)
			var nf *cycle.NotFoundError
			if err != nil && !errors.As(err, &nf) {
				s.logger.WithError(err).WithField("cycle_id", c.ID).Warn("Failed to read cached forecast, recomputing")
			}
			if err == nil && cached.FreshFor(c) {
				continue
			}
		}
		if _, err := s.refreshForecast(ctx, sc, c); err != nil {
			errs = append(errs, err)
			continue
		}
		refreshed++
	}
	return refreshed, errors.Join(errs...)
}

// GetForecast returns the forecast of a cycle, from the cache when it is
// fresh.
func (s *CycleService) GetForecast(ctx context.Context, cycleID int64) (*cycle.Forecast, error) {
	var out *cycle.Forecast
	err := s.withCycle(ctx, cycleID, func(sc *subjectScope, c *cycle.Cycle) error {
		cached, err := s.cycleRepo.GetForecast(ctx, c.ID)
		if err == nil && cached.FreshFor(c) {
			out = cached.Forecast
			return nil
		}
		var nf *cycle.NotFoundError
		if err != nil && !errors.As(err, &nf) {
			s.logger.WithError(err).WithField("cycle_id", c.ID).Warn("Failed to read cached forecast, recomputing")
		}
		f, err := s.refreshForecast(ctx, sc, c)
		if f == nil {
			return err
		}
		if err != nil {
			s.logger.WithError(err).WithField("cycle_id", c.ID).Warn("Serving uncached forecast")
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetActiveCycle returns the subject's in-progress cycle.
func (s *CycleService) GetActiveCycle(ctx context.Context, subjectID int64) (*cycle.Cycle, error) {
	cycles, err := s.ListCycles(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for i := len(cycles) - 1; i >= 0; i-- {
		if cycles[i].IsActive() {
			return cycles[i], nil
		}
	}
	return nil, &cycle.NotFoundError{Entity: "active cycle of subject", ID: subjectID}
}

// GetCyclesInRange returns the cycles whose onah starts within [from, to].
func (s *CycleService) GetCyclesInRange(ctx context.Context, subjectID int64, from, to time.Time) ([]*cycle.Cycle, error) {
	if to.Before(from) {
		return nil, &cycle.TemporalInvariantError{
			Rule:   cycle.RuleRangeOrder,
			Detail: fmt.Sprintf("range end %s is before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339)),
		}
	}
	cycles, err := s.ListCycles(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	out := make([]*cycle.Cycle, 0)
	for _, c := range cycles {
		if !c.OnahStart.Before(from) && !c.OnahStart.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListCycles returns all of a subject's cycles, oldest first.
func (s *CycleService) ListCycles(ctx context.Context, subjectID int64) ([]*cycle.Cycle, error) {
	if _, err := s.subjectRepo.GetByID(ctx, subjectID); err != nil {
		return nil, err
	}
	cycles, err := s.cycleRepo.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles of subject %d: %w", subjectID, err)
	}
	return newCycleChain(cycles).cycles, nil
}

// ListExaminations returns the examinations of a cycle.
func (s *CycleService) ListExaminations(ctx context.Context, cycleID int64) ([]*cycle.Examination, error) {
	if _, err := s.cycleRepo.GetByID(ctx, cycleID); err != nil {
		return nil, err
	}
	return s.cycleRepo.ListExaminations(ctx, cycleID)
}
