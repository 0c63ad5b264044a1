package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"
	"vest_tracker/internal/domain/vest"
)

const adminID int64 = 42

func newSubjectService(t *testing.T) (*SubjectService, *harness) {
	t.Helper()
	h := newHarness(t)
	return NewSubjectService(h.store.Subjects(), h.svc, adminID, 0), h
}

func TestRegister(t *testing.T) {
	svc, _ := newSubjectService(t)
	ctx := context.Background()

	subj, err := svc.Register(ctx, 777, "  Rivka ", jerusalem)
	require.NoError(t, err)
	assert.NotZero(t, subj.ID)
	assert.Equal(t, "Rivka", subj.Name)
	assert.Equal(t, cycle.DefaultMinimumGapDays, subj.MinimumGapDays)
	assert.True(t, subj.IsActive)

	_, err = svc.Register(ctx, 777, "Again", jerusalem)
	assert.ErrorIs(t, err, ErrSubjectAlreadyExists)
}

func TestRegister_InvalidLocation(t *testing.T) {
	svc, _ := newSubjectService(t)

	_, err := svc.Register(context.Background(), 778, "Lost", onah.Location{Latitude: 120, Longitude: 0, TimezoneID: "UTC"})

	var le *onah.LocationError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "latitude", le.Field)
}

func TestUpdateLocation_RecomputesForecasts(t *testing.T) {
	svc, h := newSubjectService(t)
	ctx := context.Background()
	c, err := h.svc.StartCycleOnDate(ctx, h.subjectID, date(2025, time.January, 1), true)
	require.NoError(t, err)

	london := onah.Location{Latitude: 51.507, Longitude: -0.128, TimezoneID: "Europe/London"}
	result, err := svc.UpdateLocation(ctx, h.subjectID, london)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cascaded)

	subj, err := h.store.Subjects().GetByID(ctx, h.subjectID)
	require.NoError(t, err)
	assert.Equal(t, london, subj.Location)

	got := h.get(t, c.ID)
	cached, err := h.store.GetForecast(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, cached.FreshFor(got))
}

func TestUpdatePreferences(t *testing.T) {
	svc, h := newSubjectService(t)
	ctx := context.Background()
	flags := subject.StringencyFlags{OppositeOnah: true}

	_, err := svc.UpdatePreferences(ctx, h.subjectID, flags)
	require.NoError(t, err)

	subj, err := h.store.Subjects().GetByID(ctx, h.subjectID)
	require.NoError(t, err)
	assert.Equal(t, flags, subj.Flags)
}

func TestSetMinimumGapDays(t *testing.T) {
	svc, h := newSubjectService(t)
	ctx := context.Background()

	for _, days := range []int{0, 31, -2} {
		_, err := svc.SetMinimumGapDays(ctx, h.subjectID, days)
		assert.ErrorIs(t, err, ErrInvalidMinimumGap, "days %d", days)
	}

	subj, err := svc.SetMinimumGapDays(ctx, h.subjectID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, subj.MinimumGapDays)
}

func TestRecalculate_AdminOnly(t *testing.T) {
	svc, h := newSubjectService(t)
	ctx := context.Background()
	h.seed(t, date(2025, time.January, 1), true, cycle.StatusCompleted)

	_, err := svc.Recalculate(ctx, adminID+1, 100)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)

	result, err := svc.Recalculate(ctx, adminID, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cascaded)

	_, err = svc.Recalculate(ctx, adminID, 999)
	var nf *cycle.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestListActiveSubjects(t *testing.T) {
	svc, _ := newSubjectService(t)
	ctx := context.Background()

	_, err := svc.ListActiveSubjects(ctx, 1)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)

	subjects, err := svc.ListActiveSubjects(ctx, adminID)
	require.NoError(t, err)
	assert.Len(t, subjects, 1)
}

// interleavedReads runs onRead once, right after the first subject read.
type interleavedReads struct {
	subject.Repository
	fired  atomic.Bool
	onRead func()
}

func (r *interleavedReads) GetByID(ctx context.Context, id int64) (*subject.Subject, error) {
	subj, err := r.Repository.GetByID(ctx, id)
	if r.onRead != nil && r.fired.CompareAndSwap(false, true) {
		r.onRead()
	}
	return subj, err
}

func TestProfileUpdates_KeepConcurrentChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reads := &interleavedReads{Repository: h.store.Subjects()}
	cycles := NewCycleService(h.store, reads, h.resolver, vest.NewEngine(h.resolver), testLogger())
	svc := NewSubjectService(reads, cycles, adminID, 0)

	flags := subject.StringencyFlags{OppositeOnah: true}
	done := make(chan error, 1)
	reads.onRead = func() {
		go func() {
			_, err := svc.UpdatePreferences(ctx, h.subjectID, flags)
			done <- err
		}()
		// let the other write land between this read and its write
		select {
		case err := <-done:
			done <- err
		case <-time.After(50 * time.Millisecond):
		}
	}

	london := onah.Location{Latitude: 51.507, Longitude: -0.128, TimezoneID: "Europe/London"}
	_, err := svc.UpdateLocation(ctx, h.subjectID, london)
	require.NoError(t, err)
	require.NoError(t, <-done)

	subj, err := h.store.Subjects().GetByID(ctx, h.subjectID)
	require.NoError(t, err)
	assert.Equal(t, london, subj.Location)
	assert.Equal(t, flags, subj.Flags)
}
