package scheduler

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	ids []int64
	err error
}

func (f fakeLister) ListSubjectsWithDirtyForecasts(context.Context) ([]int64, error) {
	return f.ids, f.err
}

type fakeRefresher struct {
	mu       sync.Mutex
	seen     []int64
	fail     map[int64]bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeRefresher) RefreshDirtyForecasts(_ context.Context, subjectID int64) (int, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.seen = append(f.seen, subjectID)
	f.mu.Unlock()
	if f.fail[subjectID] {
		return 1, errors.New("cache write failed")
	}
	return 2, nil
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestSweep_RefreshesEverySubject(t *testing.T) {
	refresher := &fakeRefresher{fail: map[int64]bool{3: true}}
	sweeper := NewForecastSweeper(fakeLister{ids: []int64{1, 2, 3, 4, 5}}, refresher, quietLogger(), "@every 1h", 2)

	stats, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SweepStats{Subjects: 5, Refreshed: 9, Failed: 1}, stats)
	sort.Slice(refresher.seen, func(i, j int) bool { return refresher.seen[i] < refresher.seen[j] })
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, refresher.seen)
	assert.LessOrEqual(t, refresher.peak.Load(), int32(2))
}

func TestSweep_NothingDirty(t *testing.T) {
	refresher := &fakeRefresher{}
	sweeper := NewForecastSweeper(fakeLister{}, refresher, quietLogger(), "@every 1h", 4)

	stats, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)
	assert.Empty(t, refresher.seen)
}

func TestSweep_ListFailure(t *testing.T) {
	sweeper := NewForecastSweeper(fakeLister{err: errors.New("db down")}, &fakeRefresher{}, quietLogger(), "@every 1h", 4)

	_, err := sweeper.Sweep(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestStart_RejectsBadSpec(t *testing.T) {
	sweeper := NewForecastSweeper(fakeLister{}, &fakeRefresher{}, quietLogger(), "not a spec", 1)

	assert.Error(t, sweeper.Start())
}

func TestStartStop(t *testing.T) {
	sweeper := NewForecastSweeper(fakeLister{}, &fakeRefresher{}, quietLogger(), "@every 1h", 1)

	require.NoError(t, sweeper.Start())
	sweeper.Stop()
}
