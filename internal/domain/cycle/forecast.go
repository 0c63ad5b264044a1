package cycle

import (
	"time"

	"vest_tracker/internal/domain/onah"
)

// Forecast holds the predicted onot of a cycle. It is derived data and is
// always recomputable from the cycle chain and the subject's preferences.
type Forecast struct {
	Monthly    onah.Period                `json:"monthly"`
	Interval   *onah.Period               `json:"interval,omitempty"`
	FixedCount onah.Period                `json:"fixed_count"`
	Variants   map[VariantKey]onah.Period `json:"variants,omitempty"`
}

// CachedForecast is the stored copy of a cycle's last computed forecast.
// Corresponds to the 'forecast_cache' table.
type CachedForecast struct {
	CycleID      int64
	SubjectID    int64
	CycleVersion int64
	Dirty        bool
	Forecast     *Forecast
	ComputedAt   time.Time
}

// FreshFor reports whether the entry can be served for c as it is now.
func (f *CachedForecast) FreshFor(c *Cycle) bool {
	return f != nil && !f.Dirty && f.Forecast != nil && f.CycleID == c.ID && f.CycleVersion == c.Version
}

// CascadeFailure records a cycle that could not be recomputed.
type CascadeFailure struct {
	CycleID int64
	Err     error
}

// CascadeResult summarizes a mutation that recomputed later cycles.
type CascadeResult struct {
	Voided   bool
	Cascaded int
	Failures []CascadeFailure
}

// Degraded reports whether some cycles could not be recomputed.
func (r *CascadeResult) Degraded() bool {
	return len(r.Failures) > 0
}
