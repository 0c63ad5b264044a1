// internal/domain/cycle/cycle.go
package cycle

import (
	"database/sql"
	"time"

	"vest_tracker/internal/domain/onah"
)

const (
	// FixedMinimumGapDays is the shortest allowed run of clean days between
	// the second milestone and completion.
	FixedMinimumGapDays = 7
	// DefaultMinimumGapDays is used when a subject has not configured one.
	DefaultMinimumGapDays = 5
)

// Cycle is one tracked occurrence, from its triggering onah to completion.
// Corresponds to the 'cycles' table.
type Cycle struct {
	ID                   int64
	SubjectID            int64
	OnahStart            time.Time
	OnahEnd              time.Time
	MilestoneDate        sql.NullTime // civil date, phase1 -> phase2
	SecondMilestoneStart sql.NullTime // civil date, first of the clean days
	CompletionDate       sql.NullTime // civil date; provisional while in phase2
	Status               Status
	MeasuredInterval     sql.NullInt32 // days since the previous cycle's onah start
	TotalLength          sql.NullInt32 // days from onah start to completion
	Void                 *VoidInfo
	Version              int64 // bumped on every mutation, keys the forecast cache
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// VoidInfo records the state a cycle had before an examination voided it.
type VoidInfo struct {
	OriginalOnahStart    time.Time
	OriginalOnahEnd      time.Time
	VoidedAtMilestone    bool // the cycle had reached phase2 when voided
	VoidingExaminationID int64
	VoidedAt             time.Time
}

// IsActive reports whether the cycle is still in progress.
func (c *Cycle) IsActive() bool {
	return c.Status == StatusPhase1 || c.Status == StatusPhase2
}

// Clone returns a deep copy. Mutations are applied to a clone and only
// swapped in after they are persisted.
func (c *Cycle) Clone() *Cycle {
	cp := *c
	if c.Void != nil {
		v := *c.Void
		cp.Void = &v
	}
	return &cp
}

// OnahStartDate is the civil date the triggering onah starts on.
func (c *Cycle) OnahStartDate(tz *time.Location) time.Time {
	return onah.CivilDate(c.OnahStart, tz)
}

// Overlaps reports whether [start, end] intersects the cycle's onah: the new
// range starts inside it, ends inside it, or contains it.
func (c *Cycle) Overlaps(start, end time.Time) bool {
	startsInside := !start.Before(c.OnahStart) && start.Before(c.OnahEnd)
	endsInside := end.After(c.OnahStart) && !end.After(c.OnahEnd)
	contains := !start.After(c.OnahStart) && !end.Before(c.OnahEnd)
	return startsInside || endsInside || contains
}

// RecordMilestone moves a phase1 cycle into phase2. The milestone must fall
// at least minimumGapDays after the onah start. On error the cycle is left
// untouched.
func (c *Cycle) RecordMilestone(date time.Time, minimumGapDays int, tz *time.Location) error {
	if c.Status != StatusPhase1 {
		return &StateTransitionError{CycleID: c.ID, From: c.Status, Action: ActionRecordMilestone}
	}
	d := onah.Date(date)
	start := c.OnahStartDate(tz)
	if d.Before(start) {
		return &TemporalInvariantError{
			Rule:   RuleMilestoneAfterOnah,
			Detail: "milestone " + d.Format(time.DateOnly) + " is before onah start " + start.Format(time.DateOnly),
		}
	}
	if gap := onah.DaysBetween(start, d); gap < minimumGapDays {
		return &TemporalInvariantError{
			Rule:   RuleMinimumGap,
			Detail: gapDetail("milestone", gap, minimumGapDays),
		}
	}

	second := onah.AddDays(d, 1)
	c.MilestoneDate = sql.NullTime{Time: d, Valid: true}
	c.SecondMilestoneStart = sql.NullTime{Time: second, Valid: true}
	c.CompletionDate = sql.NullTime{Time: onah.AddDays(second, FixedMinimumGapDays), Valid: true}
	c.Status = StatusPhase2
	return nil
}

// RecordCompletion closes a phase2 cycle. On error the cycle is left
// untouched.
func (c *Cycle) RecordCompletion(date time.Time, tz *time.Location) error {
	if c.Status != StatusPhase2 || !c.SecondMilestoneStart.Valid {
		return &StateTransitionError{CycleID: c.ID, From: c.Status, Action: ActionRecordCompletion}
	}
	d := onah.Date(date)
	if gap := onah.DaysBetween(c.SecondMilestoneStart.Time, d); gap < FixedMinimumGapDays {
		return &TemporalInvariantError{
			Rule:   RuleFixedMinimumGap,
			Detail: gapDetail("completion", gap, FixedMinimumGapDays),
		}
	}

	c.CompletionDate = sql.NullTime{Time: d, Valid: true}
	c.TotalLength = sql.NullInt32{Int32: int32(onah.DaysBetween(c.OnahStartDate(tz), d)), Valid: true}
	c.Status = StatusCompleted
	return nil
}

// Restart voids an in-progress cycle and anchors it at a new onah, which may
// not start before the current one. The first original onah is kept across
// repeated voids.
func (c *Cycle) Restart(newStart, newEnd time.Time, examinationID int64, at time.Time) error {
	if !c.IsActive() {
		return &StateTransitionError{CycleID: c.ID, From: c.Status, Action: ActionVoid}
	}
	if newStart.Before(c.OnahStart) {
		return &TemporalInvariantError{
			Rule:   RuleRestartAfterOnah,
			Detail: "new onah " + newStart.Format(time.RFC3339) + " is before onah start " + c.OnahStart.Format(time.RFC3339),
		}
	}
	info := VoidInfo{
		OriginalOnahStart:    c.OnahStart,
		OriginalOnahEnd:      c.OnahEnd,
		VoidedAtMilestone:    c.Status == StatusPhase2,
		VoidingExaminationID: examinationID,
		VoidedAt:             at,
	}
	if c.Void != nil {
		info.OriginalOnahStart = c.Void.OriginalOnahStart
		info.OriginalOnahEnd = c.Void.OriginalOnahEnd
	}

	c.Void = &info
	c.OnahStart = newStart
	c.OnahEnd = newEnd
	c.MilestoneDate = sql.NullTime{}
	c.SecondMilestoneStart = sql.NullTime{}
	c.CompletionDate = sql.NullTime{}
	c.TotalLength = sql.NullInt32{}
	c.Status = StatusPhase1
	return nil
}
