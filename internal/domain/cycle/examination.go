package cycle

import (
	"database/sql"
	"fmt"
	"time"
)

// Examination is a check taken during a cycle. Corresponds to the
// 'examinations' table; rows are removed with their cycle.
type Examination struct {
	ID        int64
	CycleID   int64
	DayNumber int // 1..7 within the clean days
	TimeOfDay TimeOfDay
	Result    Result
	Date      time.Time // civil date
	Notes     sql.NullString
	CreatedAt time.Time
}

// Validate checks the examination's own fields.
func (e *Examination) Validate() error {
	if e.DayNumber < 1 || e.DayNumber > FixedMinimumGapDays {
		return &TemporalInvariantError{
			Rule:   RuleExaminationDay,
			Detail: fmt.Sprintf("day number %d is outside 1..%d", e.DayNumber, FixedMinimumGapDays),
		}
	}
	switch e.TimeOfDay {
	case TimeOfDayMorning, TimeOfDayEvening, TimeOfDayBoth:
	default:
		return &TemporalInvariantError{Rule: RuleExaminationValue, Detail: fmt.Sprintf("unknown time of day %q", e.TimeOfDay)}
	}
	switch e.Result {
	case ResultClean, ResultQuestionable, ResultNotClean:
	default:
		return &TemporalInvariantError{Rule: RuleExaminationValue, Detail: fmt.Sprintf("unknown result %q", e.Result)}
	}
	if e.Date.IsZero() {
		return &TemporalInvariantError{Rule: RuleExaminationDate, Detail: "examination has no date"}
	}
	return nil
}
