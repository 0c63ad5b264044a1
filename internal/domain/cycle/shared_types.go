// internal/domain/cycle/shared_types.go
package cycle

// Status is the lifecycle phase of a cycle.
type Status string

const (
	StatusPhase1    Status = "PHASE_1"
	StatusPhase2    Status = "PHASE_2"
	StatusCompleted Status = "COMPLETED"
)

// Action names an operation attempted against a cycle's state machine.
type Action string

const (
	ActionStart            Action = "start cycle"
	ActionRecordMilestone  Action = "record milestone"
	ActionRecordCompletion Action = "record completion"
	ActionVoid             Action = "void"
)

// Rule names a temporal invariant.
type Rule string

const (
	RuleOnahOrder          Rule = "onah_end_after_start"
	RuleOverlap            Rule = "no_overlapping_cycles"
	RuleMilestoneAfterOnah Rule = "milestone_after_onah_start"
	RuleMinimumGap         Rule = "minimum_gap_days"
	RuleFixedMinimumGap    Rule = "fixed_minimum_gap_days"
	RuleExaminationDay     Rule = "examination_day_range"
	RuleExaminationDate    Rule = "examination_date_required"
	RuleExaminationValue   Rule = "examination_value"
	RuleRangeOrder         Rule = "range_from_before_to"
	RuleRestartAfterOnah   Rule = "restart_not_before_onah_start"
)

// TimeOfDay is when an examination took place.
type TimeOfDay string

const (
	TimeOfDayMorning TimeOfDay = "MORNING"
	TimeOfDayEvening TimeOfDay = "EVENING"
	TimeOfDayBoth    TimeOfDay = "BOTH"
)

// Result is the outcome of an examination.
type Result string

const (
	ResultClean        Result = "CLEAN"
	ResultQuestionable Result = "QUESTIONABLE"
	ResultNotClean     Result = "NOT_CLEAN"
)

// VariantKey names a stringency-derived forecast.
type VariantKey string

const (
	VariantMonthlyPrecedingOnah    VariantKey = "monthly.precedingOnah"
	VariantIntervalPrecedingOnah   VariantKey = "interval.precedingOnah"
	VariantFixedCountPrecedingOnah VariantKey = "fixedCount.precedingOnah"
	VariantFixedCountOppositeOnah  VariantKey = "fixedCount.oppositeOnah"
	VariantFixedCountExtraDay      VariantKey = "fixedCount.extraDay"
)
