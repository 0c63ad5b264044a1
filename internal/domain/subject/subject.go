package subject

import (
	"time"

	"vest_tracker/internal/domain/onah"
)

// StringencyFlags enable the optional forecast variants.
type StringencyFlags struct {
	PrecedingOnah bool `json:"preceding_onah"`
	OppositeOnah  bool `json:"opposite_onah"`
	ExtraDay      bool `json:"extra_day"`
}

// Subject is the person whose cycles are tracked.
type Subject struct {
	ID             int64
	TelegramID     int64
	Name           string
	Location       onah.Location
	Flags          StringencyFlags
	MinimumGapDays int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
