// internal/domain/cycle/repository.go
package cycle

import (
	"context"
)

// Repository persists cycles, their examinations and the forecast cache.
// Unknown ids are reported as *NotFoundError.
type Repository interface {
	// Cycle methods
	Create(ctx context.Context, c *Cycle) error
	Update(ctx context.Context, c *Cycle) error
	GetByID(ctx context.Context, id int64) (*Cycle, error)
	ListBySubject(ctx context.Context, subjectID int64) ([]*Cycle, error) // ascending by onah start
	Delete(ctx context.Context, id int64) error                           // removes examinations and cache entry too

	// Examination methods
	CreateExamination(ctx context.Context, e *Examination) error
	ListExaminations(ctx context.Context, cycleID int64) ([]*Examination, error)

	// Forecast cache methods
	GetForecast(ctx context.Context, cycleID int64) (*CachedForecast, error)
	SaveForecast(ctx context.Context, f *CachedForecast) error
	MarkForecastsDirty(ctx context.Context, cycleIDs []int64) error
	ListSubjectsWithDirtyForecasts(ctx context.Context) ([]int64, error)
}
