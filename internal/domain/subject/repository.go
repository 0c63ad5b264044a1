package subject

import (
	"context"
)

// Repository defines the operations for persisting and retrieving Subject entities.
type Repository interface {
	Create(ctx context.Context, s *Subject) error
	GetByID(ctx context.Context, id int64) (*Subject, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*Subject, error)
	Update(ctx context.Context, s *Subject) error // location, flags, minimum gap, active flag
	ListActive(ctx context.Context) ([]*Subject, error)
}
