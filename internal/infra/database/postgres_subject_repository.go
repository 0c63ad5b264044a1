package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/subject"

	"github.com/lib/pq"
)

// Custom errors
var ErrDuplicateTelegramID = fmt.Errorf("subject with this Telegram ID already exists")

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

type PostgresSubjectRepository struct {
	db *sql.DB
}

func NewPostgresSubjectRepository(db *sql.DB) *PostgresSubjectRepository {
	return &PostgresSubjectRepository{db: db}
}

const subjectColumns = `id, telegram_id, name, latitude, longitude, timezone_id,
       preceding_onah, opposite_onah, extra_day, minimum_gap_days, is_active, created_at, updated_at`

func scanSubject(row rowScanner) (*subject.Subject, error) {
	s := &subject.Subject{}
	err := row.Scan(
		&s.ID, &s.TelegramID, &s.Name,
		&s.Location.Latitude, &s.Location.Longitude, &s.Location.TimezoneID,
		&s.Flags.PrecedingOnah, &s.Flags.OppositeOnah, &s.Flags.ExtraDay,
		&s.MinimumGapDays, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func (r *PostgresSubjectRepository) Create(ctx context.Context, s *subject.Subject) error {
	query := `INSERT INTO subjects (telegram_id, name, latitude, longitude, timezone_id,
                   preceding_onah, opposite_onah, extra_day, minimum_gap_days, is_active)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
               RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		s.TelegramID, s.Name, s.Location.Latitude, s.Location.Longitude, s.Location.TimezoneID,
		s.Flags.PrecedingOnah, s.Flags.OppositeOnah, s.Flags.ExtraDay, s.MinimumGapDays, s.IsActive,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return ErrDuplicateTelegramID
		}
		return fmt.Errorf("error creating subject: %w", err)
	}
	return nil
}

func (r *PostgresSubjectRepository) GetByID(ctx context.Context, id int64) (*subject.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE id = $1`
	s, err := scanSubject(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &cycle.NotFoundError{Entity: "subject", ID: id}
		}
		return nil, fmt.Errorf("error getting subject by ID: %w", err)
	}
	return s, nil
}

func (r *PostgresSubjectRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*subject.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE telegram_id = $1`
	s, err := scanSubject(r.db.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &cycle.NotFoundError{Entity: "subject with telegram id", ID: telegramID}
		}
		return nil, fmt.Errorf("error getting subject by Telegram ID: %w", err)
	}
	return s, nil
}

func (r *PostgresSubjectRepository) Update(ctx context.Context, s *subject.Subject) error {
	query := `UPDATE subjects
               SET name = $1, latitude = $2, longitude = $3, timezone_id = $4,
                   preceding_onah = $5, opposite_onah = $6, extra_day = $7,
                   minimum_gap_days = $8, is_active = $9, updated_at = NOW()
               WHERE id = $10
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		s.Name, s.Location.Latitude, s.Location.Longitude, s.Location.TimezoneID,
		s.Flags.PrecedingOnah, s.Flags.OppositeOnah, s.Flags.ExtraDay,
		s.MinimumGapDays, s.IsActive, s.ID,
	).Scan(&s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return &cycle.NotFoundError{Entity: "subject", ID: s.ID}
		}
		return fmt.Errorf("error updating subject: %w", err)
	}
	return nil
}

func (r *PostgresSubjectRepository) ListActive(ctx context.Context) ([]*subject.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE is_active = TRUE ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing active subjects: %w", err)
	}
	defer rows.Close()

	var subjects []*subject.Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning subject row: %w", err)
		}
		subjects = append(subjects, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subject rows: %w", err)
	}
	return subjects, nil
}
