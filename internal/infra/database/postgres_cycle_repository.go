// internal/infra/database/postgres_cycle_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"

	"github.com/lib/pq" // For pq.Array and driver registration
)

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresCycleRepository struct {
	db *sql.DB
}

func NewPostgresCycleRepository(db *sql.DB) *PostgresCycleRepository {
	return &PostgresCycleRepository{db: db}
}

// dateArg sends a civil date as text so the session time zone cannot shift it.
func dateArg(d sql.NullTime) any {
	if !d.Valid {
		return nil
	}
	return d.Time.Format(time.DateOnly)
}

func civilDate(d sql.NullTime) sql.NullTime {
	if !d.Valid {
		return d
	}
	return sql.NullTime{Time: onah.Date(d.Time), Valid: true}
}

// --- Cycle Methods ---

const cycleColumns = `id, subject_id, onah_start, onah_end, milestone_date, second_milestone_start,
       completion_date, status, measured_interval, total_length,
       void_original_onah_start, void_original_onah_end, void_at_milestone, void_examination_id, voided_at,
       version, created_at, updated_at`

func scanCycle(row rowScanner) (*cycle.Cycle, error) {
	c := &cycle.Cycle{}
	var (
		voidStart, voidEnd, voidedAt sql.NullTime
		voidAtMilestone              sql.NullBool
		voidExamID                   sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.SubjectID, &c.OnahStart, &c.OnahEnd, &c.MilestoneDate, &c.SecondMilestoneStart,
		&c.CompletionDate, &c.Status, &c.MeasuredInterval, &c.TotalLength,
		&voidStart, &voidEnd, &voidAtMilestone, &voidExamID, &voidedAt,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.MilestoneDate = civilDate(c.MilestoneDate)
	c.SecondMilestoneStart = civilDate(c.SecondMilestoneStart)
	c.CompletionDate = civilDate(c.CompletionDate)
	if voidStart.Valid {
		c.Void = &cycle.VoidInfo{
			OriginalOnahStart:    voidStart.Time,
			OriginalOnahEnd:      voidEnd.Time,
			VoidedAtMilestone:    voidAtMilestone.Bool,
			VoidingExaminationID: voidExamID.Int64,
			VoidedAt:             voidedAt.Time,
		}
	}
	return c, nil
}

// voidArgs flattens VoidInfo into its five columns.
func voidArgs(v *cycle.VoidInfo) []any {
	if v == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	return []any{v.OriginalOnahStart, v.OriginalOnahEnd, v.VoidedAtMilestone, v.VoidingExaminationID, v.VoidedAt}
}

func (r *PostgresCycleRepository) Create(ctx context.Context, c *cycle.Cycle) error {
	query := `INSERT INTO cycles (subject_id, onah_start, onah_end, milestone_date, second_milestone_start,
                   completion_date, status, measured_interval, total_length,
                   void_original_onah_start, void_original_onah_end, void_at_milestone, void_examination_id, voided_at,
                   version)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
               RETURNING id, created_at, updated_at`
	args := []any{
		c.SubjectID, c.OnahStart, c.OnahEnd, dateArg(c.MilestoneDate), dateArg(c.SecondMilestoneStart),
		dateArg(c.CompletionDate), c.Status, c.MeasuredInterval, c.TotalLength,
	}
	args = append(args, voidArgs(c.Void)...)
	args = append(args, c.Version)

	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return &cycle.NotFoundError{Entity: "subject", ID: c.SubjectID}
		}
		return fmt.Errorf("error creating cycle: %w", err)
	}
	return nil
}

func (r *PostgresCycleRepository) Update(ctx context.Context, c *cycle.Cycle) error {
	query := `UPDATE cycles
               SET onah_start = $1, onah_end = $2, milestone_date = $3, second_milestone_start = $4,
                   completion_date = $5, status = $6, measured_interval = $7, total_length = $8,
                   void_original_onah_start = $9, void_original_onah_end = $10, void_at_milestone = $11,
                   void_examination_id = $12, voided_at = $13, version = $14, updated_at = NOW()
               WHERE id = $15
               RETURNING updated_at`
	args := []any{
		c.OnahStart, c.OnahEnd, dateArg(c.MilestoneDate), dateArg(c.SecondMilestoneStart),
		dateArg(c.CompletionDate), c.Status, c.MeasuredInterval, c.TotalLength,
	}
	args = append(args, voidArgs(c.Void)...)
	args = append(args, c.Version, c.ID)

	err := r.db.QueryRowContext(ctx, query, args...).Scan(&c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return &cycle.NotFoundError{Entity: "cycle", ID: c.ID}
		}
		return fmt.Errorf("error updating cycle: %w", err)
	}
	return nil
}

func (r *PostgresCycleRepository) GetByID(ctx context.Context, id int64) (*cycle.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE id = $1`
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &cycle.NotFoundError{Entity: "cycle", ID: id}
		}
		return nil, fmt.Errorf("error getting cycle by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresCycleRepository) ListBySubject(ctx context.Context, subjectID int64) ([]*cycle.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM cycles WHERE subject_id = $1 ORDER BY onah_start, id`
	rows, err := r.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("error listing cycles: %w", err)
	}
	defer rows.Close()

	cycles := make([]*cycle.Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning cycle row: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle rows: %w", err)
	}
	return cycles, nil
}

// Delete removes the cycle. Examinations and the cached forecast go with it
// through ON DELETE CASCADE.
func (r *PostgresCycleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cycles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting cycle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking deleted cycle: %w", err)
	}
	if n == 0 {
		return &cycle.NotFoundError{Entity: "cycle", ID: id}
	}
	return nil
}

// --- Examination Methods ---

func (r *PostgresCycleRepository) CreateExamination(ctx context.Context, e *cycle.Examination) error {
	query := `INSERT INTO examinations (cycle_id, day_number, time_of_day, result, exam_date, notes)
               VALUES ($1, $2, $3, $4, $5, $6)
               RETURNING id, created_at`
	date := sql.NullTime{Time: e.Date, Valid: !e.Date.IsZero()}
	err := r.db.QueryRowContext(ctx, query, e.CycleID, e.DayNumber, e.TimeOfDay, e.Result, dateArg(date), e.Notes).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return &cycle.NotFoundError{Entity: "cycle", ID: e.CycleID}
		}
		return fmt.Errorf("error creating examination: %w", err)
	}
	return nil
}

func (r *PostgresCycleRepository) ListExaminations(ctx context.Context, cycleID int64) ([]*cycle.Examination, error) {
	query := `SELECT id, cycle_id, day_number, time_of_day, result, exam_date, notes, created_at
               FROM examinations WHERE cycle_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, cycleID)
	if err != nil {
		return nil, fmt.Errorf("error listing examinations: %w", err)
	}
	defer rows.Close()

	exams := make([]*cycle.Examination, 0)
	for rows.Next() {
		e := &cycle.Examination{}
		if err := rows.Scan(&e.ID, &e.CycleID, &e.DayNumber, &e.TimeOfDay, &e.Result, &e.Date, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning examination row: %w", err)
		}
		e.Date = onah.Date(e.Date)
		exams = append(exams, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating examination rows: %w", err)
	}
	return exams, nil
}

// --- Forecast Cache Methods ---

func (r *PostgresCycleRepository) GetForecast(ctx context.Context, cycleID int64) (*cycle.CachedForecast, error) {
	query := `SELECT cycle_id, subject_id, cycle_version, dirty, payload, computed_at
               FROM forecast_cache WHERE cycle_id = $1`
	f := &cycle.CachedForecast{}
	var payload []byte
	var computedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, cycleID).Scan(&f.CycleID, &f.SubjectID, &f.CycleVersion, &f.Dirty, &payload, &computedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &cycle.NotFoundError{Entity: "cached forecast", ID: cycleID}
		}
		return nil, fmt.Errorf("error getting cached forecast: %w", err)
	}
	f.ComputedAt = computedAt.Time
	if len(payload) > 0 {
		f.Forecast = &cycle.Forecast{}
		if err := json.Unmarshal(payload, f.Forecast); err != nil {
			return nil, fmt.Errorf("error decoding cached forecast of cycle %d: %w", cycleID, err)
		}
	}
	return f, nil
}

func (r *PostgresCycleRepository) SaveForecast(ctx context.Context, f *cycle.CachedForecast) error {
	payload, err := json.Marshal(f.Forecast)
	if err != nil {
		return fmt.Errorf("error encoding forecast of cycle %d: %w", f.CycleID, err)
	}
	query := `INSERT INTO forecast_cache (cycle_id, subject_id, cycle_version, dirty, payload, computed_at)
               VALUES ($1, $2, $3, $4, $5, $6)
               ON CONFLICT (cycle_id) DO UPDATE
               SET cycle_version = EXCLUDED.cycle_version, dirty = EXCLUDED.dirty,
                   payload = EXCLUDED.payload, computed_at = EXCLUDED.computed_at`
	_, err = r.db.ExecContext(ctx, query, f.CycleID, f.SubjectID, f.CycleVersion, f.Dirty, payload, f.ComputedAt)
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return &cycle.NotFoundError{Entity: "cycle", ID: f.CycleID}
		}
		return fmt.Errorf("error saving forecast: %w", err)
	}
	return nil
}

// MarkForecastsDirty flags the given cycles' entries, creating empty dirty
// entries for cycles that have none. Unknown cycle ids are ignored.
func (r *PostgresCycleRepository) MarkForecastsDirty(ctx context.Context, cycleIDs []int64) error {
	if len(cycleIDs) == 0 {
		return nil
	}
	query := `INSERT INTO forecast_cache (cycle_id, subject_id, dirty)
               SELECT id, subject_id, TRUE FROM cycles WHERE id = ANY($1)
               ON CONFLICT (cycle_id) DO UPDATE SET dirty = TRUE`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(cycleIDs)); err != nil {
		return fmt.Errorf("error marking forecasts dirty: %w", err)
	}
	return nil
}

func (r *PostgresCycleRepository) ListSubjectsWithDirtyForecasts(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT subject_id FROM forecast_cache WHERE dirty ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("error listing subjects with dirty forecasts: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning subject id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subject ids: %w", err)
	}
	return ids, nil
}
