package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"
)

// Custom application-level errors for subject service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrSubjectAlreadyExists = fmt.Errorf("subject with this Telegram ID already exists")
var ErrInvalidMinimumGap = fmt.Errorf("minimum gap must be between 1 and 30 days")

// ProfileUpdater changes a subject's profile under the subject's lock,
// optionally recomputing its whole cycle chain.
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, subjectID int64, change func(*subject.Subject), recalculate bool) (*subject.Subject, *cycle.CascadeResult, error)
}

type SubjectService struct {
	subjectRepo       subject.Repository
	profiles          ProfileUpdater
	adminTelegramID   int64
	defaultMinimumGap int
}

func NewSubjectService(sr subject.Repository, profiles ProfileUpdater, adminID int64, defaultMinimumGap int) *SubjectService {
	if defaultMinimumGap <= 0 {
		defaultMinimumGap = cycle.DefaultMinimumGapDays
	}
	return &SubjectService{
		subjectRepo:       sr,
		profiles:          profiles,
		adminTelegramID:   adminID,
		defaultMinimumGap: defaultMinimumGap,
	}
}

func isNotFound(err error) bool {
	var nf *cycle.NotFoundError
	return errors.As(err, &nf)
}

// Register creates a subject profile for a Telegram user.
func (s *SubjectService) Register(ctx context.Context, telegramID int64, name string, loc onah.Location) (*subject.Subject, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	_, err := s.subjectRepo.GetByTelegramID(ctx, telegramID)
	if err == nil {
		return nil, ErrSubjectAlreadyExists
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("failed to check existing subject: %w", err)
	}

	newSubject := &subject.Subject{
		TelegramID:     telegramID,
		Name:           strings.TrimSpace(name),
		Location:       loc,
		MinimumGapDays: s.defaultMinimumGap,
		IsActive:       true,
	}
	if err := s.subjectRepo.Create(ctx, newSubject); err != nil {
		return nil, fmt.Errorf("failed to create subject in repository: %w", err)
	}
	return newSubject, nil
}

// GetByTelegramID looks up the subject of a Telegram user.
func (s *SubjectService) GetByTelegramID(ctx context.Context, telegramID int64) (*subject.Subject, error) {
	return s.subjectRepo.GetByTelegramID(ctx, telegramID)
}

// UpdateLocation moves the subject and recomputes every forecast, since all
// onah boundaries depend on the location.
func (s *SubjectService) UpdateLocation(ctx context.Context, subjectID int64, loc onah.Location) (*cycle.CascadeResult, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	_, result, err := s.profiles.UpdateProfile(ctx, subjectID, func(subj *subject.Subject) { subj.Location = loc }, true)
	return result, err
}

// UpdatePreferences replaces the subject's stringency flags.
func (s *SubjectService) UpdatePreferences(ctx context.Context, subjectID int64, flags subject.StringencyFlags) (*cycle.CascadeResult, error) {
	_, result, err := s.profiles.UpdateProfile(ctx, subjectID, func(subj *subject.Subject) { subj.Flags = flags }, true)
	return result, err
}

// SetMinimumGapDays changes how long phase1 must last before a milestone.
func (s *SubjectService) SetMinimumGapDays(ctx context.Context, subjectID int64, days int) (*subject.Subject, error) {
	if days < 1 || days > 30 {
		return nil, ErrInvalidMinimumGap
	}
	subj, _, err := s.profiles.UpdateProfile(ctx, subjectID, func(subj *subject.Subject) { subj.MinimumGapDays = days }, false)
	return subj, err
}

// Recalculate lets the admin force a full recalculation for a subject.
func (s *SubjectService) Recalculate(ctx context.Context, performingAdminID int64, subjectTelegramID int64) (*cycle.CascadeResult, error) {
	if performingAdminID != s.adminTelegramID {
		return nil, ErrAdminNotAuthorized
	}
	subj, err := s.subjectRepo.GetByTelegramID(ctx, subjectTelegramID)
	if err != nil {
		return nil, err
	}
	_, result, err := s.profiles.UpdateProfile(ctx, subj.ID, nil, true)
	return result, err
}

// ListActiveSubjects is the admin overview of registered subjects.
func (s *SubjectService) ListActiveSubjects(ctx context.Context, performingAdminID int64) ([]*subject.Subject, error) {
	if performingAdminID != s.adminTelegramID {
		return nil, ErrAdminNotAuthorized
	}
	return s.subjectRepo.ListActive(ctx)
}
