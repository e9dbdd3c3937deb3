package company

import (
	"context"
	"errors"
	"fmt"
)

// ErrValidation covers malformed exercise input.
var ErrValidation = errors.New("company: validation failed")

// Service provides company profile and fiscal exercise logic.
type Service struct {
	repo *Repository
}

// NewService constructs a company service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// GetCompany loads the seller profile.
func (s *Service) GetCompany(ctx context.Context, id int64) (*Company, error) {
	return s.repo.Get(ctx, id)
}

// ListExercises returns the recorded fiscal exercises for a company.
func (s *Service) ListExercises(ctx context.Context, companyID int64) ([]FiscalExercise, error) {
	return s.repo.ListExercises(ctx, companyID)
}

// CloseExercise marks a fiscal year as closed. Validated documents can no
// longer be produced for it.
func (s *Service) CloseExercise(ctx context.Context, companyID int64, fiscalYear int) error {
	if fiscalYear < 2000 || fiscalYear > 2100 {
		return fmt.Errorf("%w: fiscal year %d out of range", ErrValidation, fiscalYear)
	}
	if _, err := s.repo.Get(ctx, companyID); err != nil {
		return err
	}
	return s.repo.SetExerciseStatus(ctx, companyID, fiscalYear, ExerciseClosed)
}

// ReopenExercise marks a previously closed fiscal year as open again.
func (s *Service) ReopenExercise(ctx context.Context, companyID int64, fiscalYear int) error {
	if fiscalYear < 2000 || fiscalYear > 2100 {
		return fmt.Errorf("%w: fiscal year %d out of range", ErrValidation, fiscalYear)
	}
	if _, err := s.repo.Get(ctx, companyID); err != nil {
		return err
	}
	return s.repo.SetExerciseStatus(ctx, companyID, fiscalYear, ExerciseOpen)
}

// ExerciseOpen satisfies the billing engine's fiscal gate. A year with no
// recorded row counts as open.
func (s *Service) ExerciseOpen(ctx context.Context, companyID int64, fiscalYear int) (bool, error) {
	e, err := s.repo.GetExercise(ctx, companyID, fiscalYear)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return e.Status == ExerciseOpen, nil
}
