package company

import "time"

// Company is the seller identity stamped on billing documents.
type Company struct {
	ID           int64
	Name         string
	TaxID        string
	Address      *string
	City         *string
	PostalCode   *string
	Country      *string
	HomeCurrency string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExerciseStatus is the closed set of fiscal exercise states.
type ExerciseStatus string

const (
	ExerciseOpen   ExerciseStatus = "OPEN"
	ExerciseClosed ExerciseStatus = "CLOSED"
)

// FiscalExercise tracks whether a fiscal year still accepts validated
// documents. Rows are created lazily; a year without a row counts as open.
type FiscalExercise struct {
	CompanyID  int64
	FiscalYear int
	Status     ExerciseStatus
	ClosedAt   *time.Time
	UpdatedAt  time.Time
}
