package accessgrant

import (
	"context"

	"github.com/google/uuid"
)

// DecideFunc inspects the stored grant and returns the transition to apply,
// or an error to abort without writing anything.
type DecideFunc func(g *Grant) (Transition, error)

type GrantRepository interface {
	Create(ctx context.Context, g *Grant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Grant, error)
	// ListByPatientEmail and ListByHospital return newest first.
	ListByPatientEmail(ctx context.Context, email string) ([]*Grant, error)
	ListByHospital(ctx context.Context, hospitalUID string) ([]*Grant, error)
	// Apply loads the grant, asks decide for a transition, then writes the
	// new status followed by the roster change for patientUID, all in one
	// transaction.
	Apply(ctx context.Context, id uuid.UUID, patientUID string, decide DecideFunc) (*Grant, error)
}

type InstitutionRepository interface {
	Get(ctx context.Context, uid string) (*Institution, error)
	// Upsert writes name and email and leaves the roster untouched.
	Upsert(ctx context.Context, inst *Institution) error
	HasPatient(ctx context.Context, uid, patientUID string) (bool, error)
}
