package analysis

import (
	"context"

	"github.com/google/uuid"
)

type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	SetAnalysisID(ctx context.Context, reportID, analysisID uuid.UUID) error
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Report, int, error)
}

type AnalysisRepository interface {
	Create(ctx context.Context, a *Analysis) error
	GetByReport(ctx context.Context, reportID uuid.UUID) (*Analysis, error)
	// ListRecentByPatient returns the newest analyses without an error
	// marker, at most limit of them.
	ListRecentByPatient(ctx context.Context, patientID string, limit int) ([]*Analysis, error)
}

type ProfileRepository interface {
	Get(ctx context.Context, uid string) (*PatientProfile, error)
	Upsert(ctx context.Context, p *PatientProfile) error
}
