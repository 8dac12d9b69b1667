package analysis

import (
	"time"

	"github.com/google/uuid"
)

// Report is one stored upload: the attribute rows read from the document.
type Report struct {
	ID         uuid.UUID   `json:"id" firestore:"-"`
	PatientID  string      `json:"patient_id" firestore:"patient_id"`
	FileName   string      `json:"file_name" firestore:"file_name"`
	Method     string      `json:"method" firestore:"method"`
	Attributes []Attribute `json:"attributes" firestore:"attributes"`
	AnalysisID *uuid.UUID  `json:"analysis_id,omitempty" firestore:"-"`
	CreatedAt  time.Time   `json:"created_at" firestore:"created_at"`
}

// Analysis is the generated narrative for a report. Error is set instead of
// Text when generation failed.
type Analysis struct {
	ID        uuid.UUID `json:"id" firestore:"-"`
	ReportID  uuid.UUID `json:"report_id" firestore:"-"`
	PatientID string    `json:"patient_id" firestore:"patient_id"`
	Text      string    `json:"text,omitempty" firestore:"text"`
	Error     *string   `json:"error,omitempty" firestore:"error"`
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
}

// Failed reports whether the analysis carries an error marker.
func (a *Analysis) Failed() bool {
	return a.Error != nil
}

// PatientProfile holds the free-text context a patient gives the analysis.
type PatientProfile struct {
	UID         string            `json:"uid" firestore:"-"`
	Email       string            `json:"email" firestore:"email"`
	Name        string            `json:"name" firestore:"name"`
	Preferences string            `json:"preferences" firestore:"preferences"`
	Biodata     map[string]string `json:"biodata" firestore:"biodata"`
}

// Phase is a coordinator step reported back to the caller.
type Phase string

const (
	PhaseAnalyzing Phase = "analyzing"
	PhaseSaving    Phase = "saving"
)

// SaveRequest carries extracted rows into SaveAndAnalyze.
type SaveRequest struct {
	PatientID   string
	FileName    string
	Method      string
	Attributes  []Attribute
	AutoAnalyze bool
	// OnStage, when set, is called as each phase starts.
	OnStage func(Phase)
}

// Outcome is the result of SaveAndAnalyze.
type Outcome struct {
	PatientID        string    `json:"patient_id"`
	ReportID         uuid.UUID `json:"report_id"`
	TestsStored      int       `json:"tests_stored"`
	AnalysisComplete bool      `json:"llm_analysis_complete"`
}

// ProfileUpdate is the body of PUT /profile.
type ProfileUpdate struct {
	Name        *string           `json:"name"`
	Preferences *string           `json:"preferences"`
	Biodata     map[string]string `json:"biodata"`
}

// Summary is a longitudinal summary across recent analyses.
type Summary struct {
	PatientID   string      `json:"patient_id"`
	Text        string      `json:"summary"`
	AnalysisIDs []uuid.UUID `json:"analysis_ids"`
}
