// Package analysis stores extracted reports and coordinates the generated
// analysis of each one.
package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/auth"
	"github.com/medreport/medreport/internal/platform/genai"
)

// AccessChecker answers whether an institution may read a patient's reports.
type AccessChecker interface {
	CanAccess(ctx context.Context, institutionUID, patientUID string) (bool, error)
}

type Config struct {
	// CollaboratorTimeout bounds every generator call.
	CollaboratorTimeout time.Duration
	// StoreTimeout bounds every repository call made while saving an upload.
	// Zero means CollaboratorTimeout.
	StoreTimeout time.Duration
	// SummaryLimit is how many recent analyses MetaSummary reads.
	SummaryLimit int
}

type Service struct {
	reports  ReportRepository
	analyses AnalysisRepository
	profiles ProfileRepository
	gen      genai.Generator
	access   AccessChecker
	cfg      Config
	logger   zerolog.Logger
}

func NewService(reports ReportRepository, analyses AnalysisRepository, profiles ProfileRepository,
	gen genai.Generator, access AccessChecker, cfg Config, logger zerolog.Logger) *Service {
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 60 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = cfg.CollaboratorTimeout
	}
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = 5
	}
	return &Service{
		reports:  reports,
		analyses: analyses,
		profiles: profiles,
		gen:      gen,
		access:   access,
		cfg:      cfg,
		logger:   logger.With().Str("component", "analysis").Logger(),
	}
}

// SaveAndAnalyze stores the report, then, when there are rows and
// AutoAnalyze is set, generates and stores its analysis. Only a failure to
// store the report fails the call. Once the report is stored, generation and
// analysis-store failures leave AnalysisComplete false.
func (s *Service) SaveAndAnalyze(ctx context.Context, req SaveRequest) (*Outcome, error) {
	if req.PatientID == "" {
		return nil, apperr.InvalidInput("patient_id is required")
	}

	AssignVerdicts(req.Attributes)

	rep := &Report{
		PatientID:  req.PatientID,
		FileName:   req.FileName,
		Method:     req.Method,
		Attributes: req.Attributes,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	err := s.reports.Create(storeCtx, rep)
	cancel()
	if err != nil {
		return nil, apperr.Collaborator(err, "store report")
	}

	out := &Outcome{
		PatientID:   req.PatientID,
		ReportID:    rep.ID,
		TestsStored: len(req.Attributes),
	}
	if len(req.Attributes) == 0 || !req.AutoAnalyze {
		return out, nil
	}

	stage(req.OnStage, PhaseAnalyzing)
	a := &Analysis{ReportID: rep.ID, PatientID: req.PatientID}
	text, err := s.generate(ctx, req.Attributes, s.loadProfile(ctx, req.PatientID))
	if err != nil {
		s.logger.Error().Err(err).Str("report_id", rep.ID.String()).Msg("analysis generation failed")
		msg := err.Error()
		a.Error = &msg
	} else {
		a.Text = text
	}

	stage(req.OnStage, PhaseSaving)
	if err := s.storeAnalysis(ctx, a); err != nil {
		s.logger.Error().Err(err).Str("report_id", rep.ID.String()).Msg("analysis not stored")
		return out, nil
	}

	out.AnalysisComplete = !a.Failed()
	return out, nil
}

// storeAnalysis writes a and links it to its report, each call under its own
// deadline.
func (s *Service) storeAnalysis(ctx context.Context, a *Analysis) error {
	createCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.analyses.Create(createCtx, a); err != nil {
		return apperr.Collaborator(err, "store analysis")
	}

	linkCtx, cancelLink := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancelLink()
	if err := s.reports.SetAnalysisID(linkCtx, a.ReportID, a.ID); err != nil {
		return apperr.Collaborator(err, "link analysis to report")
	}
	return nil
}

func stage(fn func(Phase), p Phase) {
	if fn != nil {
		fn(p)
	}
}

// loadProfile tolerates a missing or unreadable profile.
func (s *Service) loadProfile(ctx context.Context, patientID string) *PatientProfile {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	p, err := s.profiles.Get(ctx, patientID)
	if err != nil {
		if !apperr.IsNotFound(err) {
			s.logger.Warn().Err(err).Str("patient_id", patientID).Msg("profile lookup failed")
		}
		return nil
	}
	return p
}

func (s *Service) generate(ctx context.Context, attrs []Attribute, profile *PatientProfile) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	text, err := s.gen.Generate(ctx, genai.Request{
		System:      analysisSystemPrompt,
		Prompt:      analysisPrompt(attrs, profile),
		Temperature: 0.2,
	})
	if err != nil {
		return "", apperr.Collaborator(err, "generate analysis")
	}
	if genai.IsRefusal(text) {
		return "", apperr.Collaborator(genai.ErrRefused, "generate analysis")
	}
	return text, nil
}

// MetaSummary summarizes the patient's most recent successful analyses.
func (s *Service) MetaSummary(ctx context.Context, patientID string) (*Summary, error) {
	items, err := s.analyses.ListRecentByPatient(ctx, patientID, s.cfg.SummaryLimit)
	if err != nil {
		return nil, apperr.Collaborator(err, "list analyses")
	}
	items = lo.Filter(items, func(a *Analysis, _ int) bool { return !a.Failed() && a.Text != "" })
	if len(items) == 0 {
		return nil, apperr.InvalidInput("no analyses available to summarize")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	defer cancel()

	text, err := s.gen.Generate(ctx, genai.Request{
		System:      summarySystemPrompt,
		Prompt:      summaryPrompt(items),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, apperr.Collaborator(err, "generate summary")
	}

	return &Summary{
		PatientID:   patientID,
		Text:        text,
		AnalysisIDs: lo.Map(items, func(a *Analysis, _ int) uuid.UUID { return a.ID }),
	}, nil
}

// ReportView is a report with its analysis, if one was stored.
type ReportView struct {
	*Report
	Analysis *Analysis `json:"analysis,omitempty"`
}

func (s *Service) ListReports(ctx context.Context, patientID string, limit, offset int) ([]*Report, int, error) {
	return s.reports.ListByPatient(ctx, patientID, limit, offset)
}

// GetReport returns a report to its owner or to an institution holding the
// owner on its roster.
func (s *Service) GetReport(ctx context.Context, p auth.Principal, id uuid.UUID) (*ReportView, error) {
	rep, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch p.Role {
	case auth.RoleAdmin:
	case auth.RoleInstitution:
		ok, err := s.access.CanAccess(ctx, p.Subject, rep.PatientID)
		if err != nil {
			return nil, apperr.Collaborator(err, "check roster")
		}
		if !ok {
			return nil, apperr.PermissionDenied("institution has no access to this patient")
		}
	default:
		// Reports of other patients are indistinguishable from missing ones.
		if rep.PatientID != p.Subject {
			return nil, apperr.NotFound("report %s not found", id)
		}
	}

	view := &ReportView{Report: rep}
	if rep.AnalysisID != nil {
		a, err := s.analyses.GetByReport(ctx, rep.ID)
		if err != nil && !apperr.IsNotFound(err) {
			return nil, err
		}
		view.Analysis = a
	}
	return view, nil
}

// UpdateProfile merges u into the caller's profile, creating it if needed.
func (s *Service) UpdateProfile(ctx context.Context, p auth.Principal, u ProfileUpdate) (*PatientProfile, error) {
	prof, err := s.profiles.Get(ctx, p.Subject)
	if err != nil {
		if !apperr.IsNotFound(err) {
			return nil, err
		}
		prof = &PatientProfile{UID: p.Subject}
	}
	prof.Email = p.Email
	if u.Name != nil {
		prof.Name = *u.Name
	}
	if u.Preferences != nil {
		prof.Preferences = *u.Preferences
	}
	if u.Biodata != nil {
		if prof.Biodata == nil {
			prof.Biodata = make(map[string]string, len(u.Biodata))
		}
		for k, v := range u.Biodata {
			if v == "" {
				delete(prof.Biodata, k)
				continue
			}
			prof.Biodata[k] = v
		}
	}
	if err := s.profiles.Upsert(ctx, prof); err != nil {
		return nil, err
	}
	return prof, nil
}

func (s *Service) GetProfile(ctx context.Context, uid string) (*PatientProfile, error) {
	return s.profiles.Get(ctx, uid)
}
