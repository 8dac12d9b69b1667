// Package accessgrant implements the consent workflow between institutions
// and patients: institutions request access by patient email, patients
// approve, reject or revoke, and the institution roster follows approvals.
package accessgrant

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/auth"
)

type Service struct {
	grants       GrantRepository
	institutions InstitutionRepository
	logger       zerolog.Logger
}

func NewService(grants GrantRepository, institutions InstitutionRepository, logger zerolog.Logger) *Service {
	return &Service{
		grants:       grants,
		institutions: institutions,
		logger:       logger.With().Str("component", "accessgrant").Logger(),
	}
}

// RequestAccess records a PENDING grant from the calling institution to the
// patient identified by email. Repeated requests create separate grants.
func (s *Service) RequestAccess(ctx context.Context, p auth.Principal, patientEmail string) (*Grant, error) {
	if p.Role != auth.RoleInstitution {
		return nil, apperr.PermissionDenied("only institutions can request access")
	}
	email := NormalizeEmail(patientEmail)
	if email == "" {
		return nil, apperr.InvalidInput("patient_email is required")
	}

	g := &Grant{
		HospitalUID:  p.Subject,
		PatientEmail: email,
		Status:       StatusPending,
	}
	if err := s.grants.Create(ctx, g); err != nil {
		return nil, apperr.Collaborator(err, "store access request")
	}
	s.logger.Info().
		Str("grant_id", g.ID.String()).
		Str("hospital_uid", g.HospitalUID).
		Msg("access requested")
	return g, nil
}

// ListRequestsForPatient returns every grant addressed to the caller's email,
// newest first.
func (s *Service) ListRequestsForPatient(ctx context.Context, p auth.Principal) ([]GrantView, error) {
	items, err := s.grants.ListByPatientEmail(ctx, NormalizeEmail(p.Email))
	if err != nil {
		return nil, apperr.Collaborator(err, "list access requests")
	}
	return s.enrich(ctx, items), nil
}

// ListActiveForPatient returns the caller's APPROVED grants.
func (s *Service) ListActiveForPatient(ctx context.Context, p auth.Principal) ([]ActiveGrant, error) {
	items, err := s.grants.ListByPatientEmail(ctx, NormalizeEmail(p.Email))
	if err != nil {
		return nil, apperr.Collaborator(err, "list access grants")
	}
	approved := lo.Filter(items, func(g *Grant, _ int) bool { return g.Status == StatusApproved })
	return lo.Map(s.enrich(ctx, approved), func(v GrantView, _ int) ActiveGrant {
		return ActiveGrant{GrantView: v, ApprovedAt: approvedAt(v.Grant)}
	}), nil
}

// ListForInstitution returns the grants the calling institution has requested.
func (s *Service) ListForInstitution(ctx context.Context, p auth.Principal) ([]*Grant, error) {
	items, err := s.grants.ListByHospital(ctx, p.Subject)
	if err != nil {
		return nil, apperr.Collaborator(err, "list sent requests")
	}
	return items, nil
}

// enrich attaches institution display info. Lookups are cached per call and a
// failed lookup leaves the institution nil.
func (s *Service) enrich(ctx context.Context, items []*Grant) []GrantView {
	cache := make(map[string]*InstitutionInfo)
	out := make([]GrantView, 0, len(items))
	for _, g := range items {
		info, ok := cache[g.HospitalUID]
		if !ok {
			info = s.lookupInstitution(ctx, g.HospitalUID)
			cache[g.HospitalUID] = info
		}
		out = append(out, GrantView{Grant: g, Institution: info})
	}
	return out
}

func (s *Service) lookupInstitution(ctx context.Context, uid string) *InstitutionInfo {
	inst, err := s.institutions.Get(ctx, uid)
	if err != nil {
		if !apperr.IsNotFound(err) {
			s.logger.Warn().Err(err).Str("hospital_uid", uid).Msg("institution lookup failed")
		}
		return nil
	}
	return &InstitutionInfo{Name: inst.Name, Email: inst.Email}
}

// ParseAction validates a patient's response verb.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := transitions[a]; !ok {
		return "", apperr.InvalidInput("invalid action %q: must be approve, reject or revoke", s)
	}
	return a, nil
}

// Respond applies the caller's action to one of their grants. The status
// change and the roster change commit together or not at all.
func (s *Service) Respond(ctx context.Context, p auth.Principal, grantID uuid.UUID, action Action) (*Grant, error) {
	want, ok := transitions[action]
	if !ok {
		return nil, apperr.InvalidInput("invalid action %q", action)
	}
	email := NormalizeEmail(p.Email)
	if email == "" {
		return nil, apperr.PermissionDenied("a verified email is required")
	}

	g, err := s.grants.Apply(ctx, grantID, p.Subject, func(g *Grant) (Transition, error) {
		// Grants addressed to someone else are indistinguishable from missing ones.
		if g.PatientEmail != email {
			return Transition{}, apperr.NotFound("access request %s not found", grantID)
		}
		if g.Status != want.From {
			return Transition{}, apperr.InvalidTransition("cannot %s a request in status %s", action, g.Status)
		}
		return want, nil
	})
	if err != nil {
		if apperr.CodeOf(err) != apperr.CodeInternal {
			return nil, err
		}
		return nil, apperr.Collaborator(err, fmt.Sprintf("%s access request", action))
	}

	s.logger.Info().
		Str("grant_id", g.ID.String()).
		Str("hospital_uid", g.HospitalUID).
		Str("status", string(g.Status)).
		Msg("access request updated")
	return g, nil
}

// CanAccess reports whether patientUID is on the institution's roster.
func (s *Service) CanAccess(ctx context.Context, institutionUID, patientUID string) (bool, error) {
	return s.institutions.HasPatient(ctx, institutionUID, patientUID)
}

// UpsertInstitution stores the calling institution's display record.
func (s *Service) UpsertInstitution(ctx context.Context, p auth.Principal, name, email string) (*Institution, error) {
	if p.Role != auth.RoleInstitution {
		return nil, apperr.PermissionDenied("only institutions have an institution record")
	}
	inst := &Institution{UID: p.Subject, Name: name, Email: NormalizeEmail(email)}
	if inst.Name == "" {
		return nil, apperr.InvalidInput("name is required")
	}
	if err := s.institutions.Upsert(ctx, inst); err != nil {
		return nil, apperr.Collaborator(err, "store institution")
	}
	return inst, nil
}

// approvedAt falls back to the creation time for grants never updated.
func approvedAt(g *Grant) time.Time {
	if g.UpdatedAt != nil {
		return *g.UpdatedAt
	}
	return g.CreatedAt
}
