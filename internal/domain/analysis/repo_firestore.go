package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/medreport/medreport/internal/platform/apperr"
)

const (
	reportsCollection  = "reports"
	analysesCollection = "analyses"
	patientsCollection = "patients"
)

func isFirestoreNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// =========== Report Repository ===========

type reportDoc struct {
	PatientID  string      `firestore:"patient_id"`
	FileName   string      `firestore:"file_name"`
	Method     string      `firestore:"method"`
	Attributes []Attribute `firestore:"attributes"`
	AnalysisID string      `firestore:"analysis_id"`
	CreatedAt  time.Time   `firestore:"created_at"`
}

func (d reportDoc) toReport(id string) (*Report, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("report id %q: %w", id, err)
	}
	rep := &Report{
		ID:         rid,
		PatientID:  d.PatientID,
		FileName:   d.FileName,
		Method:     d.Method,
		Attributes: d.Attributes,
		CreatedAt:  d.CreatedAt,
	}
	if d.AnalysisID != "" {
		aid, err := uuid.Parse(d.AnalysisID)
		if err != nil {
			return nil, fmt.Errorf("analysis id %q: %w", d.AnalysisID, err)
		}
		rep.AnalysisID = &aid
	}
	return rep, nil
}

type reportRepoFirestore struct{ client *firestore.Client }

func NewReportRepoFirestore(client *firestore.Client) ReportRepository {
	return &reportRepoFirestore{client: client}
}

func (r *reportRepoFirestore) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	rep.CreatedAt = time.Now().UTC()
	doc := reportDoc{
		PatientID:  rep.PatientID,
		FileName:   rep.FileName,
		Method:     rep.Method,
		Attributes: rep.Attributes,
		CreatedAt:  rep.CreatedAt,
	}
	if doc.Attributes == nil {
		doc.Attributes = []Attribute{}
	}
	if rep.AnalysisID != nil {
		doc.AnalysisID = rep.AnalysisID.String()
	}
	_, err := r.client.Collection(reportsCollection).Doc(rep.ID.String()).Create(ctx, doc)
	return err
}

func (r *reportRepoFirestore) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	snap, err := r.client.Collection(reportsCollection).Doc(id.String()).Get(ctx)
	if isFirestoreNotFound(err) {
		return nil, apperr.NotFound("report %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var doc reportDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toReport(snap.Ref.ID)
}

func (r *reportRepoFirestore) SetAnalysisID(ctx context.Context, reportID, analysisID uuid.UUID) error {
	_, err := r.client.Collection(reportsCollection).Doc(reportID.String()).Update(ctx, []firestore.Update{
		{Path: "analysis_id", Value: analysisID.String()},
	})
	if isFirestoreNotFound(err) {
		return apperr.NotFound("report %s not found", reportID)
	}
	return err
}

// ListByPatient pages in memory; a patient's report count is small.
func (r *reportRepoFirestore) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Report, int, error) {
	iter := r.client.Collection(reportsCollection).
		Where("patient_id", "==", patientID).
		OrderBy("created_at", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var all []*Report
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		var doc reportDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, 0, err
		}
		rep, err := doc.toReport(snap.Ref.ID)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, rep)
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// =========== Analysis Repository ===========

type analysisDoc struct {
	ReportID  string    `firestore:"report_id"`
	PatientID string    `firestore:"patient_id"`
	Text      string    `firestore:"text"`
	Error     *string   `firestore:"error"`
	CreatedAt time.Time `firestore:"created_at"`
}

func (d analysisDoc) toAnalysis(id string) (*Analysis, error) {
	aid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("analysis id %q: %w", id, err)
	}
	rid, err := uuid.Parse(d.ReportID)
	if err != nil {
		return nil, fmt.Errorf("report id %q: %w", d.ReportID, err)
	}
	return &Analysis{
		ID:        aid,
		ReportID:  rid,
		PatientID: d.PatientID,
		Text:      d.Text,
		Error:     d.Error,
		CreatedAt: d.CreatedAt,
	}, nil
}

type analysisRepoFirestore struct{ client *firestore.Client }

func NewAnalysisRepoFirestore(client *firestore.Client) AnalysisRepository {
	return &analysisRepoFirestore{client: client}
}

func (r *analysisRepoFirestore) Create(ctx context.Context, a *Analysis) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	_, err := r.client.Collection(analysesCollection).Doc(a.ID.String()).Create(ctx, analysisDoc{
		ReportID:  a.ReportID.String(),
		PatientID: a.PatientID,
		Text:      a.Text,
		Error:     a.Error,
		CreatedAt: a.CreatedAt,
	})
	return err
}

func (r *analysisRepoFirestore) GetByReport(ctx context.Context, reportID uuid.UUID) (*Analysis, error) {
	items, err := r.collect(ctx, r.client.Collection(analysesCollection).
		Where("report_id", "==", reportID.String()).
		OrderBy("created_at", firestore.Desc).
		Limit(1))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperr.NotFound("analysis for report %s not found", reportID)
	}
	return items[0], nil
}

func (r *analysisRepoFirestore) ListRecentByPatient(ctx context.Context, patientID string, limit int) ([]*Analysis, error) {
	return r.collect(ctx, r.client.Collection(analysesCollection).
		Where("patient_id", "==", patientID).
		Where("error", "==", nil).
		OrderBy("created_at", firestore.Desc).
		Limit(limit))
}

func (r *analysisRepoFirestore) collect(ctx context.Context, q firestore.Query) ([]*Analysis, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var items []*Analysis
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		var doc analysisDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		a, err := doc.toAnalysis(snap.Ref.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
}

// =========== Profile Repository ===========

type profileRepoFirestore struct{ client *firestore.Client }

func NewProfileRepoFirestore(client *firestore.Client) ProfileRepository {
	return &profileRepoFirestore{client: client}
}

func (r *profileRepoFirestore) Get(ctx context.Context, uid string) (*PatientProfile, error) {
	snap, err := r.client.Collection(patientsCollection).Doc(uid).Get(ctx)
	if isFirestoreNotFound(err) {
		return nil, apperr.NotFound("profile %s not found", uid)
	}
	if err != nil {
		return nil, err
	}
	var p PatientProfile
	if err := snap.DataTo(&p); err != nil {
		return nil, err
	}
	p.UID = uid
	return &p, nil
}

func (r *profileRepoFirestore) Upsert(ctx context.Context, p *PatientProfile) error {
	_, err := r.client.Collection(patientsCollection).Doc(p.UID).Set(ctx, p)
	return err
}
