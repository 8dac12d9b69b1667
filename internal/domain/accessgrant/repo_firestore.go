package accessgrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/medreport/medreport/internal/platform/apperr"
)

const (
	grantsCollection       = "access_grants"
	institutionsCollection = "institutions"
)

func isFirestoreNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// grantDoc is the stored shape: {_id, hospital_uid, patient_email, status,
// created_at, updated_at}.
type grantDoc struct {
	ID           string     `firestore:"_id"`
	HospitalUID  string     `firestore:"hospital_uid"`
	PatientEmail string     `firestore:"patient_email"`
	Status       string     `firestore:"status"`
	CreatedAt    time.Time  `firestore:"created_at"`
	UpdatedAt    *time.Time `firestore:"updated_at"`
}

func (d grantDoc) toGrant() (*Grant, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("grant id %q: %w", d.ID, err)
	}
	return &Grant{
		ID:           id,
		HospitalUID:  d.HospitalUID,
		PatientEmail: d.PatientEmail,
		Status:       Status(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

func decodeGrant(snap *firestore.DocumentSnapshot) (*Grant, error) {
	var doc grantDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = snap.Ref.ID
	}
	return doc.toGrant()
}

// =========== Grant Repository ===========

type grantRepoFirestore struct{ client *firestore.Client }

func NewGrantRepoFirestore(client *firestore.Client) GrantRepository {
	return &grantRepoFirestore{client: client}
}

func (r *grantRepoFirestore) Create(ctx context.Context, g *Grant) error {
	g.ID = uuid.New()
	g.CreatedAt = time.Now().UTC()
	_, err := r.client.Collection(grantsCollection).Doc(g.ID.String()).Create(ctx, grantDoc{
		ID:           g.ID.String(),
		HospitalUID:  g.HospitalUID,
		PatientEmail: g.PatientEmail,
		Status:       string(g.Status),
		CreatedAt:    g.CreatedAt,
	})
	return err
}

func (r *grantRepoFirestore) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	snap, err := r.client.Collection(grantsCollection).Doc(id.String()).Get(ctx)
	if isFirestoreNotFound(err) {
		return nil, apperr.NotFound("access request %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeGrant(snap)
}

func (r *grantRepoFirestore) list(ctx context.Context, field, value string) ([]*Grant, error) {
	iter := r.client.Collection(grantsCollection).
		Where(field, "==", value).
		OrderBy("created_at", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var items []*Grant
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return items, nil
		}
		if err != nil {
			return nil, err
		}
		g, err := decodeGrant(snap)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
}

func (r *grantRepoFirestore) ListByPatientEmail(ctx context.Context, email string) ([]*Grant, error) {
	return r.list(ctx, "patient_email", email)
}

func (r *grantRepoFirestore) ListByHospital(ctx context.Context, hospitalUID string) ([]*Grant, error) {
	return r.list(ctx, "hospital_uid", hospitalUID)
}

// Apply runs in a Firestore transaction. The function may be retried, so
// decide must not have side effects.
func (r *grantRepoFirestore) Apply(ctx context.Context, id uuid.UUID, patientUID string, decide DecideFunc) (*Grant, error) {
	grantRef := r.client.Collection(grantsCollection).Doc(id.String())

	var out *Grant
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(grantRef)
		if isFirestoreNotFound(err) {
			return apperr.NotFound("access request %s not found", id)
		}
		if err != nil {
			return err
		}
		g, err := decodeGrant(snap)
		if err != nil {
			return err
		}

		t, err := decide(g)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Update(grantRef, []firestore.Update{
			{Path: "status", Value: string(t.To)},
			{Path: "updated_at", Value: now},
		}); err != nil {
			return err
		}
		g.Status = t.To
		g.UpdatedAt = &now

		instRef := r.client.Collection(institutionsCollection).Doc(g.HospitalUID)
		switch t.Roster {
		case RosterAdd:
			err = tx.Set(instRef, map[string]interface{}{
				"patient_ids": firestore.ArrayUnion(patientUID),
			}, firestore.MergeAll)
		case RosterRemove:
			err = tx.Set(instRef, map[string]interface{}{
				"patient_ids": firestore.ArrayRemove(patientUID),
			}, firestore.MergeAll)
		}
		if err != nil {
			return err
		}

		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =========== Institution Repository ===========

type institutionRepoFirestore struct{ client *firestore.Client }

func NewInstitutionRepoFirestore(client *firestore.Client) InstitutionRepository {
	return &institutionRepoFirestore{client: client}
}

func (r *institutionRepoFirestore) Get(ctx context.Context, uid string) (*Institution, error) {
	snap, err := r.client.Collection(institutionsCollection).Doc(uid).Get(ctx)
	if isFirestoreNotFound(err) {
		return nil, apperr.NotFound("institution %s not found", uid)
	}
	if err != nil {
		return nil, err
	}
	var inst Institution
	if err := snap.DataTo(&inst); err != nil {
		return nil, err
	}
	inst.UID = uid
	return &inst, nil
}

func (r *institutionRepoFirestore) Upsert(ctx context.Context, inst *Institution) error {
	_, err := r.client.Collection(institutionsCollection).Doc(inst.UID).Set(ctx, map[string]interface{}{
		"name":  inst.Name,
		"email": inst.Email,
	}, firestore.MergeAll)
	return err
}

func (r *institutionRepoFirestore) HasPatient(ctx context.Context, uid, patientUID string) (bool, error) {
	inst, err := r.Get(ctx, uid)
	if apperr.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return lo.Contains(inst.PatientIDs, patientUID), nil
}
