package accessgrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/db"
)

// =========== Grant Repository ===========

type grantRepoPG struct{ pool *pgxpool.Pool }

func NewGrantRepoPG(pool *pgxpool.Pool) GrantRepository { return &grantRepoPG{pool: pool} }

func (r *grantRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const grantCols = `id, hospital_uid, patient_email, status, created_at, updated_at`

func (r *grantRepoPG) scanGrant(row pgx.Row) (*Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.HospitalUID, &g.PatientEmail, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	return &g, err
}

func (r *grantRepoPG) Create(ctx context.Context, g *Grant) error {
	g.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO access_grants (id, hospital_uid, patient_email, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		g.ID, g.HospitalUID, g.PatientEmail, g.Status).Scan(&g.CreatedAt)
}

func (r *grantRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Grant, error) {
	g, err := r.scanGrant(r.conn(ctx).QueryRow(ctx, `SELECT `+grantCols+` FROM access_grants WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("access request %s not found", id)
	}
	return g, err
}

func (r *grantRepoPG) list(ctx context.Context, where string, arg interface{}) ([]*Grant, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+grantCols+` FROM access_grants WHERE `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Grant
	for rows.Next() {
		g, err := r.scanGrant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (r *grantRepoPG) ListByPatientEmail(ctx context.Context, email string) ([]*Grant, error) {
	return r.list(ctx, `patient_email = $1`, email)
}

func (r *grantRepoPG) ListByHospital(ctx context.Context, hospitalUID string) ([]*Grant, error) {
	return r.list(ctx, `hospital_uid = $1`, hospitalUID)
}

func (r *grantRepoPG) Apply(ctx context.Context, id uuid.UUID, patientUID string, decide DecideFunc) (*Grant, error) {
	var out *Grant
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		g, err := r.scanGrant(r.conn(ctx).QueryRow(ctx,
			`SELECT `+grantCols+` FROM access_grants WHERE id = $1 FOR UPDATE`, id))
		if db.IsNoRows(err) {
			return apperr.NotFound("access request %s not found", id)
		}
		if err != nil {
			return err
		}

		t, err := decide(g)
		if err != nil {
			return err
		}

		if err := r.conn(ctx).QueryRow(ctx, `
			UPDATE access_grants SET status = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at`, id, t.To).Scan(&g.UpdatedAt); err != nil {
			return fmt.Errorf("update grant status: %w", err)
		}
		g.Status = t.To

		switch t.Roster {
		case RosterAdd:
			_, err = r.conn(ctx).Exec(ctx, `
				INSERT INTO institutions (uid, patient_ids) VALUES ($1, ARRAY[$2::TEXT])
				ON CONFLICT (uid) DO UPDATE SET patient_ids =
					CASE WHEN $2 = ANY(institutions.patient_ids) THEN institutions.patient_ids
					ELSE array_append(institutions.patient_ids, $2) END`,
				g.HospitalUID, patientUID)
		case RosterRemove:
			_, err = r.conn(ctx).Exec(ctx,
				`UPDATE institutions SET patient_ids = array_remove(patient_ids, $2) WHERE uid = $1`,
				g.HospitalUID, patientUID)
		}
		if err != nil {
			return fmt.Errorf("update roster: %w", err)
		}

		out = g
		return nil
	})
	return out, err
}

// =========== Institution Repository ===========

type institutionRepoPG struct{ pool *pgxpool.Pool }

func NewInstitutionRepoPG(pool *pgxpool.Pool) InstitutionRepository {
	return &institutionRepoPG{pool: pool}
}

func (r *institutionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *institutionRepoPG) Get(ctx context.Context, uid string) (*Institution, error) {
	var inst Institution
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT uid, name, email, patient_ids FROM institutions WHERE uid = $1`, uid).
		Scan(&inst.UID, &inst.Name, &inst.Email, &inst.PatientIDs)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("institution %s not found", uid)
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *institutionRepoPG) Upsert(ctx context.Context, inst *Institution) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO institutions (uid, name, email) VALUES ($1, $2, $3)
		ON CONFLICT (uid) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`,
		inst.UID, inst.Name, inst.Email)
	return err
}

func (r *institutionRepoPG) HasPatient(ctx context.Context, uid, patientUID string) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM institutions WHERE uid = $1 AND $2 = ANY(patient_ids))`,
		uid, patientUID).Scan(&ok)
	return ok, err
}
