package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medreport/medreport/internal/platform/apperr"
	"github.com/medreport/medreport/internal/platform/db"
)

// =========== Report Repository ===========

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository { return &reportRepoPG{pool: pool} }

func (r *reportRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const reportCols = `id, patient_id, file_name, method, attributes, analysis_id, created_at`

func (r *reportRepoPG) scanReport(row pgx.Row) (*Report, error) {
	var (
		rep   Report
		attrs []byte
	)
	if err := row.Scan(&rep.ID, &rep.PatientID, &rep.FileName, &rep.Method, &attrs, &rep.AnalysisID, &rep.CreatedAt); err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rep.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of report %s: %w", rep.ID, err)
		}
	}
	return &rep, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	rep.ID = uuid.New()
	attrs := rep.Attributes
	if attrs == nil {
		attrs = []Attribute{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reports (id, patient_id, file_name, method, attributes, analysis_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		rep.ID, rep.PatientID, rep.FileName, rep.Method, raw, rep.AnalysisID).Scan(&rep.CreatedAt)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	rep, err := r.scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("report %s not found", id)
	}
	return rep, err
}

func (r *reportRepoPG) SetAnalysisID(ctx context.Context, reportID, analysisID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE reports SET analysis_id = $2 WHERE id = $1`, reportID, analysisID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("report %s not found", reportID)
	}
	return nil
}

func (r *reportRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reports WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM reports WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Report
	for rows.Next() {
		rep, err := r.scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rep)
	}
	return items, total, rows.Err()
}

// =========== Analysis Repository ===========

type analysisRepoPG struct{ pool *pgxpool.Pool }

func NewAnalysisRepoPG(pool *pgxpool.Pool) AnalysisRepository { return &analysisRepoPG{pool: pool} }

func (r *analysisRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const analysisCols = `id, report_id, patient_id, text, error, created_at`

func (r *analysisRepoPG) scanAnalysis(row pgx.Row) (*Analysis, error) {
	var a Analysis
	err := row.Scan(&a.ID, &a.ReportID, &a.PatientID, &a.Text, &a.Error, &a.CreatedAt)
	return &a, err
}

func (r *analysisRepoPG) Create(ctx context.Context, a *Analysis) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO analyses (id, report_id, patient_id, text, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		a.ID, a.ReportID, a.PatientID, a.Text, a.Error).Scan(&a.CreatedAt)
}

func (r *analysisRepoPG) GetByReport(ctx context.Context, reportID uuid.UUID) (*Analysis, error) {
	a, err := r.scanAnalysis(r.conn(ctx).QueryRow(ctx,
		`SELECT `+analysisCols+` FROM analyses WHERE report_id = $1 ORDER BY created_at DESC LIMIT 1`, reportID))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("analysis for report %s not found", reportID)
	}
	return a, err
}

func (r *analysisRepoPG) ListRecentByPatient(ctx context.Context, patientID string, limit int) ([]*Analysis, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+analysisCols+` FROM analyses
		WHERE patient_id = $1 AND error IS NULL
		ORDER BY created_at DESC LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Analysis
	for rows.Next() {
		a, err := r.scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== Profile Repository ===========

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

func (r *profileRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *profileRepoPG) Get(ctx context.Context, uid string) (*PatientProfile, error) {
	var (
		p   PatientProfile
		bio []byte
	)
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT uid, email, name, preferences, biodata FROM patient_profiles WHERE uid = $1`, uid).
		Scan(&p.UID, &p.Email, &p.Name, &p.Preferences, &bio)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("profile %s not found", uid)
	}
	if err != nil {
		return nil, err
	}
	if len(bio) > 0 {
		if err := json.Unmarshal(bio, &p.Biodata); err != nil {
			return nil, fmt.Errorf("decode biodata of %s: %w", uid, err)
		}
	}
	return &p, nil
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *PatientProfile) error {
	bio := p.Biodata
	if bio == nil {
		bio = map[string]string{}
	}
	raw, err := json.Marshal(bio)
	if err != nil {
		return fmt.Errorf("encode biodata: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_profiles (uid, email, name, preferences, biodata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uid) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name,
			preferences = EXCLUDED.preferences, biodata = EXCLUDED.biodata, updated_at = NOW()`,
		p.UID, p.Email, p.Name, p.Preferences, raw)
	return err
}
