package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"gapforets/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrPendingExists is returned when the one-pending-request index rejects an insert.
	ErrPendingExists = errors.New("pending unlock request exists")
	// ErrNotPending is returned when a resolve hits a request that is no longer PENDING.
	ErrNotPending = errors.New("unlock request not pending")
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs on tx when given, else on the pool.
func (r Repo) conn(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

type scanner interface {
	Scan(dest ...any) error
}

const programColumns = `id,code,title,COALESCE(description,''),COALESCE(region_id,''),COALESCE(province_id,''),COALESCE(commune_id,''),
year_start,year_end,total_budget,validation_status,submitted_by,submitted_at,validated_provincial_by,validated_provincial_at,
visa_regional_by,visa_regional_at,COALESCE(unlock_note,''),created_by,COALESCE(updated_by,''),created_at,updated_at`

func scanProgram(row scanner) (domain.Program, error) {
	var p domain.Program
	var submittedBy, submittedAt, provBy, provAt, visaBy, visaAt sql.NullString
	err := row.Scan(&p.ID, &p.Code, &p.Title, &p.Description, &p.RegionID, &p.ProvinceID, &p.CommuneID,
		&p.YearStart, &p.YearEnd, &p.TotalBudget, &p.ValidationStatus, &submittedBy, &submittedAt, &provBy, &provAt,
		&visaBy, &visaAt, &p.UnlockNote, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.SubmittedBy = optionalString(submittedBy)
	p.SubmittedAt = optionalString(submittedAt)
	p.ValidatedProvincialBy = optionalString(provBy)
	p.ValidatedProvincialAt = optionalString(provAt)
	p.VisaRegionalBy = optionalString(visaBy)
	p.VisaRegionalAt = optionalString(visaAt)
	p.Locked = p.ValidationStatus.Locked()
	return p, nil
}

func (r Repo) InsertProgram(ctx context.Context, tx *sql.Tx, p domain.Program) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO programs(id,code,title,description,region_id,province_id,commune_id,
year_start,year_end,total_budget,validation_status,created_by,updated_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Title, nullable(p.Description), nullable(p.RegionID), nullable(p.ProvinceID), nullable(p.CommuneID),
		p.YearStart, p.YearEnd, p.TotalBudget, p.ValidationStatus, p.CreatedBy, nullable(p.UpdatedBy), p.CreatedAt, p.UpdatedAt)
	return err
}

// UpdateProgram rewrites every mutable column, approval markers included.
func (r Repo) UpdateProgram(ctx context.Context, tx *sql.Tx, p domain.Program) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE programs SET code=?,title=?,description=?,region_id=?,province_id=?,commune_id=?,
year_start=?,year_end=?,total_budget=?,validation_status=?,submitted_by=?,submitted_at=?,validated_provincial_by=?,validated_provincial_at=?,
visa_regional_by=?,visa_regional_at=?,unlock_note=?,updated_by=?,updated_at=? WHERE id=?`,
		p.Code, p.Title, nullable(p.Description), nullable(p.RegionID), nullable(p.ProvinceID), nullable(p.CommuneID),
		p.YearStart, p.YearEnd, p.TotalBudget, p.ValidationStatus, nullableStringPtr(p.SubmittedBy), nullableStringPtr(p.SubmittedAt),
		nullableStringPtr(p.ValidatedProvincialBy), nullableStringPtr(p.ValidatedProvincialAt),
		nullableStringPtr(p.VisaRegionalBy), nullableStringPtr(p.VisaRegionalAt), nullable(p.UnlockNote),
		nullable(p.UpdatedBy), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	return r.GetProgramTx(ctx, nil, id)
}

func (r Repo) GetProgramTx(ctx context.Context, tx *sql.Tx, id string) (domain.Program, error) {
	return scanProgram(r.conn(tx).QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id=?`, id))
}

type ProgramFilters struct {
	Status     domain.Status
	RegionID   string
	ProvinceID string
	CommuneID  string
}

func (r Repo) ListPrograms(ctx context.Context, f ProgramFilters) ([]domain.Program, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "validation_status=?")
		args = append(args, f.Status)
	}
	if f.RegionID != "" {
		where = append(where, "region_id=?")
		args = append(args, f.RegionID)
	}
	if f.ProvinceID != "" {
		where = append(where, "province_id=?")
		args = append(args, f.ProvinceID)
	}
	if f.CommuneID != "" {
		where = append(where, "commune_id=?")
		args = append(args, f.CommuneID)
	}
	query := `SELECT ` + programColumns + ` FROM programs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func optionalString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// IsUniqueViolation matches SQLite's unique constraint failure.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
