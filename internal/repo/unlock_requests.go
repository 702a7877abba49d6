package repo

import (
	"context"
	"database/sql"
	"strings"

	"gapforets/internal/domain"
)

const unlockColumns = `id,program_id,requester_id,COALESCE(requester_name,''),COALESCE(requester_email,''),requester_role,
COALESCE(territory,''),status_at_request,reason,status,resolved_by_id,resolved_by_name,resolution_comment,created_at,resolved_at`

func scanUnlockRequest(row scanner) (domain.UnlockRequest, error) {
	var u domain.UnlockRequest
	var byID, byName, comment, resolvedAt sql.NullString
	err := row.Scan(&u.ID, &u.ProgramID, &u.RequesterID, &u.RequesterName, &u.RequesterEmail, &u.RequesterRole,
		&u.Territory, &u.StatusAtRequest, &u.Reason, &u.Status, &byID, &byName, &comment, &u.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.ResolvedByID = optionalString(byID)
	u.ResolvedByName = optionalString(byName)
	u.ResolutionComment = optionalString(comment)
	u.ResolvedAt = optionalString(resolvedAt)
	return u, nil
}

// InsertUnlockRequest relies on the partial unique index over PENDING rows;
// a second pending request for the same program yields ErrPendingExists.
func (r Repo) InsertUnlockRequest(ctx context.Context, tx *sql.Tx, u domain.UnlockRequest) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO unlock_requests(id,program_id,requester_id,requester_name,requester_email,requester_role,
territory,status_at_request,reason,status,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.ProgramID, u.RequesterID, nullable(u.RequesterName), nullable(u.RequesterEmail), u.RequesterRole,
		nullable(u.Territory), u.StatusAtRequest, u.Reason, u.Status, u.CreatedAt)
	if IsUniqueViolation(err) {
		return ErrPendingExists
	}
	return err
}

func (r Repo) GetUnlockRequest(ctx context.Context, tx *sql.Tx, id string) (domain.UnlockRequest, error) {
	return scanUnlockRequest(r.conn(tx).QueryRowContext(ctx, `SELECT `+unlockColumns+` FROM unlock_requests WHERE id=?`, id))
}

// PendingUnlockRequest returns the program's PENDING request or ErrNotFound.
func (r Repo) PendingUnlockRequest(ctx context.Context, tx *sql.Tx, programID string) (domain.UnlockRequest, error) {
	return scanUnlockRequest(r.conn(tx).QueryRowContext(ctx, `SELECT `+unlockColumns+` FROM unlock_requests WHERE program_id=? AND status='PENDING'`, programID))
}

// Resolution is the administrator decision applied to a PENDING request.
type Resolution struct {
	Status     domain.RequestStatus
	ByID       string
	ByName     string
	Comment    string
	ResolvedAt string
}

// ResolveUnlockRequest transitions a PENDING request; the WHERE clause makes
// concurrent resolutions lose with ErrNotPending.
func (r Repo) ResolveUnlockRequest(ctx context.Context, tx *sql.Tx, id string, res Resolution) error {
	out, err := r.conn(tx).ExecContext(ctx, `UPDATE unlock_requests SET status=?,resolved_by_id=?,resolved_by_name=?,resolution_comment=?,resolved_at=?
WHERE id=? AND status='PENDING'`,
		res.Status, res.ByID, nullable(res.ByName), nullable(res.Comment), res.ResolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ErrNotPending
	}
	return nil
}

type UnlockRequestFilters struct {
	ProgramID string
	Status    domain.RequestStatus
	Limit     int
}

func (r Repo) ListUnlockRequests(ctx context.Context, f UnlockRequestFilters) ([]domain.UnlockRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.ProgramID != "" {
		where = append(where, "program_id=?")
		args = append(args, f.ProgramID)
	}
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + unlockColumns + ` FROM unlock_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UnlockRequest
	for rows.Next() {
		u, err := scanUnlockRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
