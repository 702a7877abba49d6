package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gapforets/internal/domain"
)

const actionColumns = `id,program_id,action_key,COALESCE(action_label,''),year,ledger,COALESCE(unit,''),physical,financial,
COALESCE(commune_id,''),COALESCE(perimeter_id,''),COALESCE(site_id,''),COALESCE(geometry_type,''),COALESCE(coordinates,''),
COALESCE(evidence_json,''),COALESCE(drift_justification,''),COALESCE(notes,''),COALESCE(executed_on,''),locked,
created_by,COALESCE(updated_by,''),created_at,updated_at`

func scanAction(row scanner) (domain.ActionRecord, error) {
	var a domain.ActionRecord
	var evidence string
	var locked int
	err := row.Scan(&a.ID, &a.ProgramID, &a.ActionKey, &a.ActionLabel, &a.Year, &a.Ledger, &a.Unit, &a.Physical, &a.Financial,
		&a.CommuneID, &a.PerimeterID, &a.SiteID, &a.GeometryType, &a.Coordinates,
		&evidence, &a.DriftJustification, &a.Notes, &a.ExecutedOn, &locked,
		&a.CreatedBy, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if evidence != "" {
		if err := json.Unmarshal([]byte(evidence), &a.Evidence); err != nil {
			return a, fmt.Errorf("decode evidence for %s: %w", a.ID, err)
		}
	}
	a.Locked = locked != 0
	return a, nil
}

func marshalEvidence(items []string) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.ActionRecord) error {
	evidence, err := marshalEvidence(a.Evidence)
	if err != nil {
		return err
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO action_records(id,program_id,action_key,action_label,year,ledger,unit,physical,financial,
commune_id,perimeter_id,site_id,geometry_type,coordinates,evidence_json,drift_justification,notes,executed_on,locked,
created_by,updated_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProgramID, a.ActionKey, nullable(a.ActionLabel), a.Year, a.Ledger, nullable(a.Unit), a.Physical, a.Financial,
		nullable(a.CommuneID), nullable(a.PerimeterID), nullable(a.SiteID), nullable(a.GeometryType), nullable(a.Coordinates),
		evidence, nullable(a.DriftJustification), nullable(a.Notes), nullable(a.ExecutedOn), boolInt(a.Locked),
		a.CreatedBy, nullable(a.UpdatedBy), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateAction(ctx context.Context, tx *sql.Tx, a domain.ActionRecord) error {
	evidence, err := marshalEvidence(a.Evidence)
	if err != nil {
		return err
	}
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE action_records SET action_key=?,action_label=?,year=?,ledger=?,unit=?,physical=?,financial=?,
commune_id=?,perimeter_id=?,site_id=?,geometry_type=?,coordinates=?,evidence_json=?,drift_justification=?,notes=?,executed_on=?,locked=?,
updated_by=?,updated_at=? WHERE id=?`,
		a.ActionKey, nullable(a.ActionLabel), a.Year, a.Ledger, nullable(a.Unit), a.Physical, a.Financial,
		nullable(a.CommuneID), nullable(a.PerimeterID), nullable(a.SiteID), nullable(a.GeometryType), nullable(a.Coordinates),
		evidence, nullable(a.DriftJustification), nullable(a.Notes), nullable(a.ExecutedOn), boolInt(a.Locked),
		nullable(a.UpdatedBy), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAction(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM action_records WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAction(ctx context.Context, tx *sql.Tx, id string) (domain.ActionRecord, error) {
	return scanAction(r.conn(tx).QueryRowContext(ctx, `SELECT `+actionColumns+` FROM action_records WHERE id=?`, id))
}

// SetActionsLocked flips the per-record lock on every record of a program.
func (r Repo) SetActionsLocked(ctx context.Context, tx *sql.Tx, programID string, locked bool, updatedAt string) error {
	_, err := r.conn(tx).ExecContext(ctx, `UPDATE action_records SET locked=?, updated_at=? WHERE program_id=? AND locked<>?`,
		boolInt(locked), updatedAt, programID, boolInt(locked))
	return err
}

type ActionFilters struct {
	ProgramID string
	Ledger    domain.Ledger
	Year      int
	ActionKey string
	CommuneID string
}

// ListActions returns records ordered by action key then year, insertion
// order breaking ties. The comparatif takes each group's id and unit from the
// first record in this order.
func (r Repo) ListActions(ctx context.Context, tx *sql.Tx, f ActionFilters) ([]domain.ActionRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.ProgramID != "" {
		where = append(where, "program_id=?")
		args = append(args, f.ProgramID)
	}
	if f.Ledger != "" {
		where = append(where, "ledger=?")
		args = append(args, f.Ledger)
	}
	if f.Year != 0 {
		where = append(where, "year=?")
		args = append(args, f.Year)
	}
	if f.ActionKey != "" {
		where = append(where, "(action_key=? OR action_label=?)")
		args = append(args, f.ActionKey, f.ActionKey)
	}
	if f.CommuneID != "" {
		where = append(where, "commune_id=?")
		args = append(args, f.CommuneID)
	}
	query := `SELECT ` + actionColumns + ` FROM action_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY action_key, year, rowid`
	rows, err := r.conn(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionRecord
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
