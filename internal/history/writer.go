package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"gapforets/internal/domain"
)

// Writer appends validation history rows inside the caller's transaction,
// so a status change and its history row commit or roll back together.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.HistoryEntry) (domain.HistoryEntry, error) {
	if tx == nil {
		return domain.HistoryEntry{}, errors.New("history append requires a transaction")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = w.Now().UTC().Format(time.RFC3339Nano)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO validation_history(id,program_id,action,from_status,to_status,note,actor_id,actor_name,actor_role,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProgramID, e.Action, e.FromStatus, e.ToStatus, nullable(e.Note), e.ActorID, nullable(e.ActorName), e.ActorRole, e.CreatedAt)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	return e, nil
}

// List returns a program's history, newest first.
func List(ctx context.Context, db *sql.DB, programID string, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT id,program_id,action,from_status,to_status,COALESCE(note,''),actor_id,COALESCE(actor_name,''),actor_role,created_at
FROM validation_history WHERE program_id=? ORDER BY seq DESC`
	args := []any{programID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.ProgramID, &e.Action, &e.FromStatus, &e.ToStatus, &e.Note, &e.ActorID, &e.ActorName, &e.ActorRole, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Count is used by callers asserting one row per transition.
func Count(ctx context.Context, db *sql.DB, programID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM validation_history WHERE program_id=?`, programID).Scan(&n)
	return n, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
