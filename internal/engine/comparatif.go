package engine

import (
	"context"

	"gapforets/internal/comparatif"
	"gapforets/internal/domain"
	"gapforets/internal/history"
	"gapforets/internal/repo"
)

// ComparatifQuery narrows the records fed to the comparatif. Year zero means
// every year collapsed into the flat view.
type ComparatifQuery struct {
	Year      int
	ActionKey string
	CommuneID string
}

func (q ComparatifQuery) filter() comparatif.Filter {
	return comparatif.Filter{ActionKey: q.ActionKey, CommuneID: q.CommuneID}
}

// Comparatif returns the flat view when no year is given and that year's
// pivot cells otherwise.
func (e Engine) Comparatif(ctx context.Context, programID string, q ComparatifQuery) (comparatif.Result, error) {
	records, err := e.programRecords(ctx, programID)
	if err != nil {
		return comparatif.Result{}, err
	}
	records = q.filter().Apply(records)
	opts := e.comparatifOptions()
	if q.Year != 0 {
		return opts.Year(records, q.Year), nil
	}
	return opts.Flat(records), nil
}

// Pivot returns every (action identity, year) cell of a program.
func (e Engine) Pivot(ctx context.Context, programID string, q ComparatifQuery) (comparatif.Pivot, error) {
	records, err := e.programRecords(ctx, programID)
	if err != nil {
		return comparatif.Pivot{}, err
	}
	f := q.filter()
	f.Year = q.Year
	return e.comparatifOptions().Pivot(f.Apply(records)), nil
}

// ListHistory lists a program's validation history, newest first.
func (e Engine) ListHistory(ctx context.Context, programID string, limit int) ([]domain.HistoryEntry, error) {
	if _, err := e.GetProgram(ctx, programID); err != nil {
		return nil, err
	}
	entries, err := history.List(ctx, e.DB, programID, limit)
	return entries, storeErr("list history", err)
}

// programRecords reads one consistent snapshot of a program's records.
func (e Engine) programRecords(ctx context.Context, programID string) ([]domain.ActionRecord, error) {
	if _, err := e.GetProgram(ctx, programID); err != nil {
		return nil, err
	}
	records, err := e.Repo.ListActions(ctx, nil, repo.ActionFilters{ProgramID: programID})
	return records, storeErr("list actions", err)
}
