package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gapforets/internal/domain"
	"gapforets/internal/engine/auth"
	"gapforets/internal/policy"
	"gapforets/internal/repo"
)

// ActionCreateOptions are parameters for adding one ledger record.
type ActionCreateOptions struct {
	ID                 string
	ActionKey          string
	ActionLabel        string
	Year               int
	Ledger             domain.Ledger
	Unit               string
	Physical           float64
	Financial          float64
	CommuneID          string
	PerimeterID        string
	SiteID             string
	GeometryType       string
	Coordinates        string
	Evidence           []string
	DriftJustification string
	Notes              string
	ExecutedOn         string
}

// ActionUpdateOptions carries a partial edit; nil fields are left as is.
type ActionUpdateOptions struct {
	ActionKey          *string
	ActionLabel        *string
	Year               *int
	Ledger             *domain.Ledger
	Unit               *string
	Physical           *float64
	Financial          *float64
	CommuneID          *string
	PerimeterID        *string
	SiteID             *string
	GeometryType       *string
	Coordinates        *string
	Evidence           *[]string
	DriftJustification *string
	Notes              *string
	ExecutedOn         *string
}

// CreateAction adds a record to the ledger of a program. The ledger's
// submodule must be editable for the caller in the program's status.
func (e Engine) CreateAction(ctx context.Context, programID string, opts ActionCreateOptions, caller auth.Caller) (domain.ActionRecord, error) {
	if err := caller.Validate(); err != nil {
		return domain.ActionRecord{}, err
	}
	ledger, ok := domain.ParseLedger(string(opts.Ledger))
	if !ok {
		return domain.ActionRecord{}, ValidationError{Field: "ledger", Message: fmt.Sprintf("unknown ledger %q", opts.Ledger)}
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.ActionRecord{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProgramTx(ctx, tx, programID)
	if err != nil {
		return domain.ActionRecord{}, storeErr("load program", err)
	}
	if err := policy.CheckRecordWrite(p.ValidationStatus, caller.Role, ledger, false); err != nil {
		return domain.ActionRecord{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := e.timestamp()
	a := domain.ActionRecord{
		ID:                 id,
		ProgramID:          p.ID,
		ActionKey:          strings.TrimSpace(opts.ActionKey),
		ActionLabel:        strings.TrimSpace(opts.ActionLabel),
		Year:               opts.Year,
		Ledger:             ledger,
		Unit:               strings.TrimSpace(opts.Unit),
		Physical:           opts.Physical,
		Financial:          opts.Financial,
		CommuneID:          opts.CommuneID,
		PerimeterID:        opts.PerimeterID,
		SiteID:             opts.SiteID,
		GeometryType:       opts.GeometryType,
		Coordinates:        opts.Coordinates,
		Evidence:           opts.Evidence,
		DriftJustification: opts.DriftJustification,
		Notes:              opts.Notes,
		ExecutedOn:         opts.ExecutedOn,
		CreatedBy:          caller.ID,
		UpdatedBy:          caller.ID,
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}
	if a.CommuneID == "" {
		a.CommuneID = p.CommuneID
	}
	if err := validateAction(p, a); err != nil {
		return domain.ActionRecord{}, err
	}
	if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
		return domain.ActionRecord{}, storeErr("insert action", err)
	}
	if err := commit(tx); err != nil {
		return domain.ActionRecord{}, err
	}
	return a, nil
}

// UpdateAction edits a record. Moving a record to another ledger needs write
// access to both ledgers.
func (e Engine) UpdateAction(ctx context.Context, programID, actionID string, opts ActionUpdateOptions, caller auth.Caller) (domain.ActionRecord, error) {
	if err := caller.Validate(); err != nil {
		return domain.ActionRecord{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.ActionRecord{}, err
	}
	defer tx.Rollback()

	p, a, err := e.loadAction(ctx, tx, programID, actionID)
	if err != nil {
		return domain.ActionRecord{}, err
	}
	if err := policy.CheckRecordWrite(p.ValidationStatus, caller.Role, a.Ledger, a.Locked); err != nil {
		return domain.ActionRecord{}, err
	}
	if opts.Ledger != nil {
		ledger, ok := domain.ParseLedger(string(*opts.Ledger))
		if !ok {
			return domain.ActionRecord{}, ValidationError{Field: "ledger", Message: fmt.Sprintf("unknown ledger %q", *opts.Ledger)}
		}
		if ledger != a.Ledger {
			if err := policy.CheckRecordWrite(p.ValidationStatus, caller.Role, ledger, a.Locked); err != nil {
				return domain.ActionRecord{}, err
			}
			a.Ledger = ledger
		}
	}
	applyActionUpdate(&a, opts)
	if err := validateAction(p, a); err != nil {
		return domain.ActionRecord{}, err
	}
	a.UpdatedBy = caller.ID
	a.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateAction(ctx, tx, a); err != nil {
		return domain.ActionRecord{}, storeErr("update action", err)
	}
	if err := commit(tx); err != nil {
		return domain.ActionRecord{}, err
	}
	return a, nil
}

// DeleteAction removes a record under the same rules as an update.
func (e Engine) DeleteAction(ctx context.Context, programID, actionID string, caller auth.Caller) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, a, err := e.loadAction(ctx, tx, programID, actionID)
	if err != nil {
		return err
	}
	if err := policy.CheckRecordWrite(p.ValidationStatus, caller.Role, a.Ledger, a.Locked); err != nil {
		return err
	}
	if err := e.Repo.DeleteAction(ctx, tx, a.ID); err != nil {
		return storeErr("delete action", err)
	}
	return commit(tx)
}

func (e Engine) GetAction(ctx context.Context, programID, actionID string) (domain.ActionRecord, error) {
	a, err := e.Repo.GetAction(ctx, nil, actionID)
	if err != nil {
		return domain.ActionRecord{}, storeErr("load action", err)
	}
	if a.ProgramID != programID {
		return domain.ActionRecord{}, repo.ErrNotFound
	}
	return a, nil
}

// ActionQuery filters a program's records.
type ActionQuery struct {
	Ledger    domain.Ledger
	Year      int
	ActionKey string
	CommuneID string
}

func (e Engine) ListActions(ctx context.Context, programID string, q ActionQuery) ([]domain.ActionRecord, error) {
	if _, err := e.GetProgram(ctx, programID); err != nil {
		return nil, err
	}
	f := repo.ActionFilters{ProgramID: programID, Year: q.Year, ActionKey: q.ActionKey, CommuneID: q.CommuneID}
	if q.Ledger != "" {
		ledger, ok := domain.ParseLedger(string(q.Ledger))
		if !ok {
			return nil, ValidationError{Field: "ledger", Message: fmt.Sprintf("unknown ledger %q", q.Ledger)}
		}
		f.Ledger = ledger
	}
	records, err := e.Repo.ListActions(ctx, nil, f)
	return records, storeErr("list actions", err)
}

// loadAction returns the program and one of its records. A record of another
// program is reported as not found.
func (e Engine) loadAction(ctx context.Context, tx *sql.Tx, programID, actionID string) (domain.Program, domain.ActionRecord, error) {
	p, err := e.Repo.GetProgramTx(ctx, tx, programID)
	if err != nil {
		return domain.Program{}, domain.ActionRecord{}, storeErr("load program", err)
	}
	a, err := e.Repo.GetAction(ctx, tx, actionID)
	if err != nil {
		return domain.Program{}, domain.ActionRecord{}, storeErr("load action", err)
	}
	if a.ProgramID != p.ID {
		return domain.Program{}, domain.ActionRecord{}, repo.ErrNotFound
	}
	return p, a, nil
}

func applyActionUpdate(a *domain.ActionRecord, o ActionUpdateOptions) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&a.ActionKey, o.ActionKey)
	setString(&a.ActionLabel, o.ActionLabel)
	setString(&a.Unit, o.Unit)
	setString(&a.CommuneID, o.CommuneID)
	setString(&a.PerimeterID, o.PerimeterID)
	setString(&a.SiteID, o.SiteID)
	setString(&a.GeometryType, o.GeometryType)
	setString(&a.Coordinates, o.Coordinates)
	setString(&a.DriftJustification, o.DriftJustification)
	setString(&a.Notes, o.Notes)
	setString(&a.ExecutedOn, o.ExecutedOn)
	if o.Year != nil {
		a.Year = *o.Year
	}
	if o.Physical != nil {
		a.Physical = *o.Physical
	}
	if o.Financial != nil {
		a.Financial = *o.Financial
	}
	if o.Evidence != nil {
		a.Evidence = *o.Evidence
	}
}

func validateAction(p domain.Program, a domain.ActionRecord) error {
	if a.ActionKey == "" {
		return ValidationError{Field: "action_key", Message: "required"}
	}
	if a.Year < p.YearStart || a.Year > p.YearEnd {
		return ValidationError{Field: "year", Message: fmt.Sprintf("%d is outside program years %d-%d", a.Year, p.YearStart, p.YearEnd)}
	}
	if err := validateQuantity("physical", a.Physical); err != nil {
		return err
	}
	if err := validateQuantity("financial", a.Financial); err != nil {
		return err
	}
	if a.Coordinates != "" && !json.Valid([]byte(a.Coordinates)) {
		return ValidationError{Field: "coordinates", Message: "must be valid JSON"}
	}
	if a.ExecutedOn != "" {
		if _, err := time.Parse(time.DateOnly, a.ExecutedOn); err != nil {
			return ValidationError{Field: "executed_on", Message: "must be YYYY-MM-DD"}
		}
	}
	return nil
}
