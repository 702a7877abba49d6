package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"gapforets/internal/domain"
	"gapforets/internal/engine/auth"
	"gapforets/internal/policy"
	"gapforets/internal/repo"
)

// ProgramCreateOptions are parameters for creating a program. New programs
// always start in DRAFT.
type ProgramCreateOptions struct {
	ID          string
	Code        string
	Title       string
	Description string
	RegionID    string
	ProvinceID  string
	CommuneID   string
	YearStart   int
	YearEnd     int
	TotalBudget float64
}

func (e Engine) CreateProgram(ctx context.Context, opts ProgramCreateOptions, caller auth.Caller) (domain.Program, error) {
	if err := caller.Validate(); err != nil {
		return domain.Program{}, err
	}
	if err := policy.CheckWrite(domain.StatusDraft, caller.Role, domain.SubmoduleProgram); err != nil {
		return domain.Program{}, err
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Program{}, ValidationError{Field: "title", Message: "required"}
	}
	if err := validateYears(opts.YearStart, opts.YearEnd); err != nil {
		return domain.Program{}, err
	}
	if err := validateQuantity("total_budget", opts.TotalBudget); err != nil {
		return domain.Program{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	code := strings.TrimSpace(opts.Code)
	if code == "" {
		suffix := strings.ReplaceAll(id, "-", "")
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		code = fmt.Sprintf("PDFCP-%d-%s", opts.YearStart, strings.ToUpper(suffix))
	}
	ts := e.timestamp()
	p := domain.Program{
		ID:               id,
		Code:             code,
		Title:            strings.TrimSpace(opts.Title),
		Description:      opts.Description,
		RegionID:         opts.RegionID,
		ProvinceID:       opts.ProvinceID,
		CommuneID:        opts.CommuneID,
		YearStart:        opts.YearStart,
		YearEnd:          opts.YearEnd,
		TotalBudget:      opts.TotalBudget,
		ValidationStatus: domain.StatusDraft,
		CreatedBy:        caller.ID,
		UpdatedBy:        caller.ID,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	if err := e.Repo.InsertProgram(ctx, nil, p); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Program{}, DuplicateCodeError{Code: code}
		}
		return domain.Program{}, storeErr("insert program", err)
	}
	return p, nil
}

// ProgramUpdateOptions carries a partial edit; nil fields are left as is.
type ProgramUpdateOptions struct {
	Code        *string
	Title       *string
	Description *string
	RegionID    *string
	ProvinceID  *string
	CommuneID   *string
	YearStart   *int
	YearEnd     *int
	TotalBudget *float64
}

func (o ProgramUpdateOptions) empty() bool {
	return o.Code == nil && o.Title == nil && o.Description == nil && o.RegionID == nil && o.ProvinceID == nil &&
		o.CommuneID == nil && o.YearStart == nil && o.YearEnd == nil && o.TotalBudget == nil
}

// UpdateProgram edits program fields. The program submodule must be editable
// for the caller in the current status.
func (e Engine) UpdateProgram(ctx context.Context, programID string, opts ProgramUpdateOptions, caller auth.Caller) (domain.Program, error) {
	if err := caller.Validate(); err != nil {
		return domain.Program{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Program{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProgramTx(ctx, tx, programID)
	if err != nil {
		return domain.Program{}, storeErr("load program", err)
	}
	if err := policy.CheckWrite(p.ValidationStatus, caller.Role, domain.SubmoduleProgram); err != nil {
		return domain.Program{}, err
	}
	if opts.empty() {
		return p, nil
	}
	if opts.Code != nil {
		if strings.TrimSpace(*opts.Code) == "" {
			return domain.Program{}, ValidationError{Field: "code", Message: "cannot be empty"}
		}
		p.Code = strings.TrimSpace(*opts.Code)
	}
	if opts.Title != nil {
		if strings.TrimSpace(*opts.Title) == "" {
			return domain.Program{}, ValidationError{Field: "title", Message: "cannot be empty"}
		}
		p.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.RegionID != nil {
		p.RegionID = *opts.RegionID
	}
	if opts.ProvinceID != nil {
		p.ProvinceID = *opts.ProvinceID
	}
	if opts.CommuneID != nil {
		p.CommuneID = *opts.CommuneID
	}
	if opts.TotalBudget != nil {
		if err := validateQuantity("total_budget", *opts.TotalBudget); err != nil {
			return domain.Program{}, err
		}
		p.TotalBudget = *opts.TotalBudget
	}
	if opts.YearStart != nil || opts.YearEnd != nil {
		if opts.YearStart != nil {
			p.YearStart = *opts.YearStart
		}
		if opts.YearEnd != nil {
			p.YearEnd = *opts.YearEnd
		}
		if err := validateYears(p.YearStart, p.YearEnd); err != nil {
			return domain.Program{}, err
		}
		records, err := e.Repo.ListActions(ctx, tx, repo.ActionFilters{ProgramID: p.ID})
		if err != nil {
			return domain.Program{}, storeErr("list actions", err)
		}
		for _, r := range records {
			if r.Year < p.YearStart || r.Year > p.YearEnd {
				return domain.Program{}, ValidationError{
					Field:   "year_start",
					Message: fmt.Sprintf("record %s has year %d outside %d-%d", r.ID, r.Year, p.YearStart, p.YearEnd),
				}
			}
		}
	}
	p.UpdatedBy = caller.ID
	p.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateProgram(ctx, tx, p); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Program{}, DuplicateCodeError{Code: p.Code}
		}
		return domain.Program{}, storeErr("update program", err)
	}
	if err := commit(tx); err != nil {
		return domain.Program{}, err
	}
	return p, nil
}

func (e Engine) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	p, err := e.Repo.GetProgram(ctx, id)
	return p, storeErr("load program", err)
}

func (e Engine) ListPrograms(ctx context.Context, f repo.ProgramFilters) ([]domain.Program, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", f.Status)}
	}
	programs, err := e.Repo.ListPrograms(ctx, f)
	return programs, storeErr("list programs", err)
}

// Access evaluates the lock policy for role on a stored program.
func (e Engine) Access(ctx context.Context, programID string, role domain.Role) (policy.Access, error) {
	p, err := e.GetProgram(ctx, programID)
	if err != nil {
		return policy.Access{}, err
	}
	if _, ok := domain.ParseRole(string(role)); !ok {
		return policy.Access{}, auth.InvalidRoleError{Role: string(role)}
	}
	return policy.Evaluate(p.ValidationStatus, role), nil
}

// validateQuantity rejects negative and non-finite amounts.
func validateQuantity(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ValidationError{Field: field, Message: "must be a finite number"}
	}
	if v < 0 {
		return ValidationError{Field: field, Message: "must be >= 0"}
	}
	return nil
}

func validateYears(start, end int) error {
	if start <= 0 {
		return ValidationError{Field: "year_start", Message: "required"}
	}
	if end <= 0 {
		return ValidationError{Field: "year_end", Message: "required"}
	}
	if start > end {
		return ValidationError{Field: "year_end", Message: fmt.Sprintf("year_start %d is after year_end %d", start, end)}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
