package server

import (
	"gapforets/internal/domain"
	"gapforets/internal/engine"
	"gapforets/internal/policy"
)

// Request payloads

type CreateProgramRequest struct {
	ID          string  `json:"id,omitempty"`
	Code        string  `json:"code,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	RegionID    string  `json:"region_id,omitempty"`
	ProvinceID  string  `json:"province_id,omitempty"`
	CommuneID   string  `json:"commune_id,omitempty"`
	YearStart   int     `json:"year_start"`
	YearEnd     int     `json:"year_end"`
	TotalBudget float64 `json:"total_budget,omitempty" minimum:"0"`
}

type UpdateProgramRequest struct {
	Code        *string  `json:"code,omitempty"`
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	RegionID    *string  `json:"region_id,omitempty"`
	ProvinceID  *string  `json:"province_id,omitempty"`
	CommuneID   *string  `json:"commune_id,omitempty"`
	YearStart   *int     `json:"year_start,omitempty"`
	YearEnd     *int     `json:"year_end,omitempty"`
	TotalBudget *float64 `json:"total_budget,omitempty"`
}

type TransitionRequest struct {
	Note string `json:"note,omitempty"`
}

type CreateActionRequest struct {
	ID                 string   `json:"id,omitempty"`
	ActionKey          string   `json:"action_key"`
	ActionLabel        string   `json:"action_label,omitempty"`
	Year               int      `json:"year"`
	Ledger             string   `json:"ledger" enum:"FORECAST,CONTRACT,EXECUTED,CONCERTE,CP,EXECUTE"`
	Unit               string   `json:"unit,omitempty"`
	Physical           float64  `json:"physical,omitempty"`
	Financial          float64  `json:"financial,omitempty"`
	CommuneID          string   `json:"commune_id,omitempty"`
	PerimeterID        string   `json:"perimeter_id,omitempty"`
	SiteID             string   `json:"site_id,omitempty"`
	GeometryType       string   `json:"geometry_type,omitempty"`
	Coordinates        string   `json:"coordinates,omitempty"`
	Evidence           []string `json:"evidence,omitempty"`
	DriftJustification string   `json:"drift_justification,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	ExecutedOn         string   `json:"executed_on,omitempty"`
}

type UpdateActionRequest struct {
	ActionKey          *string   `json:"action_key,omitempty"`
	ActionLabel        *string   `json:"action_label,omitempty"`
	Year               *int      `json:"year,omitempty"`
	Ledger             *string   `json:"ledger,omitempty" enum:"FORECAST,CONTRACT,EXECUTED,CONCERTE,CP,EXECUTE"`
	Unit               *string   `json:"unit,omitempty"`
	Physical           *float64  `json:"physical,omitempty"`
	Financial          *float64  `json:"financial,omitempty"`
	CommuneID          *string   `json:"commune_id,omitempty"`
	PerimeterID        *string   `json:"perimeter_id,omitempty"`
	SiteID             *string   `json:"site_id,omitempty"`
	GeometryType       *string   `json:"geometry_type,omitempty"`
	Coordinates        *string   `json:"coordinates,omitempty"`
	Evidence           *[]string `json:"evidence,omitempty"`
	DriftJustification *string   `json:"drift_justification,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
	ExecutedOn         *string   `json:"executed_on,omitempty"`
}

type CreateUnlockRequestRequest struct {
	Reason    string `json:"reason,omitempty" maxLength:"4000"`
	Territory string `json:"territory,omitempty"`
}

type ResolveUnlockRequestRequest struct {
	Comment string `json:"comment,omitempty"`
}

type DevLoginRequest struct {
	ActorID   string `json:"actor_id"`
	Role      string `json:"role,omitempty" enum:"LOCAL,PROVINCIAL,REGIONAL,ADMIN"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Territory string `json:"territory,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID   string      `json:"actor_id"`
	Name      string      `json:"name,omitempty"`
	Email     string      `json:"email,omitempty"`
	Role      domain.Role `json:"role"`
	Territory string      `json:"territory,omitempty"`
	Source    string      `json:"source"`
}

type ProgramList struct {
	Items []domain.Program `json:"items"`
}

type ActionList struct {
	Items []domain.ActionRecord `json:"items"`
}

type HistoryList struct {
	Items []domain.HistoryEntry `json:"items"`
}

type UnlockRequestList struct {
	Items []domain.UnlockRequest `json:"items"`
}

type TransitionResponse struct {
	ProgramID       string                `json:"program_id"`
	Transition      policy.Transition     `json:"transition"`
	Status          domain.Status         `json:"status"`
	Locked          bool                  `json:"locked"`
	Program         domain.Program        `json:"program"`
	Entry           domain.HistoryEntry   `json:"entry"`
	ResolvedRequest *domain.UnlockRequest `json:"resolved_request,omitempty"`
}

type ApprovalResponse struct {
	Request domain.UnlockRequest `json:"request"`
	Program domain.Program       `json:"program"`
	Entry   domain.HistoryEntry  `json:"entry"`
}

// Conversion helpers

func transitionResponse(t policy.Transition, res engine.TransitionResult) TransitionResponse {
	return TransitionResponse{
		ProgramID:       res.Program.ID,
		Transition:      t,
		Status:          res.Program.ValidationStatus,
		Locked:          res.Program.Locked,
		Program:         res.Program,
		Entry:           res.Entry,
		ResolvedRequest: res.ResolvedRequest,
	}
}

func updateProgramOptions(in UpdateProgramRequest) engine.ProgramUpdateOptions {
	return engine.ProgramUpdateOptions{
		Code:        in.Code,
		Title:       in.Title,
		Description: in.Description,
		RegionID:    in.RegionID,
		ProvinceID:  in.ProvinceID,
		CommuneID:   in.CommuneID,
		YearStart:   in.YearStart,
		YearEnd:     in.YearEnd,
		TotalBudget: in.TotalBudget,
	}
}

func createActionOptions(in CreateActionRequest) engine.ActionCreateOptions {
	return engine.ActionCreateOptions{
		ID:                 in.ID,
		ActionKey:          in.ActionKey,
		ActionLabel:        in.ActionLabel,
		Year:               in.Year,
		Ledger:             domain.Ledger(in.Ledger),
		Unit:               in.Unit,
		Physical:           in.Physical,
		Financial:          in.Financial,
		CommuneID:          in.CommuneID,
		PerimeterID:        in.PerimeterID,
		SiteID:             in.SiteID,
		GeometryType:       in.GeometryType,
		Coordinates:        in.Coordinates,
		Evidence:           in.Evidence,
		DriftJustification: in.DriftJustification,
		Notes:              in.Notes,
		ExecutedOn:         in.ExecutedOn,
	}
}

func updateActionOptions(in UpdateActionRequest) engine.ActionUpdateOptions {
	opts := engine.ActionUpdateOptions{
		ActionKey:          in.ActionKey,
		ActionLabel:        in.ActionLabel,
		Year:               in.Year,
		Unit:               in.Unit,
		Physical:           in.Physical,
		Financial:          in.Financial,
		CommuneID:          in.CommuneID,
		PerimeterID:        in.PerimeterID,
		SiteID:             in.SiteID,
		GeometryType:       in.GeometryType,
		Coordinates:        in.Coordinates,
		Evidence:           in.Evidence,
		DriftJustification: in.DriftJustification,
		Notes:              in.Notes,
		ExecutedOn:         in.ExecutedOn,
	}
	if in.Ledger != nil {
		l := domain.Ledger(*in.Ledger)
		opts.Ledger = &l
	}
	return opts
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
