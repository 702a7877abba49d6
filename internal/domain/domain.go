package domain

import "strings"

// Status is a program's position in the approval chain.
type Status string

const (
	StatusDraft               Status = "DRAFT"
	StatusSubmittedLocal      Status = "SUBMITTED_LOCAL"
	StatusValidatedProvincial Status = "VALIDATED_PROVINCIAL"
	StatusValidatedRegional   Status = "VALIDATED_REGIONAL"
)

// Statuses lists every status in ascending approval order.
var Statuses = []Status{StatusDraft, StatusSubmittedLocal, StatusValidatedProvincial, StatusValidatedRegional}

// Locked is true for every status past DRAFT.
func (s Status) Locked() bool {
	return s != StatusDraft
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Role is the caller's level in the territorial hierarchy.
type Role string

const (
	RoleLocal      Role = "LOCAL"
	RoleProvincial Role = "PROVINCIAL"
	RoleRegional   Role = "REGIONAL"
	RoleAdmin      Role = "ADMIN"
)

var Roles = []Role{RoleLocal, RoleProvincial, RoleRegional, RoleAdmin}

// ParseRole accepts any casing.
func ParseRole(v string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range Roles {
		if known == r {
			return r, true
		}
	}
	return "", false
}

// Ledger is one of the three parallel quantity tracks of a program.
type Ledger string

const (
	LedgerForecast Ledger = "FORECAST"
	LedgerContract Ledger = "CONTRACT"
	LedgerExecuted Ledger = "EXECUTED"
)

var Ledgers = []Ledger{LedgerForecast, LedgerContract, LedgerExecuted}

// ParseLedger also accepts the field vocabulary CONCERTE, CP and EXECUTE.
func ParseLedger(v string) (Ledger, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "FORECAST", "CONCERTE":
		return LedgerForecast, true
	case "CONTRACT", "CP":
		return LedgerContract, true
	case "EXECUTED", "EXECUTE":
		return LedgerExecuted, true
	}
	return "", false
}

// Submodule is an independently lockable part of a program.
type Submodule string

const (
	SubmoduleProgram  Submodule = "program"
	SubmoduleForecast Submodule = "forecast"
	SubmoduleContract Submodule = "contract"
	SubmoduleExecuted Submodule = "executed"
)

var Submodules = []Submodule{SubmoduleProgram, SubmoduleForecast, SubmoduleContract, SubmoduleExecuted}

// SubmoduleFor maps a ledger to the submodule guarding it.
func SubmoduleFor(l Ledger) Submodule {
	switch l {
	case LedgerContract:
		return SubmoduleContract
	case LedgerExecuted:
		return SubmoduleExecuted
	default:
		return SubmoduleForecast
	}
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

type Program struct {
	ID                    string  `json:"id"`
	Code                  string  `json:"code"`
	Title                 string  `json:"title"`
	Description           string  `json:"description,omitempty"`
	RegionID              string  `json:"region_id,omitempty"`
	ProvinceID            string  `json:"province_id,omitempty"`
	CommuneID             string  `json:"commune_id,omitempty"`
	YearStart             int     `json:"year_start"`
	YearEnd               int     `json:"year_end"`
	TotalBudget           float64 `json:"total_budget"`
	ValidationStatus      Status  `json:"validation_status" enum:"DRAFT,SUBMITTED_LOCAL,VALIDATED_PROVINCIAL,VALIDATED_REGIONAL"`
	Locked                bool    `json:"locked"`
	SubmittedBy           *string `json:"submitted_by,omitempty"`
	SubmittedAt           *string `json:"submitted_at,omitempty" format:"date-time"`
	ValidatedProvincialBy *string `json:"validated_provincial_by,omitempty"`
	ValidatedProvincialAt *string `json:"validated_provincial_at,omitempty" format:"date-time"`
	VisaRegionalBy        *string `json:"visa_regional_by,omitempty"`
	VisaRegionalAt        *string `json:"visa_regional_at,omitempty" format:"date-time"`
	UnlockNote            string  `json:"unlock_note,omitempty"`
	CreatedBy             string  `json:"created_by"`
	UpdatedBy             string  `json:"updated_by,omitempty"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

// ActionRecord is one measured quantity for one action, year and ledger.
type ActionRecord struct {
	ID                 string   `json:"id"`
	ProgramID          string   `json:"program_id"`
	ActionKey          string   `json:"action_key"`
	ActionLabel        string   `json:"action_label,omitempty"`
	Year               int      `json:"year"`
	Ledger             Ledger   `json:"ledger" enum:"FORECAST,CONTRACT,EXECUTED"`
	Unit               string   `json:"unit,omitempty"`
	Physical           float64  `json:"physical"`
	Financial          float64  `json:"financial"`
	CommuneID          string   `json:"commune_id,omitempty"`
	PerimeterID        string   `json:"perimeter_id,omitempty"`
	SiteID             string   `json:"site_id,omitempty"`
	GeometryType       string   `json:"geometry_type,omitempty"`
	Coordinates        string   `json:"coordinates,omitempty"`
	Evidence           []string `json:"evidence,omitempty"`
	DriftJustification string   `json:"drift_justification,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	ExecutedOn         string   `json:"executed_on,omitempty" format:"date"`
	Locked             bool     `json:"locked"`
	CreatedBy          string   `json:"created_by"`
	UpdatedBy          string   `json:"updated_by,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

// Identity is the grouping key matching the same activity across ledgers and years.
func (a ActionRecord) Identity() string {
	if strings.TrimSpace(a.ActionLabel) != "" {
		return a.ActionLabel
	}
	return a.ActionKey
}

// HistoryEntry is immutable once written.
type HistoryEntry struct {
	ID         string `json:"id"`
	ProgramID  string `json:"program_id"`
	Action     string `json:"action"`
	FromStatus Status `json:"from_status"`
	ToStatus   Status `json:"to_status"`
	Note       string `json:"note,omitempty"`
	ActorID    string `json:"actor_id"`
	ActorName  string `json:"actor_name,omitempty"`
	ActorRole  Role   `json:"actor_role"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type UnlockRequest struct {
	ID                string        `json:"id"`
	ProgramID         string        `json:"program_id"`
	RequesterID       string        `json:"requester_id"`
	RequesterName     string        `json:"requester_name,omitempty"`
	RequesterEmail    string        `json:"requester_email,omitempty"`
	RequesterRole     Role          `json:"requester_role"`
	Territory         string        `json:"territory,omitempty"`
	StatusAtRequest   Status        `json:"status_at_request"`
	Reason            string        `json:"reason"`
	Status            RequestStatus `json:"status" enum:"PENDING,APPROVED,REJECTED"`
	ResolvedByID      *string       `json:"resolved_by_id,omitempty"`
	ResolvedByName    *string       `json:"resolved_by_name,omitempty"`
	ResolutionComment *string       `json:"resolution_comment,omitempty"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
	ResolvedAt        *string       `json:"resolved_at,omitempty" format:"date-time"`
}

// Actor is a known caller with a fixed role and territory.
type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      Role   `json:"role"`
	Territory string `json:"territory,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
