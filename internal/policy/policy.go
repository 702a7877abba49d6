package policy

import (
	"fmt"
	"strings"

	"gapforets/internal/domain"
)

// InvalidTransitionError reports a transition fired from a state that does not allow it.
type InvalidTransitionError struct {
	Transition Transition
	Status     domain.Status
	Expected   []domain.Status
}

func (e InvalidTransitionError) Error() string {
	if len(e.Expected) == 0 {
		return fmt.Sprintf("invalid transition %s from %s", e.Transition, e.Status)
	}
	return fmt.Sprintf("invalid transition %s from %s (expected %s)", e.Transition, e.Status, joinStatuses(e.Expected))
}

// PermissionDeniedError reports a caller whose role never holds the permission.
type PermissionDeniedError struct {
	Role     domain.Role
	Required domain.Role
	Action   string
	Status   domain.Status
}

func (e PermissionDeniedError) Error() string {
	if e.Required == "" {
		return fmt.Sprintf("role %s cannot %s (status %s)", e.Role, e.Action, e.Status)
	}
	return fmt.Sprintf("role %s cannot %s (requires %s, status %s)", e.Role, e.Action, e.Required, e.Status)
}

// LockedFieldError reports a write to a submodule that is read-only for the
// caller in the current state.
type LockedFieldError struct {
	Status    domain.Status
	Role      domain.Role
	Submodule domain.Submodule
}

func (e LockedFieldError) Error() string {
	return fmt.Sprintf("%s is locked for role %s in status %s", e.Submodule, e.Role, e.Status)
}

var allSubmodules = domain.Submodules

var editable = map[domain.Status]map[domain.Role][]domain.Submodule{
	domain.StatusDraft: {
		domain.RoleLocal: {domain.SubmoduleProgram, domain.SubmoduleForecast, domain.SubmoduleExecuted},
		domain.RoleAdmin: allSubmodules,
	},
	domain.StatusSubmittedLocal: {
		domain.RoleProvincial: {domain.SubmoduleContract},
		domain.RoleAdmin:      allSubmodules,
	},
	domain.StatusValidatedProvincial: {
		domain.RoleAdmin: allSubmodules,
	},
	domain.StatusValidatedRegional: {},
}

// Access is the caller's view of a program in its current state. Clients
// render from it instead of re-deriving the matrix.
type Access struct {
	Status      domain.Status      `json:"status"`
	Role        domain.Role        `json:"role"`
	Locked      bool               `json:"locked"`
	Editable    []domain.Submodule `json:"editable"`
	Transitions []Transition       `json:"transitions"`
}

// Locked mirrors the program's derived lock flag.
func Locked(status domain.Status) bool {
	return status.Locked()
}

// Evaluate returns the editable submodules and available transitions for role in status.
func Evaluate(status domain.Status, role domain.Role) Access {
	acc := Access{
		Status:   status,
		Role:     role,
		Locked:   Locked(status),
		Editable: append([]domain.Submodule{}, editable[status][role]...),
	}
	for _, r := range rules {
		if r.Role == role && r.allows(status) {
			acc.Transitions = append(acc.Transitions, r.Name)
		}
	}
	return acc
}

// CanEdit reports whether role may write sub while the program is in status.
func CanEdit(status domain.Status, role domain.Role, sub domain.Submodule) bool {
	for _, s := range editable[status][role] {
		if s == sub {
			return true
		}
	}
	return false
}

// CheckWrite rejects a write to sub. Roles that can write somewhere in the
// lifecycle get LockedFieldError; roles that never write get PermissionDeniedError.
func CheckWrite(status domain.Status, role domain.Role, sub domain.Submodule) error {
	if CanEdit(status, role, sub) {
		return nil
	}
	if writesSomewhere(role) {
		return LockedFieldError{Status: status, Role: role, Submodule: sub}
	}
	return PermissionDeniedError{
		Role:     role,
		Required: requiredWriter(status, sub),
		Action:   "edit " + string(sub),
		Status:   status,
	}
}

// CheckRecordWrite is CheckWrite plus the per-record lock, which only ADMIN bypasses.
func CheckRecordWrite(status domain.Status, role domain.Role, ledger domain.Ledger, recordLocked bool) error {
	sub := domain.SubmoduleFor(ledger)
	if err := CheckWrite(status, role, sub); err != nil {
		return err
	}
	if recordLocked && role != domain.RoleAdmin {
		return LockedFieldError{Status: status, Role: role, Submodule: sub}
	}
	return nil
}

func writesSomewhere(role domain.Role) bool {
	for _, byRole := range editable {
		if len(byRole[role]) > 0 {
			return true
		}
	}
	return false
}

func requiredWriter(status domain.Status, sub domain.Submodule) domain.Role {
	for _, role := range []domain.Role{domain.RoleLocal, domain.RoleProvincial, domain.RoleRegional} {
		if CanEdit(status, role, sub) {
			return role
		}
	}
	return domain.RoleAdmin
}

func joinStatuses(statuses []domain.Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, "|")
}
