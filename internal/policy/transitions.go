package policy

import (
	"fmt"
	"strings"

	"gapforets/internal/domain"
)

// Transition names a lifecycle move; the value is what history entries record.
type Transition string

const (
	Submit             Transition = "SUBMIT"
	ValidateProvincial Transition = "VALIDATE_PROVINCIAL"
	VisaRegional       Transition = "VISA_REGIONAL"
	AdminUnlock        Transition = "UNLOCK"
)

type rule struct {
	Name Transition
	Role domain.Role
	From []domain.Status // nil means any non-DRAFT status
	To   domain.Status
}

func (r rule) allows(status domain.Status) bool {
	if r.From == nil {
		return status.Valid() && status != domain.StatusDraft
	}
	for _, s := range r.From {
		if s == status {
			return true
		}
	}
	return false
}

var rules = []rule{
	{Name: Submit, Role: domain.RoleLocal, From: []domain.Status{domain.StatusDraft}, To: domain.StatusSubmittedLocal},
	{Name: ValidateProvincial, Role: domain.RoleProvincial, From: []domain.Status{domain.StatusSubmittedLocal}, To: domain.StatusValidatedProvincial},
	{Name: VisaRegional, Role: domain.RoleRegional, From: []domain.Status{domain.StatusValidatedProvincial}, To: domain.StatusValidatedRegional},
	{Name: AdminUnlock, Role: domain.RoleAdmin, To: domain.StatusDraft},
}

func lookup(t Transition) (rule, bool) {
	for _, r := range rules {
		if r.Name == t {
			return r, true
		}
	}
	return rule{}, false
}

// ParseTransition accepts "submit", "validate-provincial", "VISA_REGIONAL",
// "admin-unlock" and similar spellings.
func ParseTransition(name string) (Transition, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.TrimSpace(name)))
	switch key {
	case "submit":
		return Submit, nil
	case "validateprovincial":
		return ValidateProvincial, nil
	case "visaregional":
		return VisaRegional, nil
	case "unlock", "adminunlock":
		return AdminUnlock, nil
	}
	return "", fmt.Errorf("invalid transition name %q", name)
}

// Next checks role and state for t and returns the status it leads to.
// The role is checked before the state.
func Next(t Transition, status domain.Status, role domain.Role) (domain.Status, error) {
	r, ok := lookup(t)
	if !ok {
		return "", fmt.Errorf("invalid transition name %q", t)
	}
	if role != r.Role {
		return "", PermissionDeniedError{Role: role, Required: r.Role, Action: strings.ToLower(string(t)), Status: status}
	}
	if !r.allows(status) {
		return "", InvalidTransitionError{Transition: t, Status: status, Expected: r.From}
	}
	return r.To, nil
}

// RequiredRole returns the only role allowed to fire t.
func RequiredRole(t Transition) domain.Role {
	r, _ := lookup(t)
	return r.Role
}
