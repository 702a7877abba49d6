package policy

import (
	"errors"
	"testing"

	"gapforets/internal/domain"
)

func TestNextFollowsOnlyTableEdges(t *testing.T) {
	transitions := []Transition{Submit, ValidateProvincial, VisaRegional, AdminUnlock}
	want := map[Transition]map[domain.Status]domain.Status{
		Submit:             {domain.StatusDraft: domain.StatusSubmittedLocal},
		ValidateProvincial: {domain.StatusSubmittedLocal: domain.StatusValidatedProvincial},
		VisaRegional:       {domain.StatusValidatedProvincial: domain.StatusValidatedRegional},
		AdminUnlock: {
			domain.StatusSubmittedLocal:      domain.StatusDraft,
			domain.StatusValidatedProvincial: domain.StatusDraft,
			domain.StatusValidatedRegional:   domain.StatusDraft,
		},
	}
	for _, tr := range transitions {
		role := RequiredRole(tr)
		for _, from := range domain.Statuses {
			to, err := Next(tr, from, role)
			expected, legal := want[tr][from]
			if legal {
				if err != nil || to != expected {
					t.Fatalf("%s from %s: got %s, %v; want %s", tr, from, to, err, expected)
				}
				continue
			}
			var ite InvalidTransitionError
			if !errors.As(err, &ite) {
				t.Fatalf("%s from %s: expected InvalidTransitionError, got %v", tr, from, err)
			}
			if ite.Status != from {
				t.Fatalf("error should carry current status %s, got %s", from, ite.Status)
			}
		}
	}
}

func TestNextWrongRole(t *testing.T) {
	_, err := Next(ValidateProvincial, domain.StatusSubmittedLocal, domain.RoleLocal)
	var pde PermissionDeniedError
	if !errors.As(err, &pde) {
		t.Fatalf("expected PermissionDeniedError, got %v", err)
	}
	if pde.Role != domain.RoleLocal || pde.Required != domain.RoleProvincial {
		t.Fatalf("unexpected diagnostics: %+v", pde)
	}
	if _, err := Next(AdminUnlock, domain.StatusValidatedRegional, domain.RoleRegional); !errors.As(err, &pde) {
		t.Fatalf("non-admin unlock should be denied, got %v", err)
	}
}

func TestParseTransition(t *testing.T) {
	cases := map[string]Transition{
		"submit":              Submit,
		"SUBMIT":              Submit,
		"validate-provincial": ValidateProvincial,
		"ValidateProvincial":  ValidateProvincial,
		"visa_regional":       VisaRegional,
		"admin-unlock":        AdminUnlock,
		"unlock":              AdminUnlock,
	}
	for in, want := range cases {
		got, err := ParseTransition(in)
		if err != nil || got != want {
			t.Fatalf("ParseTransition(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseTransition("approve"); err == nil {
		t.Fatalf("expected error for unknown transition")
	}
}

func TestCheckWrite(t *testing.T) {
	cases := []struct {
		name   string
		status domain.Status
		role   domain.Role
		sub    domain.Submodule
		want   string // "", "locked", "denied"
	}{
		{"local forecast in draft", domain.StatusDraft, domain.RoleLocal, domain.SubmoduleForecast, ""},
		{"local executed in draft", domain.StatusDraft, domain.RoleLocal, domain.SubmoduleExecuted, ""},
		{"local contract in draft", domain.StatusDraft, domain.RoleLocal, domain.SubmoduleContract, "locked"},
		{"provincial forecast in draft", domain.StatusDraft, domain.RoleProvincial, domain.SubmoduleForecast, "locked"},
		{"local forecast once submitted", domain.StatusSubmittedLocal, domain.RoleLocal, domain.SubmoduleForecast, "locked"},
		{"provincial contract once submitted", domain.StatusSubmittedLocal, domain.RoleProvincial, domain.SubmoduleContract, ""},
		{"provincial forecast once submitted", domain.StatusSubmittedLocal, domain.RoleProvincial, domain.SubmoduleForecast, "locked"},
		{"provincial contract after validation", domain.StatusValidatedProvincial, domain.RoleProvincial, domain.SubmoduleContract, "locked"},
		{"regional never edits", domain.StatusValidatedProvincial, domain.RoleRegional, domain.SubmoduleContract, "denied"},
		{"admin in provincial", domain.StatusValidatedProvincial, domain.RoleAdmin, domain.SubmoduleContract, ""},
		{"admin after visa", domain.StatusValidatedRegional, domain.RoleAdmin, domain.SubmoduleProgram, "locked"},
	}
	for _, tc := range cases {
		err := CheckWrite(tc.status, tc.role, tc.sub)
		var lfe LockedFieldError
		var pde PermissionDeniedError
		switch tc.want {
		case "":
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
		case "locked":
			if !errors.As(err, &lfe) {
				t.Fatalf("%s: expected LockedFieldError, got %v", tc.name, err)
			}
		case "denied":
			if !errors.As(err, &pde) {
				t.Fatalf("%s: expected PermissionDeniedError, got %v", tc.name, err)
			}
		}
	}
}

func TestCheckRecordWriteHonoursRecordLock(t *testing.T) {
	if err := CheckRecordWrite(domain.StatusDraft, domain.RoleLocal, domain.LedgerForecast, true); err == nil {
		t.Fatalf("locked record should reject LOCAL")
	}
	if err := CheckRecordWrite(domain.StatusDraft, domain.RoleAdmin, domain.LedgerForecast, true); err != nil {
		t.Fatalf("admin should bypass record lock: %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	acc := Evaluate(domain.StatusDraft, domain.RoleLocal)
	if acc.Locked {
		t.Fatalf("draft must not be locked")
	}
	if len(acc.Transitions) != 1 || acc.Transitions[0] != Submit {
		t.Fatalf("local in draft should only submit, got %v", acc.Transitions)
	}
	acc = Evaluate(domain.StatusValidatedRegional, domain.RoleAdmin)
	if !acc.Locked || len(acc.Editable) != 0 {
		t.Fatalf("final state must be read-only: %+v", acc)
	}
	if len(acc.Transitions) != 1 || acc.Transitions[0] != AdminUnlock {
		t.Fatalf("admin should be able to unlock, got %v", acc.Transitions)
	}
	acc = Evaluate(domain.StatusValidatedProvincial, domain.RoleRegional)
	if len(acc.Editable) != 0 || len(acc.Transitions) != 1 || acc.Transitions[0] != VisaRegional {
		t.Fatalf("regional decides only: %+v", acc)
	}
}
