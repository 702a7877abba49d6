package engine_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"gapforets/internal/comparatif"
	"gapforets/internal/config"
	"gapforets/internal/db"
	"gapforets/internal/domain"
	"gapforets/internal/engine"
	"gapforets/internal/engine/auth"
	"gapforets/internal/history"
	"gapforets/internal/migrate"
	"gapforets/internal/notify"
	"gapforets/internal/policy"
	"gapforets/internal/repo"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recorder) Notify(_ context.Context, evt notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Notes  *recorder

	Local, Provincial, Regional, Admin auth.Caller
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Unlock.AdminEmail = "pdfcp-admin@example.org"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	rec := &recorder{}
	eng.Notifier = rec
	ctx := context.Background()

	env := testEnv{Engine: eng, Ctx: ctx, Notes: rec}
	seed := []struct {
		dst   *auth.Caller
		actor domain.Actor
	}{
		{&env.Local, domain.Actor{ID: "local-1", Name: "Commune agent", Email: "local@example.org", Role: domain.RoleLocal, Territory: "commune-7"}},
		{&env.Provincial, domain.Actor{ID: "prov-1", Name: "Province agent", Role: domain.RoleProvincial}},
		{&env.Regional, domain.Actor{ID: "reg-1", Name: "Region agent", Role: domain.RoleRegional}},
		{&env.Admin, domain.Actor{ID: "admin-1", Name: "Admin", Email: "admin@example.org", Role: domain.RoleAdmin}},
	}
	for _, s := range seed {
		a, err := eng.Actors.UpsertActor(ctx, s.actor)
		if err != nil {
			t.Fatalf("seed actor %s: %v", s.actor.ID, err)
		}
		*s.dst = auth.CallerFromActor(a)
	}
	return env
}

func (env testEnv) createProgram(t *testing.T) domain.Program {
	t.Helper()
	p, err := env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{
		Code:       "PDFCP-TEST",
		Title:      "Programme test",
		RegionID:   "region-1",
		ProvinceID: "province-3",
		CommuneID:  "commune-7",
		YearStart:  2023,
		YearEnd:    2027,
	}, env.Local)
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	return p
}

// advance walks a program along the approval chain up to target.
func (env testEnv) advance(t *testing.T, programID string, target domain.Status) domain.Program {
	t.Helper()
	steps := []struct {
		t      policy.Transition
		caller auth.Caller
		from   domain.Status
		to     domain.Status
	}{
		{policy.Submit, env.Local, domain.StatusDraft, domain.StatusSubmittedLocal},
		{policy.ValidateProvincial, env.Provincial, domain.StatusSubmittedLocal, domain.StatusValidatedProvincial},
		{policy.VisaRegional, env.Regional, domain.StatusValidatedProvincial, domain.StatusValidatedRegional},
	}
	p, err := env.Engine.GetProgram(env.Ctx, programID)
	if err != nil {
		t.Fatalf("get program: %v", err)
	}
	for _, s := range steps {
		if p.ValidationStatus == target {
			break
		}
		if p.ValidationStatus != s.from {
			continue
		}
		res, err := env.Engine.Transition(env.Ctx, programID, s.t, s.caller, "")
		if err != nil {
			t.Fatalf("%s: %v", s.t, err)
		}
		p = res.Program
		if p.ValidationStatus != s.to {
			t.Fatalf("%s led to %s, want %s", s.t, p.ValidationStatus, s.to)
		}
	}
	if p.ValidationStatus != target {
		t.Fatalf("could not reach %s", target)
	}
	return p
}

func (env testEnv) historyCount(t *testing.T, programID string) int {
	t.Helper()
	n, err := history.Count(env.Ctx, env.Engine.DB, programID)
	if err != nil {
		t.Fatalf("count history: %v", err)
	}
	return n
}

func addRecord(t *testing.T, env testEnv, programID string, caller auth.Caller, key string, ledger domain.Ledger, physical float64) domain.ActionRecord {
	t.Helper()
	a, err := env.Engine.CreateAction(env.Ctx, programID, engine.ActionCreateOptions{
		ActionKey: key,
		Year:      2024,
		Ledger:    ledger,
		Unit:      "ha",
		Physical:  physical,
	}, caller)
	if err != nil {
		t.Fatalf("create %s record: %v", ledger, err)
	}
	return a
}

func TestCreateProgramStartsInDraft(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	if p.ValidationStatus != domain.StatusDraft || p.Locked {
		t.Fatalf("expected unlocked DRAFT, got %s locked=%v", p.ValidationStatus, p.Locked)
	}
	if _, err := env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{Code: "PDFCP-TEST", Title: "dup", YearStart: 2024, YearEnd: 2024}, env.Local); err == nil {
		t.Fatalf("expected duplicate code error")
	} else {
		var dup engine.DuplicateCodeError
		if !errors.As(err, &dup) {
			t.Fatalf("expected DuplicateCodeError, got %T %v", err, err)
		}
	}
	_, err := env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{Title: "bad years", YearStart: 2026, YearEnd: 2024}, env.Local)
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "year_end" {
		t.Fatalf("expected year validation error, got %v", err)
	}
	_, err = env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{Title: "regional", YearStart: 2024, YearEnd: 2025}, env.Regional)
	var denied policy.PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected permission denied for REGIONAL, got %v", err)
	}
}

func TestTransitionsFollowTheTable(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)

	cases := []struct {
		name   string
		t      policy.Transition
		caller auth.Caller
	}{
		{"validate from draft", policy.ValidateProvincial, env.Provincial},
		{"visa from draft", policy.VisaRegional, env.Regional},
		{"unlock from draft", policy.AdminUnlock, env.Admin},
		{"submit by provincial", policy.Submit, env.Provincial},
		{"submit by admin", policy.Submit, env.Admin},
	}
	for _, tc := range cases {
		before := env.historyCount(t, p.ID)
		if _, err := env.Engine.Transition(env.Ctx, p.ID, tc.t, tc.caller, ""); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		got, _ := env.Engine.GetProgram(env.Ctx, p.ID)
		if got.ValidationStatus != domain.StatusDraft {
			t.Fatalf("%s: status changed to %s", tc.name, got.ValidationStatus)
		}
		if after := env.historyCount(t, p.ID); after != before {
			t.Fatalf("%s: history grew from %d to %d", tc.name, before, after)
		}
	}

	_, err := env.Engine.Transition(env.Ctx, p.ID, policy.ValidateProvincial, env.Provincial, "")
	var invalid policy.InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.Status != domain.StatusDraft {
		t.Fatalf("expected InvalidTransitionError from DRAFT, got %v", err)
	}
	_, err = env.Engine.Transition(env.Ctx, p.ID, policy.Submit, env.Provincial, "")
	var denied policy.PermissionDeniedError
	if !errors.As(err, &denied) || denied.Required != domain.RoleLocal || denied.Role != domain.RoleProvincial {
		t.Fatalf("expected PermissionDeniedError requiring LOCAL, got %v", err)
	}

	res, err := env.Engine.Transition(env.Ctx, p.ID, policy.Submit, env.Local, "ready")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Program.ValidationStatus != domain.StatusSubmittedLocal || !res.Program.Locked {
		t.Fatalf("unexpected program after submit: %+v", res.Program)
	}
	if res.Program.SubmittedBy == nil || *res.Program.SubmittedBy != "local-1" {
		t.Fatalf("submitted_by not stamped")
	}
	if res.Entry.Action != "SUBMIT" || res.Entry.FromStatus != domain.StatusDraft || res.Entry.ToStatus != domain.StatusSubmittedLocal {
		t.Fatalf("unexpected history entry %+v", res.Entry)
	}
	if env.historyCount(t, p.ID) != 1 {
		t.Fatalf("expected exactly one history row")
	}
	// second submit is now a state error
	if _, err := env.Engine.Transition(env.Ctx, p.ID, policy.Submit, env.Local, ""); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition on resubmit, got %v", err)
	}

	env.advance(t, p.ID, domain.StatusValidatedRegional)
	entries, err := env.Engine.ListHistory(env.Ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []string{"VISA_REGIONAL", "VALIDATE_PROVINCIAL", "SUBMIT"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, w := range want {
		if entries[i].Action != w {
			t.Fatalf("entry %d = %s, want %s (newest first)", i, entries[i].Action, w)
		}
	}
	if entries[2].Note != "ready" || entries[2].ActorRole != domain.RoleLocal {
		t.Fatalf("unexpected oldest entry %+v", entries[2])
	}
}

func TestAdminUnlockFromEveryLockedState(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusSubmittedLocal, domain.StatusValidatedProvincial, domain.StatusValidatedRegional} {
		t.Run(string(status), func(t *testing.T) {
			env := newTestEnv(t)
			p := env.createProgram(t)
			rec := addRecord(t, env, p.ID, env.Local, "Reforestation", domain.LedgerForecast, 10)
			env.advance(t, p.ID, status)

			before := env.historyCount(t, p.ID)
			res, err := env.Engine.Transition(env.Ctx, p.ID, policy.AdminUnlock, env.Admin, "fix forecast")
			if err != nil {
				t.Fatalf("unlock: %v", err)
			}
			got := res.Program
			if got.ValidationStatus != domain.StatusDraft || got.Locked {
				t.Fatalf("expected unlocked DRAFT, got %s", got.ValidationStatus)
			}
			if got.SubmittedBy != nil || got.SubmittedAt != nil || got.ValidatedProvincialBy != nil ||
				got.ValidatedProvincialAt != nil || got.VisaRegionalBy != nil || got.VisaRegionalAt != nil {
				t.Fatalf("approval markers not cleared: %+v", got)
			}
			stored, _ := env.Engine.GetProgram(env.Ctx, p.ID)
			if stored.SubmittedBy != nil || stored.UnlockNote != "fix forecast" {
				t.Fatalf("stored program not reset: %+v", stored)
			}
			if env.historyCount(t, p.ID) != before+1 {
				t.Fatalf("expected one history row for unlock")
			}
			a, err := env.Engine.GetAction(env.Ctx, p.ID, rec.ID)
			if err != nil || a.Locked {
				t.Fatalf("record lock not cleared: %+v %v", a, err)
			}
			// LOCAL can edit again
			phys := 12.0
			if _, err := env.Engine.UpdateAction(env.Ctx, p.ID, rec.ID, engine.ActionUpdateOptions{Physical: &phys}, env.Local); err != nil {
				t.Fatalf("edit after unlock: %v", err)
			}
		})
	}
}

func TestVisaLocksRecords(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	rec := addRecord(t, env, p.ID, env.Local, "Reforestation", domain.LedgerForecast, 10)
	env.advance(t, p.ID, domain.StatusValidatedRegional)

	a, _ := env.Engine.GetAction(env.Ctx, p.ID, rec.ID)
	if !a.Locked {
		t.Fatalf("expected record locked after visa")
	}
	phys := 11.0
	_, err := env.Engine.UpdateAction(env.Ctx, p.ID, rec.ID, engine.ActionUpdateOptions{Physical: &phys}, env.Local)
	var locked policy.LockedFieldError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedFieldError, got %v", err)
	}
	_, err = env.Engine.UpdateAction(env.Ctx, p.ID, rec.ID, engine.ActionUpdateOptions{Physical: &phys}, env.Regional)
	var denied policy.PermissionDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected PermissionDeniedError for REGIONAL, got %v", err)
	}
	_, err = env.Engine.UpdateAction(env.Ctx, p.ID, rec.ID, engine.ActionUpdateOptions{Physical: &phys}, env.Admin)
	if !errors.As(err, &locked) {
		t.Fatalf("expected nobody to edit in VALIDATED_REGIONAL, got %v", err)
	}
}

func TestEditsFollowLockPolicy(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)

	title := "Programme renomme"
	if _, err := env.Engine.UpdateProgram(env.Ctx, p.ID, engine.ProgramUpdateOptions{Title: &title}, env.Local); err != nil {
		t.Fatalf("local edit in draft: %v", err)
	}
	_, err := env.Engine.CreateAction(env.Ctx, p.ID, engine.ActionCreateOptions{ActionKey: "x", Year: 2024, Ledger: domain.LedgerContract}, env.Local)
	var locked policy.LockedFieldError
	if !errors.As(err, &locked) || locked.Submodule != domain.SubmoduleContract {
		t.Fatalf("expected contract locked for LOCAL in DRAFT, got %v", err)
	}
	_, err = env.Engine.CreateAction(env.Ctx, p.ID, engine.ActionCreateOptions{ActionKey: "x", Year: 2031, Ledger: domain.LedgerForecast}, env.Local)
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "year" {
		t.Fatalf("expected year out of range, got %v", err)
	}
	_, err = env.Engine.CreateAction(env.Ctx, p.ID, engine.ActionCreateOptions{ActionKey: "x", Year: 2024, Ledger: domain.LedgerForecast, Physical: -1}, env.Local)
	if !errors.As(err, &verr) || verr.Field != "physical" {
		t.Fatalf("expected negative physical rejected, got %v", err)
	}

	env.advance(t, p.ID, domain.StatusSubmittedLocal)
	if _, err := env.Engine.UpdateProgram(env.Ctx, p.ID, engine.ProgramUpdateOptions{Title: &title}, env.Local); !errors.As(err, &locked) {
		t.Fatalf("expected program locked for LOCAL after submit, got %v", err)
	}
	if _, err := env.Engine.CreateAction(env.Ctx, p.ID, engine.ActionCreateOptions{ActionKey: "x", Year: 2024, Ledger: domain.LedgerForecast}, env.Local); !errors.As(err, &locked) {
		t.Fatalf("expected forecast locked for LOCAL after submit, got %v", err)
	}
	records, err := env.Engine.ListActions(env.Ctx, p.ID, engine.ActionQuery{})
	if err != nil || len(records) != 0 {
		t.Fatalf("rejected writes must not reach the store: %d records, %v", len(records), err)
	}
}

func TestProvincialLedgerScenario(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	forecast := addRecord(t, env, p.ID, env.Local, "Reforestation", domain.LedgerForecast, 100)
	env.advance(t, p.ID, domain.StatusSubmittedLocal)

	contract := addRecord(t, env, p.ID, env.Provincial, "Reforestation", domain.LedgerContract, 90)

	phys := 120.0
	_, err := env.Engine.UpdateAction(env.Ctx, p.ID, forecast.ID, engine.ActionUpdateOptions{Physical: &phys}, env.Provincial)
	var locked policy.LockedFieldError
	if !errors.As(err, &locked) {
		t.Fatalf("expected LockedFieldError, got %v", err)
	}
	if locked.Status != domain.StatusSubmittedLocal || locked.Role != domain.RoleProvincial || locked.Submodule != domain.SubmoduleForecast {
		t.Fatalf("unexpected error context %+v", locked)
	}
	stored, _ := env.Engine.GetAction(env.Ctx, p.ID, forecast.ID)
	if stored.Physical != 100 {
		t.Fatalf("forecast changed to %v", stored.Physical)
	}

	updated, err := env.Engine.UpdateAction(env.Ctx, p.ID, contract.ID, engine.ActionUpdateOptions{Physical: &phys}, env.Provincial)
	if err != nil {
		t.Fatalf("contract edit: %v", err)
	}
	if updated.Physical != 120 || updated.UpdatedBy != "prov-1" {
		t.Fatalf("unexpected contract record %+v", updated)
	}

	ledger := domain.LedgerForecast
	if _, err := env.Engine.UpdateAction(env.Ctx, p.ID, contract.ID, engine.ActionUpdateOptions{Ledger: &ledger}, env.Provincial); !errors.As(err, &locked) {
		t.Fatalf("moving a record into a locked ledger must fail, got %v", err)
	}
}

func TestReforestationComparatifScenario(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	addRecord(t, env, p.ID, env.Local, "Reforestation", domain.LedgerForecast, 100)
	addRecord(t, env, p.ID, env.Local, "Reforestation", domain.LedgerExecuted, 97)
	env.advance(t, p.ID, domain.StatusValidatedProvincial)

	// only ADMIN writes in VALIDATED_PROVINCIAL
	if _, err := env.Engine.CreateAction(env.Ctx, p.ID, engine.ActionCreateOptions{ActionKey: "Reforestation", Year: 2024, Ledger: domain.LedgerContract, Physical: 100}, env.Provincial); err == nil {
		t.Fatalf("expected PROVINCIAL locked out after validation")
	}
	addRecord(t, env, p.ID, env.Admin, "Reforestation", domain.LedgerContract, 100)

	res, err := env.Engine.Comparatif(env.Ctx, p.ID, engine.ComparatifQuery{})
	if err != nil {
		t.Fatalf("comparatif: %v", err)
	}
	if len(res.Actions) != 1 {
		t.Fatalf("expected one action line, got %d", len(res.Actions))
	}
	l := res.Actions[0]
	if l.Label != "Reforestation" || l.PlanTotal != 100 || l.CPTotal != 100 || l.ExecTotal != 97 {
		t.Fatalf("unexpected totals %+v", l)
	}
	if l.RateExecVsPlan != 97 || l.RateExecVsContract != 97 || l.Status != comparatif.OnTrack {
		t.Fatalf("unexpected rates/status %+v", l)
	}
	if res.Totals.GlobalRate != 97 || res.Totals.PlanTotal != 100 {
		t.Fatalf("unexpected program totals %+v", res.Totals)
	}

	byYear, err := env.Engine.Comparatif(env.Ctx, p.ID, engine.ComparatifQuery{Year: 2024})
	if err != nil || len(byYear.Actions) != 1 || byYear.Actions[0].Year != 2024 || byYear.Actions[0].ExecTotal != 97 {
		t.Fatalf("unexpected year view %+v %v", byYear, err)
	}
	empty, err := env.Engine.Comparatif(env.Ctx, p.ID, engine.ComparatifQuery{Year: 2025})
	if err != nil || len(empty.Actions) != 0 {
		t.Fatalf("expected empty year, got %+v %v", empty, err)
	}
	pivot, err := env.Engine.Pivot(env.Ctx, p.ID, engine.ComparatifQuery{})
	if err != nil || len(pivot.Years) != 1 || pivot.Totals.ExecTotal != res.Totals.ExecTotal {
		t.Fatalf("pivot disagrees with flat view: %+v %v", pivot, err)
	}
}

func TestUnlockRequestWorkflow(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)

	_, err := env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "typo"}, env.Local)
	var invalid policy.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError on DRAFT program, got %v", err)
	}

	env.advance(t, p.ID, domain.StatusValidatedProvincial)
	if _, err := env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "   "}, env.Local); !errors.Is(err, engine.ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
	var denied policy.PermissionDeniedError
	if _, err := env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "x"}, env.Admin); !errors.As(err, &denied) {
		t.Fatalf("expected admins to use the unlock transition, got %v", err)
	}

	req, err := env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "wrong surface on forecast"}, env.Local)
	if err != nil {
		t.Fatalf("request unlock: %v", err)
	}
	if req.Status != domain.RequestPending || req.StatusAtRequest != domain.StatusValidatedProvincial || req.Territory != "commune-7" {
		t.Fatalf("unexpected request %+v", req)
	}
	_, err = env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "again"}, env.Provincial)
	var dup engine.DuplicatePendingRequestError
	if !errors.As(err, &dup) || dup.PendingID != req.ID {
		t.Fatalf("expected DuplicatePendingRequestError, got %v", err)
	}

	if _, err := env.Engine.RejectUnlock(env.Ctx, req.ID, env.Admin, ""); !errors.Is(err, engine.ErrMissingComment) {
		t.Fatalf("expected ErrMissingComment, got %v", err)
	}
	if _, _, err := env.Engine.ApproveUnlock(env.Ctx, req.ID, env.Provincial, ""); !errors.As(err, &denied) {
		t.Fatalf("expected only ADMIN to approve, got %v", err)
	}

	before := env.historyCount(t, p.ID)
	approved, res, err := env.Engine.ApproveUnlock(env.Ctx, req.ID, env.Admin, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.RequestApproved || approved.ResolvedByID == nil || *approved.ResolvedByID != "admin-1" {
		t.Fatalf("unexpected approved request %+v", approved)
	}
	if res.Program.ValidationStatus != domain.StatusDraft || res.Entry.Action != "UNLOCK" {
		t.Fatalf("approval did not unlock: %+v", res)
	}
	if env.historyCount(t, p.ID) != before+1 {
		t.Fatalf("expected one history row for approval")
	}

	var resolved engine.AlreadyResolvedError
	if _, _, err := env.Engine.ApproveUnlock(env.Ctx, req.ID, env.Admin, ""); !errors.As(err, &resolved) || resolved.Status != domain.RequestApproved {
		t.Fatalf("expected AlreadyResolvedError, got %v", err)
	}
	if _, err := env.Engine.RejectUnlock(env.Ctx, req.ID, env.Admin, "too late"); !errors.As(err, &resolved) {
		t.Fatalf("expected AlreadyResolvedError on reject, got %v", err)
	}

	types := env.Notes.types()
	var sawRequested, sawApproved bool
	for _, typ := range types {
		sawRequested = sawRequested || typ == notify.EventUnlockRequested
		sawApproved = sawApproved || typ == notify.EventUnlockApproved
	}
	if !sawRequested || !sawApproved {
		t.Fatalf("missing notifications: %v", types)
	}
	for _, evt := range env.Notes.events {
		if evt.Type == notify.EventUnlockRequested {
			if len(evt.Recipients) != 2 || evt.Recipients[0] != "pdfcp-admin@example.org" || evt.Recipients[1] != "admin@example.org" {
				t.Fatalf("unexpected recipients %v", evt.Recipients)
			}
		}
	}
}

func TestRejectKeepsProgramLocked(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	env.advance(t, p.ID, domain.StatusValidatedRegional)
	req, err := env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "late correction"}, env.Regional)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	before := env.historyCount(t, p.ID)
	rejected, err := env.Engine.RejectUnlock(env.Ctx, req.ID, env.Admin, "campaign closed")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.RequestRejected || rejected.ResolutionComment == nil || *rejected.ResolutionComment != "campaign closed" {
		t.Fatalf("unexpected rejected request %+v", rejected)
	}
	got, _ := env.Engine.GetProgram(env.Ctx, p.ID)
	if got.ValidationStatus != domain.StatusValidatedRegional || !got.Locked {
		t.Fatalf("reject changed the program: %s", got.ValidationStatus)
	}
	if env.historyCount(t, p.ID) != before {
		t.Fatalf("reject must not write history")
	}
	// a new request is allowed once the previous one is resolved
	if _, err := env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "second try"}, env.Regional); err != nil {
		t.Fatalf("new request after reject: %v", err)
	}
	pending, err := env.Engine.ListUnlockRequests(env.Ctx, repo.UnlockRequestFilters{ProgramID: p.ID, Status: domain.RequestPending})
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d %v", len(pending), err)
	}
}

func TestDirectUnlockClosesPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	env.advance(t, p.ID, domain.StatusSubmittedLocal)
	req, err := env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "forgot a site"}, env.Local)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res, err := env.Engine.Transition(env.Ctx, p.ID, policy.AdminUnlock, env.Admin, "done directly")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if res.ResolvedRequest == nil || res.ResolvedRequest.ID != req.ID {
		t.Fatalf("expected pending request to be resolved, got %+v", res.ResolvedRequest)
	}
	got, err := env.Engine.GetUnlockRequest(env.Ctx, req.ID)
	if err != nil || got.Status != domain.RequestApproved {
		t.Fatalf("expected APPROVED request, got %+v %v", got, err)
	}
}

func TestNotificationFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t)
	env.Notes.err = errors.New("redis down")
	p := env.createProgram(t)
	env.advance(t, p.ID, domain.StatusSubmittedLocal)
	if _, err := env.Engine.RequestUnlock(env.Ctx, p.ID, engine.UnlockRequestOptions{Reason: "x"}, env.Local); err != nil {
		t.Fatalf("notification failure leaked: %v", err)
	}
}

func TestStoreFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	_ = env.Engine.DB.Close()
	_, err := env.Engine.Transition(env.Ctx, p.ID, policy.Submit, env.Local, "")
	var store *engine.StoreUnavailableError
	if !errors.As(err, &store) || !store.Retryable() {
		t.Fatalf("expected StoreUnavailableError, got %v", err)
	}
	var invalid policy.InvalidTransitionError
	if errors.As(err, &invalid) {
		t.Fatalf("store failure mapped to a domain error")
	}
}

func TestHistoryFailureRollsBackTransition(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	forecast := addRecord(t, env, p.ID, env.Local, "Reforestation", domain.LedgerForecast, 100)
	if _, err := env.Engine.DB.Exec(`CREATE TRIGGER history_down BEFORE INSERT ON validation_history
BEGIN
  SELECT RAISE(ABORT, 'history down');
END;`); err != nil {
		t.Fatalf("install trigger: %v", err)
	}

	_, err := env.Engine.Transition(env.Ctx, p.ID, policy.Submit, env.Local, "")
	var store *engine.StoreUnavailableError
	if !errors.As(err, &store) {
		t.Fatalf("expected StoreUnavailableError, got %v", err)
	}
	got, err := env.Engine.GetProgram(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get program: %v", err)
	}
	if got.ValidationStatus != domain.StatusDraft || got.Locked || got.SubmittedBy != nil {
		t.Fatalf("transition partially applied: %+v", got)
	}
	rec, err := env.Engine.GetAction(env.Ctx, p.ID, forecast.ID)
	if err != nil || rec.Locked {
		t.Fatalf("record lock leaked: %+v %v", rec, err)
	}
	if n := env.historyCount(t, p.ID); n != 0 {
		t.Fatalf("history rows = %d, want 0", n)
	}
	if len(env.Notes.types()) != 0 {
		t.Fatalf("notified a rolled back transition: %v", env.Notes.types())
	}
}

func TestNonFiniteQuantitiesAreRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	bad := []float64{math.Inf(1), math.Inf(-1), math.NaN()}

	for _, v := range bad {
		cases := []struct {
			field string
			opts  engine.ActionCreateOptions
		}{
			{"physical", engine.ActionCreateOptions{ActionKey: "x", Year: 2024, Ledger: domain.LedgerForecast, Physical: v}},
			{"financial", engine.ActionCreateOptions{ActionKey: "x", Year: 2024, Ledger: domain.LedgerForecast, Financial: v}},
		}
		for _, tc := range cases {
			_, err := env.Engine.CreateAction(env.Ctx, p.ID, tc.opts, env.Local)
			var verr engine.ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("%s=%v: expected ValidationError, got %v", tc.field, v, err)
			}
		}

		_, err := env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{
			Code: "PDFCP-INF", Title: "Budget", YearStart: 2024, YearEnd: 2025, TotalBudget: v,
		}, env.Local)
		var verr engine.ValidationError
		if !errors.As(err, &verr) || verr.Field != "total_budget" {
			t.Fatalf("create total_budget=%v: expected ValidationError, got %v", v, err)
		}
		budget := v
		_, err = env.Engine.UpdateProgram(env.Ctx, p.ID, engine.ProgramUpdateOptions{TotalBudget: &budget}, env.Local)
		if !errors.As(err, &verr) || verr.Field != "total_budget" {
			t.Fatalf("update total_budget=%v: expected ValidationError, got %v", v, err)
		}
	}

	rec := addRecord(t, env, p.ID, env.Local, "Reforestation", domain.LedgerForecast, 10)
	inf := math.Inf(1)
	_, err := env.Engine.UpdateAction(env.Ctx, p.ID, rec.ID, engine.ActionUpdateOptions{Physical: &inf}, env.Local)
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "physical" {
		t.Fatalf("update physical=+Inf: expected ValidationError, got %v", err)
	}

	res, err := env.Engine.Comparatif(env.Ctx, p.ID, engine.ComparatifQuery{})
	if err != nil {
		t.Fatalf("comparatif: %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0].PlanTotal != 10 || res.Actions[0].RateExecVsPlan != 0 {
		t.Fatalf("unexpected comparatif %+v", res)
	}
}

func TestMissingActorIDIsRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	anonymous := auth.Caller{Role: domain.RoleLocal}
	if _, err := env.Engine.Transition(env.Ctx, p.ID, policy.Submit, anonymous, ""); !errors.Is(err, auth.ErrMissingActor) {
		t.Fatalf("expected ErrMissingActor, got %v", err)
	}
	_, err := env.Engine.CreateAction(env.Ctx, p.ID, engine.ActionCreateOptions{ActionKey: "x", Year: 2024, Ledger: domain.LedgerForecast}, anonymous)
	if !errors.Is(err, auth.ErrMissingActor) {
		t.Fatalf("expected ErrMissingActor, got %v", err)
	}
}

func TestComparatifOrdersByActionKeyThenYear(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	add := func(key string, year int, unit string) domain.ActionRecord {
		t.Helper()
		a, err := env.Engine.CreateAction(env.Ctx, p.ID, engine.ActionCreateOptions{
			ActionKey: key, Year: year, Ledger: domain.LedgerForecast, Unit: unit, Physical: 1,
		}, env.Local)
		if err != nil {
			t.Fatalf("create %s/%d: %v", key, year, err)
		}
		return a
	}
	add("Seuils", 2025, "m3")
	add("Reboisement", 2026, "km")
	first := add("Reboisement", 2024, "ha")

	records, err := env.Engine.ListActions(env.Ctx, p.ID, engine.ActionQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var order []string
	for _, r := range records {
		order = append(order, fmt.Sprintf("%s/%d", r.ActionKey, r.Year))
	}
	want := []string{"Reboisement/2024", "Reboisement/2026", "Seuils/2025"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", order, want)
	}

	res, err := env.Engine.Comparatif(env.Ctx, p.ID, engine.ComparatifQuery{})
	if err != nil {
		t.Fatalf("comparatif: %v", err)
	}
	if len(res.Actions) != 2 {
		t.Fatalf("expected two lines, got %d", len(res.Actions))
	}
	l := res.Actions[0]
	if l.Label != "Reboisement" || l.ID != first.ID || l.Unit != "ha" || l.PlanTotal != 2 {
		t.Fatalf("unexpected first line %+v", l)
	}
	if res.Actions[1].Label != "Seuils" {
		t.Fatalf("unexpected second line %+v", res.Actions[1])
	}
}

func TestAccessReportsPolicy(t *testing.T) {
	env := newTestEnv(t)
	p := env.createProgram(t)
	acc, err := env.Engine.Access(env.Ctx, p.ID, domain.RoleLocal)
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	if acc.Locked || len(acc.Transitions) != 1 || acc.Transitions[0] != policy.Submit {
		t.Fatalf("unexpected access %+v", acc)
	}
	if _, err := env.Engine.Access(env.Ctx, "missing", domain.RoleLocal); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
