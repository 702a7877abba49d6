package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gapforets/internal/domain"
	"gapforets/internal/engine/auth"
	"gapforets/internal/notify"
	"gapforets/internal/policy"
	"gapforets/internal/repo"
)

// TransitionResult is the program after the move, its history row and, for
// an unlock that closed a pending request, that request.
type TransitionResult struct {
	Program         domain.Program        `json:"program"`
	Entry           domain.HistoryEntry   `json:"entry"`
	ResolvedRequest *domain.UnlockRequest `json:"resolved_request,omitempty"`
}

// Transition fires t on a program. The status update, approver markers and
// history row commit together or not at all.
func (e Engine) Transition(ctx context.Context, programID string, t policy.Transition, caller auth.Caller, note string) (TransitionResult, error) {
	if err := caller.Validate(); err != nil {
		return TransitionResult{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProgramTx(ctx, tx, programID)
	if err != nil {
		return TransitionResult{}, storeErr("load program", err)
	}
	res, err := e.applyTransition(ctx, tx, p, t, caller, note)
	if err != nil {
		return TransitionResult{}, err
	}
	if t == policy.AdminUnlock {
		resolved, err := e.closePending(ctx, tx, programID, caller, note)
		if err != nil {
			return TransitionResult{}, err
		}
		res.ResolvedRequest = resolved
	}
	if err := commit(tx); err != nil {
		return TransitionResult{}, err
	}

	e.notify(ctx, transitionEvent(res, caller))
	if res.ResolvedRequest != nil {
		e.notify(ctx, resolutionEvent(notify.EventUnlockApproved, p, *res.ResolvedRequest, caller))
	}
	return res, nil
}

// applyTransition checks and applies t on p inside tx.
func (e Engine) applyTransition(ctx context.Context, tx *sql.Tx, p domain.Program, t policy.Transition, caller auth.Caller, note string) (TransitionResult, error) {
	from := p.ValidationStatus
	to, err := policy.Next(t, from, caller.Role)
	if err != nil {
		return TransitionResult{}, err
	}
	ts := e.timestamp()
	actor := caller.ID
	switch t {
	case policy.Submit:
		p.SubmittedBy, p.SubmittedAt = &actor, &ts
	case policy.ValidateProvincial:
		p.ValidatedProvincialBy, p.ValidatedProvincialAt = &actor, &ts
	case policy.VisaRegional:
		p.VisaRegionalBy, p.VisaRegionalAt = &actor, &ts
	case policy.AdminUnlock:
		p.SubmittedBy, p.SubmittedAt = nil, nil
		p.ValidatedProvincialBy, p.ValidatedProvincialAt = nil, nil
		p.VisaRegionalBy, p.VisaRegionalAt = nil, nil
		p.UnlockNote = note
	}
	p.ValidationStatus = to
	p.Locked = to.Locked()
	p.UpdatedBy = caller.ID
	p.UpdatedAt = ts
	if err := e.Repo.UpdateProgram(ctx, tx, p); err != nil {
		return TransitionResult{}, storeErr("update program", err)
	}

	switch t {
	case policy.VisaRegional:
		if err := e.Repo.SetActionsLocked(ctx, tx, p.ID, true, ts); err != nil {
			return TransitionResult{}, storeErr("lock actions", err)
		}
	case policy.AdminUnlock:
		if err := e.Repo.SetActionsLocked(ctx, tx, p.ID, false, ts); err != nil {
			return TransitionResult{}, storeErr("unlock actions", err)
		}
	}

	entry, err := e.History.Append(ctx, tx, domain.HistoryEntry{
		ProgramID:  p.ID,
		Action:     string(t),
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		ActorID:    caller.ID,
		ActorName:  caller.Name,
		ActorRole:  caller.Role,
		CreatedAt:  e.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return TransitionResult{}, storeErr("append history", err)
	}
	return TransitionResult{Program: p, Entry: entry}, nil
}

// closePending approves the program's pending request, if any, so that no
// request stays PENDING on a DRAFT program.
func (e Engine) closePending(ctx context.Context, tx *sql.Tx, programID string, admin auth.Caller, comment string) (*domain.UnlockRequest, error) {
	pending, err := e.Repo.PendingUnlockRequest(ctx, tx, programID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("load pending request", err)
	}
	resolved, err := e.resolve(ctx, tx, pending, domain.RequestApproved, admin, comment)
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

func transitionEvent(res TransitionResult, caller auth.Caller) notify.Event {
	return notify.Event{
		Type:        notify.EventTransition,
		ProgramID:   res.Program.ID,
		ProgramCode: res.Program.Code,
		ActorID:     caller.ID,
		ActorName:   caller.Name,
		ActorRole:   string(caller.Role),
		FromStatus:  string(res.Entry.FromStatus),
		ToStatus:    string(res.Entry.ToStatus),
		Message:     res.Entry.Note,
	}
}
