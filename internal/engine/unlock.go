package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"gapforets/internal/domain"
	"gapforets/internal/engine/auth"
	"gapforets/internal/notify"
	"gapforets/internal/policy"
	"gapforets/internal/repo"
)

// UnlockRequestOptions are parameters for asking an administrator to revert
// a locked program to DRAFT.
type UnlockRequestOptions struct {
	Reason    string
	Territory string
}

// RequestUnlock records a PENDING unlock request and notifies administrators.
// The program must be past DRAFT and have no other pending request.
func (e Engine) RequestUnlock(ctx context.Context, programID string, opts UnlockRequestOptions, caller auth.Caller) (domain.UnlockRequest, error) {
	if err := caller.Validate(); err != nil {
		return domain.UnlockRequest{}, err
	}
	if caller.Role == domain.RoleAdmin {
		return domain.UnlockRequest{}, policy.PermissionDeniedError{Role: caller.Role, Action: "request an unlock (use the UNLOCK transition)"}
	}
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		return domain.UnlockRequest{}, ErrMissingReason
	}
	if limit := e.config().Unlock.MaxReasonLength; limit > 0 && utf8.RuneCountInString(reason) > limit {
		return domain.UnlockRequest{}, ValidationError{Field: "reason", Message: fmt.Sprintf("longer than %d characters", limit)}
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProgramTx(ctx, tx, programID)
	if err != nil {
		return domain.UnlockRequest{}, storeErr("load program", err)
	}
	if p.ValidationStatus == domain.StatusDraft {
		return domain.UnlockRequest{}, policy.InvalidTransitionError{
			Transition: policy.AdminUnlock,
			Status:     p.ValidationStatus,
			Expected:   []domain.Status{domain.StatusSubmittedLocal, domain.StatusValidatedProvincial, domain.StatusValidatedRegional},
		}
	}
	pending, err := e.Repo.PendingUnlockRequest(ctx, tx, p.ID)
	switch {
	case err == nil:
		return domain.UnlockRequest{}, DuplicatePendingRequestError{ProgramID: p.ID, PendingID: pending.ID}
	case !isNotFound(err):
		return domain.UnlockRequest{}, storeErr("load pending request", err)
	}

	territory := strings.TrimSpace(opts.Territory)
	if territory == "" {
		territory = caller.Territory
	}
	if territory == "" {
		territory = programTerritory(p, caller.Role)
	}
	u := domain.UnlockRequest{
		ID:              uuid.NewString(),
		ProgramID:       p.ID,
		RequesterID:     caller.ID,
		RequesterName:   caller.Name,
		RequesterEmail:  strings.TrimSpace(caller.Email),
		RequesterRole:   caller.Role,
		Territory:       territory,
		StatusAtRequest: p.ValidationStatus,
		Reason:          reason,
		Status:          domain.RequestPending,
		CreatedAt:       e.timestamp(),
	}
	if err := e.Repo.InsertUnlockRequest(ctx, tx, u); err != nil {
		if errors.Is(err, repo.ErrPendingExists) {
			return domain.UnlockRequest{}, DuplicatePendingRequestError{ProgramID: p.ID}
		}
		return domain.UnlockRequest{}, storeErr("insert unlock request", err)
	}
	if err := commit(tx); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.UnlockRequest{}, DuplicatePendingRequestError{ProgramID: p.ID}
		}
		return domain.UnlockRequest{}, err
	}

	e.notify(ctx, notify.Event{
		Type:        notify.EventUnlockRequested,
		ProgramID:   p.ID,
		ProgramCode: p.Code,
		RequestID:   u.ID,
		ActorID:     caller.ID,
		ActorName:   caller.DisplayName(),
		ActorRole:   string(caller.Role),
		FromStatus:  string(p.ValidationStatus),
		Message:     reason,
		Recipients:  e.adminRecipients(ctx),
	})
	return u, nil
}

// ApproveUnlock resolves a PENDING request as APPROVED and reverts its
// program to DRAFT in the same transaction.
func (e Engine) ApproveUnlock(ctx context.Context, requestID string, admin auth.Caller, comment string) (domain.UnlockRequest, TransitionResult, error) {
	if err := requireAdmin(admin, "approve unlock requests"); err != nil {
		return domain.UnlockRequest{}, TransitionResult{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.UnlockRequest{}, TransitionResult{}, err
	}
	defer tx.Rollback()

	u, err := e.pendingRequest(ctx, tx, requestID)
	if err != nil {
		return domain.UnlockRequest{}, TransitionResult{}, err
	}
	p, err := e.Repo.GetProgramTx(ctx, tx, u.ProgramID)
	if err != nil {
		return domain.UnlockRequest{}, TransitionResult{}, storeErr("load program", err)
	}
	comment = strings.TrimSpace(comment)
	note := comment
	if note == "" {
		note = "unlock request approved: " + u.Reason
	}
	res, err := e.applyTransition(ctx, tx, p, policy.AdminUnlock, admin, note)
	if err != nil {
		return domain.UnlockRequest{}, TransitionResult{}, err
	}
	u, err = e.resolve(ctx, tx, u, domain.RequestApproved, admin, comment)
	if err != nil {
		return domain.UnlockRequest{}, TransitionResult{}, err
	}
	res.ResolvedRequest = &u
	if err := commit(tx); err != nil {
		return domain.UnlockRequest{}, TransitionResult{}, err
	}

	e.notify(ctx, transitionEvent(res, admin))
	e.notify(ctx, resolutionEvent(notify.EventUnlockApproved, p, u, admin))
	return u, res, nil
}

// RejectUnlock resolves a PENDING request as REJECTED. The program is not touched.
func (e Engine) RejectUnlock(ctx context.Context, requestID string, admin auth.Caller, comment string) (domain.UnlockRequest, error) {
	if err := requireAdmin(admin, "reject unlock requests"); err != nil {
		return domain.UnlockRequest{}, err
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return domain.UnlockRequest{}, ErrMissingComment
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	defer tx.Rollback()

	u, err := e.pendingRequest(ctx, tx, requestID)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	u, err = e.resolve(ctx, tx, u, domain.RequestRejected, admin, comment)
	if err != nil {
		return domain.UnlockRequest{}, err
	}
	p, err := e.Repo.GetProgramTx(ctx, tx, u.ProgramID)
	if err != nil {
		return domain.UnlockRequest{}, storeErr("load program", err)
	}
	if err := commit(tx); err != nil {
		return domain.UnlockRequest{}, err
	}
	e.notify(ctx, resolutionEvent(notify.EventUnlockRejected, p, u, admin))
	return u, nil
}

func (e Engine) GetUnlockRequest(ctx context.Context, id string) (domain.UnlockRequest, error) {
	u, err := e.Repo.GetUnlockRequest(ctx, nil, id)
	return u, storeErr("load unlock request", err)
}

func (e Engine) ListUnlockRequests(ctx context.Context, f repo.UnlockRequestFilters) ([]domain.UnlockRequest, error) {
	if f.Status != "" {
		switch f.Status {
		case domain.RequestPending, domain.RequestApproved, domain.RequestRejected:
		default:
			return nil, ValidationError{Field: "status", Message: fmt.Sprintf("unknown request status %q", f.Status)}
		}
	}
	if f.ProgramID != "" {
		if _, err := e.GetProgram(ctx, f.ProgramID); err != nil {
			return nil, err
		}
	}
	requests, err := e.Repo.ListUnlockRequests(ctx, f)
	return requests, storeErr("list unlock requests", err)
}

// pendingRequest loads a request and rejects it unless it is still PENDING.
func (e Engine) pendingRequest(ctx context.Context, tx *sql.Tx, id string) (domain.UnlockRequest, error) {
	u, err := e.Repo.GetUnlockRequest(ctx, tx, id)
	if err != nil {
		return domain.UnlockRequest{}, storeErr("load unlock request", err)
	}
	if u.Status != domain.RequestPending {
		return domain.UnlockRequest{}, AlreadyResolvedError{RequestID: u.ID, Status: u.Status}
	}
	return u, nil
}

func (e Engine) resolve(ctx context.Context, tx *sql.Tx, u domain.UnlockRequest, status domain.RequestStatus, admin auth.Caller, comment string) (domain.UnlockRequest, error) {
	res := repo.Resolution{
		Status:     status,
		ByID:       admin.ID,
		ByName:     admin.DisplayName(),
		Comment:    comment,
		ResolvedAt: e.timestamp(),
	}
	if err := e.Repo.ResolveUnlockRequest(ctx, tx, u.ID, res); err != nil {
		if errors.Is(err, repo.ErrNotPending) {
			current, getErr := e.Repo.GetUnlockRequest(ctx, tx, u.ID)
			if getErr != nil {
				return domain.UnlockRequest{}, storeErr("load unlock request", getErr)
			}
			return domain.UnlockRequest{}, AlreadyResolvedError{RequestID: u.ID, Status: current.Status}
		}
		return domain.UnlockRequest{}, storeErr("resolve unlock request", err)
	}
	u.Status = status
	u.ResolvedByID = &res.ByID
	u.ResolvedByName = &res.ByName
	u.ResolvedAt = &res.ResolvedAt
	if comment != "" {
		u.ResolutionComment = &comment
	}
	return u, nil
}

// adminRecipients is best effort: a failed directory lookup still notifies
// the configured address.
func (e Engine) adminRecipients(ctx context.Context) []string {
	var out []string
	seen := map[string]bool{}
	add := func(addr string) {
		addr = strings.TrimSpace(addr)
		if addr != "" && !seen[strings.ToLower(addr)] {
			seen[strings.ToLower(addr)] = true
			out = append(out, addr)
		}
	}
	add(e.config().Unlock.AdminEmail)
	if e.Actors.DB != nil {
		emails, err := e.Actors.AdminEmails(ctx)
		if err != nil {
			e.logger().Printf("list admin emails: %v", err)
		}
		for _, addr := range emails {
			add(addr)
		}
	}
	return out
}

func requireAdmin(c auth.Caller, action string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Role != domain.RoleAdmin {
		return policy.PermissionDeniedError{Role: c.Role, Required: domain.RoleAdmin, Action: action}
	}
	return nil
}

func programTerritory(p domain.Program, role domain.Role) string {
	switch role {
	case domain.RoleLocal:
		return p.CommuneID
	case domain.RoleProvincial:
		return p.ProvinceID
	case domain.RoleRegional:
		return p.RegionID
	}
	return ""
}

func resolutionEvent(typ string, p domain.Program, u domain.UnlockRequest, admin auth.Caller) notify.Event {
	evt := notify.Event{
		Type:        typ,
		ProgramID:   p.ID,
		ProgramCode: p.Code,
		RequestID:   u.ID,
		ActorID:     admin.ID,
		ActorName:   admin.DisplayName(),
		ActorRole:   string(admin.Role),
	}
	if u.ResolutionComment != nil {
		evt.Message = *u.ResolutionComment
	}
	if u.RequesterEmail != "" {
		evt.Recipients = []string{u.RequesterEmail}
	}
	return evt
}
