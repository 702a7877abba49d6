package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"gapforets/internal/comparatif"
	"gapforets/internal/domain"
	"gapforets/internal/engine"
	"gapforets/internal/policy"
	"gapforets/internal/repo"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
	http.StatusInternalServerError,
}

var readErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusServiceUnavailable,
	http.StatusInternalServerError,
}

// decodeOptional fills out from the buffered request body when one was sent.
func decodeOptional(ctx context.Context, out any) huma.StatusError {
	raw := bodyBytes(ctx)
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newAPIError(http.StatusBadRequest, "bad_request", "invalid JSON body", map[string]any{"error": err.Error()})
	}
	return nil
}

func normalizeRole(v string) domain.Role {
	if r, ok := domain.ParseRole(v); ok {
		return r
	}
	return domain.Role(strings.TrimSpace(v))
}

func registerPrograms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-program",
		Method:        http.MethodPost,
		Path:          "/programs",
		Summary:       "Create program",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProgramRequest `json:"body"`
	}) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		p, err := e.CreateProgram(ctx, engine.ProgramCreateOptions{
			ID:          in.ID,
			Code:        in.Code,
			Title:       in.Title,
			Description: in.Description,
			RegionID:    in.RegionID,
			ProvinceID:  in.ProvinceID,
			CommuneID:   in.CommuneID,
			YearStart:   in.YearStart,
			YearEnd:     in.YearEnd,
			TotalBudget: in.TotalBudget,
		}, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-programs",
		Method:      http.MethodGet,
		Path:        "/programs",
		Summary:     "List programs",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		RegionID   string `query:"region_id"`
		ProvinceID string `query:"province_id"`
		CommuneID  string `query:"commune_id"`
	}) (*struct {
		Body ProgramList `json:"body"`
	}, error) {
		programs, err := e.ListPrograms(ctx, repo.ProgramFilters{
			Status:     domain.Status(strings.ToUpper(strings.TrimSpace(input.Status))),
			RegionID:   input.RegionID,
			ProvinceID: input.ProvinceID,
			CommuneID:  input.CommuneID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgramList `json:"body"`
		}{Body: ProgramList{Items: nonNilSlice(programs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-program",
		Method:      http.MethodGet,
		Path:        "/programs/{id}",
		Summary:     "Get program",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		p, err := e.GetProgram(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-program",
		Method:      http.MethodPatch,
		Path:        "/programs/{id}",
		Summary:     "Update program fields",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateProgramRequest `json:"body"`
	}) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProgram(ctx, input.ID, updateProgramOptions(input.Body), caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "program-access",
		Method:      http.MethodGet,
		Path:        "/programs/{id}/access",
		Summary:     "Lock policy for the caller on a program",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Role string `query:"role"`
	}) (*struct {
		Body policy.Access `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role := caller.Role
		if input.Role != "" {
			role = normalizeRole(input.Role)
		}
		access, err := e.Access(ctx, input.ID, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body policy.Access `json:"body"`
		}{Body: access}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "program-history",
		Method:      http.MethodGet,
		Path:        "/programs/{id}/history",
		Summary:     "Transition history, newest first",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body HistoryList `json:"body"`
	}, error) {
		entries, err := e.ListHistory(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryList `json:"body"`
		}{Body: HistoryList{Items: nonNilSlice(entries)}}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "program-transition",
		Method:      http.MethodPost,
		Path:        "/programs/{id}/transitions/{name}",
		Summary:     "Fire a lifecycle transition",
		Description: "name is one of submit, validate-provincial, visa-regional, unlock.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Name string `path:"name"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := policy.ParseTransition(input.Name)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_transition_name", err.Error(), map[string]any{"name": input.Name})
		}
		var req TransitionRequest
		if decodeErr := decodeOptional(ctx, &req); decodeErr != nil {
			return nil, decodeErr
		}
		res, err := e.Transition(ctx, input.ID, t, caller, req.Note)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(t, res)}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-action",
		Method:        http.MethodPost,
		Path:          "/programs/{id}/actions",
		Summary:       "Add a ledger record",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body CreateActionRequest `json:"body"`
	}) (*struct {
		Body domain.ActionRecord `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAction(ctx, input.ID, createActionOptions(input.Body), caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionRecord `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/programs/{id}/actions",
		Summary:     "List ledger records",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		Ledger    string `query:"ledger"`
		Year      int    `query:"year"`
		ActionKey string `query:"action_key"`
		CommuneID string `query:"commune_id"`
	}) (*struct {
		Body ActionList `json:"body"`
	}, error) {
		records, err := e.ListActions(ctx, input.ID, engine.ActionQuery{
			Ledger:    domain.Ledger(input.Ledger),
			Year:      input.Year,
			ActionKey: input.ActionKey,
			CommuneID: input.CommuneID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionList `json:"body"`
		}{Body: ActionList{Items: nonNilSlice(records)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/programs/{id}/actions/{action_id}",
		Summary:     "Get ledger record",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		ActionID string `path:"action_id"`
	}) (*struct {
		Body domain.ActionRecord `json:"body"`
	}, error) {
		a, err := e.GetAction(ctx, input.ID, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionRecord `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-action",
		Method:      http.MethodPatch,
		Path:        "/programs/{id}/actions/{action_id}",
		Summary:     "Update ledger record",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID       string              `path:"id"`
		ActionID string              `path:"action_id"`
		Body     UpdateActionRequest `json:"body"`
	}) (*struct {
		Body domain.ActionRecord `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAction(ctx, input.ID, input.ActionID, updateActionOptions(input.Body), caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionRecord `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-action",
		Method:        http.MethodDelete,
		Path:          "/programs/{id}/actions/{action_id}",
		Summary:       "Delete ledger record",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		ActionID string `path:"action_id"`
	}) (*struct{}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAction(ctx, input.ID, input.ActionID, caller); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerComparatif(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "program-comparatif",
		Method:      http.MethodGet,
		Path:        "/programs/{id}/comparatif",
		Summary:     "Forecast vs contract vs executed per action",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		Year      int    `query:"year"`
		ActionKey string `query:"action_key"`
		CommuneID string `query:"commune_id"`
	}) (*struct {
		Body comparatif.Result `json:"body"`
	}, error) {
		res, err := e.Comparatif(ctx, input.ID, engine.ComparatifQuery{
			Year:      input.Year,
			ActionKey: input.ActionKey,
			CommuneID: input.CommuneID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res.Actions = nonNilSlice(res.Actions)
		return &struct {
			Body comparatif.Result `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "program-comparatif-pivot",
		Method:      http.MethodGet,
		Path:        "/programs/{id}/comparatif/pivot",
		Summary:     "Comparatif per action and year",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID        string `path:"id"`
		ActionKey string `query:"action_key"`
		CommuneID string `query:"commune_id"`
	}) (*struct {
		Body comparatif.Pivot `json:"body"`
	}, error) {
		pivot, err := e.Pivot(ctx, input.ID, engine.ComparatifQuery{
			ActionKey: input.ActionKey,
			CommuneID: input.CommuneID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		pivot.Years = nonNilSlice(pivot.Years)
		pivot.Cells = nonNilSlice(pivot.Cells)
		return &struct {
			Body comparatif.Pivot `json:"body"`
		}{Body: pivot}, nil
	})
}

func registerUnlockRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-unlock-request",
		Method:        http.MethodPost,
		Path:          "/programs/{id}/unlock-requests",
		Summary:       "Ask an administrator to unlock a program",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                     `path:"id"`
		Body CreateUnlockRequestRequest `json:"body"`
	}) (*struct {
		Body domain.UnlockRequest `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.RequestUnlock(ctx, input.ID, engine.UnlockRequestOptions{
			Reason:    input.Body.Reason,
			Territory: input.Body.Territory,
		}, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UnlockRequest `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-program-unlock-requests",
		Method:      http.MethodGet,
		Path:        "/programs/{id}/unlock-requests",
		Summary:     "Unlock requests of a program",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body UnlockRequestList `json:"body"`
	}, error) {
		items, err := e.ListUnlockRequests(ctx, repo.UnlockRequestFilters{
			ProgramID: input.ID,
			Status:    domain.RequestStatus(strings.ToUpper(strings.TrimSpace(input.Status))),
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnlockRequestList `json:"body"`
		}{Body: UnlockRequestList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-unlock-requests",
		Method:      http.MethodGet,
		Path:        "/unlock-requests",
		Summary:     "Unlock requests across programs",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		ProgramID string `query:"program_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body UnlockRequestList `json:"body"`
	}, error) {
		items, err := e.ListUnlockRequests(ctx, repo.UnlockRequestFilters{
			ProgramID: input.ProgramID,
			Status:    domain.RequestStatus(strings.ToUpper(strings.TrimSpace(input.Status))),
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnlockRequestList `json:"body"`
		}{Body: UnlockRequestList{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-unlock-request",
		Method:      http.MethodGet,
		Path:        "/unlock-requests/{id}",
		Summary:     "Get unlock request",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.UnlockRequest `json:"body"`
	}, error) {
		u, err := e.GetUnlockRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UnlockRequest `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-unlock-request",
		Method:      http.MethodPost,
		Path:        "/unlock-requests/{id}/approve",
		Summary:     "Approve an unlock request and return the program to DRAFT",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ApprovalResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var req ResolveUnlockRequestRequest
		if decodeErr := decodeOptional(ctx, &req); decodeErr != nil {
			return nil, decodeErr
		}
		u, res, err := e.ApproveUnlock(ctx, input.ID, caller, req.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovalResponse `json:"body"`
		}{Body: ApprovalResponse{Request: u, Program: res.Program, Entry: res.Entry}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-unlock-request",
		Method:      http.MethodPost,
		Path:        "/unlock-requests/{id}/reject",
		Summary:     "Reject an unlock request; the program stays locked",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.UnlockRequest `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var req ResolveUnlockRequestRequest
		if decodeErr := decodeOptional(ctx, &req); decodeErr != nil {
			return nil, decodeErr
		}
		u, err := e.RejectUnlock(ctx, input.ID, caller, req.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UnlockRequest `json:"body"`
		}{Body: u}, nil
	})
}
