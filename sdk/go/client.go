package pdfcpsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal PDFCP HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Program represents the API program model (partial).
type Program struct {
	ID               string  `json:"id"`
	Code             string  `json:"code"`
	Title            string  `json:"title"`
	CommuneID        string  `json:"commune_id,omitempty"`
	YearStart        int     `json:"year_start"`
	YearEnd          int     `json:"year_end"`
	TotalBudget      float64 `json:"total_budget"`
	ValidationStatus string  `json:"validation_status"`
	Locked           bool    `json:"locked"`
	UnlockNote       string  `json:"unlock_note,omitempty"`
}

// ActionRecord is one ledger entry.
type ActionRecord struct {
	ID          string   `json:"id,omitempty"`
	ProgramID   string   `json:"program_id,omitempty"`
	ActionKey   string   `json:"action_key"`
	ActionLabel string   `json:"action_label,omitempty"`
	Year        int      `json:"year"`
	Ledger      string   `json:"ledger"`
	Unit        string   `json:"unit,omitempty"`
	Physical    float64  `json:"physical"`
	Financial   float64  `json:"financial"`
	CommuneID   string   `json:"commune_id,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
	Locked      bool     `json:"locked,omitempty"`
}

// HistoryEntry records one transition.
type HistoryEntry struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Note       string `json:"note,omitempty"`
	ActorID    string `json:"actor_id"`
	ActorRole  string `json:"actor_role"`
	CreatedAt  string `json:"created_at"`
}

// UnlockRequest asks an administrator to return a program to DRAFT.
type UnlockRequest struct {
	ID                string  `json:"id"`
	ProgramID         string  `json:"program_id"`
	RequesterID       string  `json:"requester_id"`
	StatusAtRequest   string  `json:"status_at_request"`
	Reason            string  `json:"reason"`
	Status            string  `json:"status"`
	ResolutionComment *string `json:"resolution_comment,omitempty"`
}

// ComparatifLine is one row of the comparatif.
type ComparatifLine struct {
	ID                 string  `json:"id"`
	Label              string  `json:"label"`
	Year               int     `json:"year,omitempty"`
	Unit               string  `json:"unit"`
	PlanTotal          float64 `json:"plan_total"`
	CPTotal            float64 `json:"cp_total"`
	ExecTotal          float64 `json:"exec_total"`
	RateExecVsPlan     int     `json:"rate_exec_vs_plan"`
	RateExecVsContract int     `json:"rate_exec_vs_contract"`
	Status             string  `json:"status"`
}

type ComparatifTotals struct {
	PlanTotal  float64 `json:"plan_total"`
	CPTotal    float64 `json:"cp_total"`
	ExecTotal  float64 `json:"exec_total"`
	GlobalRate int     `json:"global_rate"`
}

type Comparatif struct {
	Actions []ComparatifLine `json:"actions"`
	Totals  ComparatifTotals `json:"totals"`
}

// TransitionResult is returned by Transition.
type TransitionResult struct {
	ProgramID string       `json:"program_id"`
	Status    string       `json:"status"`
	Locked    bool         `json:"locked"`
	Program   Program      `json:"program"`
	Entry     HistoryEntry `json:"entry"`
}

// APIError wraps non-2xx responses. Code is the error envelope code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProgram creates a program in DRAFT.
func (c *Client) CreateProgram(ctx context.Context, p Program) (Program, error) {
	body := map[string]any{
		"id":           p.ID,
		"code":         p.Code,
		"title":        p.Title,
		"commune_id":   p.CommuneID,
		"year_start":   p.YearStart,
		"year_end":     p.YearEnd,
		"total_budget": p.TotalBudget,
	}
	var resp Program
	err := c.do(ctx, http.MethodPost, "v0/programs", body, &resp)
	return resp, err
}

func (c *Client) GetProgram(ctx context.Context, id string) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodGet, programPath(id, ""), nil, &resp)
	return resp, err
}

// Transition fires submit, validate-provincial, visa-regional or unlock.
func (c *Client) Transition(ctx context.Context, programID, name, note string) (TransitionResult, error) {
	var body any
	if note != "" {
		body = map[string]string{"note": note}
	}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, programPath(programID, "transitions/"+url.PathEscape(name)), body, &resp)
	return resp, err
}

// AddAction adds a record to one of the program's ledgers.
func (c *Client) AddAction(ctx context.Context, programID string, rec ActionRecord) (ActionRecord, error) {
	var resp ActionRecord
	err := c.do(ctx, http.MethodPost, programPath(programID, "actions"), rec, &resp)
	return resp, err
}

// Comparatif returns the program comparatif; year 0 spans every year.
func (c *Client) Comparatif(ctx context.Context, programID string, year int) (Comparatif, error) {
	endpoint := programPath(programID, "comparatif")
	if year > 0 {
		endpoint += "?year=" + strconv.Itoa(year)
	}
	var resp Comparatif
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// History returns the newest entries first.
func (c *Client) History(ctx context.Context, programID string, limit int) ([]HistoryEntry, error) {
	endpoint := programPath(programID, "history")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []HistoryEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) RequestUnlock(ctx context.Context, programID, reason string) (UnlockRequest, error) {
	var resp UnlockRequest
	err := c.do(ctx, http.MethodPost, programPath(programID, "unlock-requests"), map[string]string{"reason": reason}, &resp)
	return resp, err
}

// PendingUnlockRequests lists requests waiting for an administrator.
func (c *Client) PendingUnlockRequests(ctx context.Context) ([]UnlockRequest, error) {
	var resp struct {
		Items []UnlockRequest `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/unlock-requests?status=PENDING", nil, &resp)
	return resp.Items, err
}

func (c *Client) ApproveUnlock(ctx context.Context, requestID, comment string) (UnlockRequest, error) {
	var resp struct {
		Request UnlockRequest `json:"request"`
	}
	err := c.do(ctx, http.MethodPost, "v0/unlock-requests/"+url.PathEscape(requestID)+"/approve", map[string]string{"comment": comment}, &resp)
	return resp.Request, err
}

func (c *Client) RejectUnlock(ctx context.Context, requestID, comment string) (UnlockRequest, error) {
	var resp UnlockRequest
	err := c.do(ctx, http.MethodPost, "v0/unlock-requests/"+url.PathEscape(requestID)+"/reject", map[string]string{"comment": comment}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func programPath(id, sub string) string {
	p := "v0/programs/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
