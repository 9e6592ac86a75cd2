package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CodeFile is a repository file surfaced by code search.
type CodeFile struct {
	Path    string
	Content string
	Score   float64
}

// FixRequest asks the fix generator to rewrite one file.
type FixRequest struct {
	FilePath    string `json:"file_path"`
	Diagnosis   string `json:"diagnosis"`
	CurrentCode string `json:"current_code"`
	Context     string `json:"incident_context"`
}

// FixResult is the generator's proposed change.
type FixResult struct {
	FixedCode       string   `json:"fixed_code"`
	Explanation     string   `json:"explanation"`
	Recommendations []string `json:"recommendations"`
}

// PRFile is one file carried by a pull-request creation call.
type PRFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PRRequest asks the PR creator to open a pull request.
type PRRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Branch      string   `json:"branch_name"`
	Files       []PRFile `json:"files"`
	IncidentID  string   `json:"incident_id"`
}

// PRResult describes the opened pull request.
type PRResult struct {
	PRNumber int    `json:"pr_number"`
	PRURL    string `json:"pr_url"`
	Branch   string `json:"branch"`
}

// Notification is a team alert about a remediation run.
type Notification struct {
	Severity       string `json:"severity"`
	IncidentID     string `json:"incident_id"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	ActionRequired bool   `json:"action_required"`
}

// NotifyResult confirms notification delivery.
type NotifyResult struct {
	Channel string    `json:"channel"`
	SentAt  time.Time `json:"sent_at"`
}

// TicketRequest asks the ticketing backend to open a tracking ticket.
type TicketRequest struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	IncidentID  string `json:"incident_id"`
}

// TicketResult identifies the created ticket.
type TicketResult struct {
	TicketID string `json:"ticket_id"`
	URL      string `json:"url"`
}

// CodeSearchClient queries the indexed code repository for files related to a
// service.
type CodeSearchClient struct {
	baseURL    string
	searchPath string
	httpClient *http.Client
}

// NewCodeSearchClient constructs a code search client.
func NewCodeSearchClient(baseURL, searchPath string, timeout time.Duration) *CodeSearchClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CodeSearchClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		searchPath: searchPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Search returns up to five files relevant to the service. An empty result is
// a valid outcome, not an error.
func (c *CodeSearchClient) Search(ctx context.Context, service, metric string) ([]CodeFile, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("code search not configured")
	}

	payload := map[string]any{
		"query": service,
		"hint":  metric,
		"limit": 5,
	}
	var response struct {
		Files []struct {
			Path    string  `json:"file_path"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"files"`
	}
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.searchPath), payload, &response); err != nil {
		return nil, fmt.Errorf("code search request failed: %w", err)
	}

	files := make([]CodeFile, 0, len(response.Files))
	for _, f := range response.Files {
		files = append(files, CodeFile{Path: f.Path, Content: f.Content, Score: f.Score})
	}
	return files, nil
}

// FixClient calls the code-fix generator collaborator.
type FixClient struct {
	baseURL    string
	fixPath    string
	httpClient *http.Client
}

// NewFixClient constructs a fix generator client.
func NewFixClient(baseURL, fixPath string, timeout time.Duration) *FixClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FixClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		fixPath:    fixPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate requests a fix for the supplied file and diagnosis.
func (c *FixClient) Generate(ctx context.Context, req FixRequest) (FixResult, error) {
	if c == nil || c.baseURL == "" {
		return FixResult{}, fmt.Errorf("fix generator not configured")
	}
	var result FixResult
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.fixPath), req, &result); err != nil {
		return FixResult{}, fmt.Errorf("fix generation request failed: %w", err)
	}
	if result.FixedCode == "" {
		return FixResult{}, fmt.Errorf("fix generator returned an empty fix")
	}
	return result, nil
}

// PRClient calls the pull-request creation collaborator.
type PRClient struct {
	baseURL    string
	createPath string
	httpClient *http.Client
}

// NewPRClient constructs a PR creator client.
func NewPRClient(baseURL, createPath string, timeout time.Duration) *PRClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PRClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		createPath: createPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Create opens a pull request carrying the generated fix.
func (c *PRClient) Create(ctx context.Context, req PRRequest) (PRResult, error) {
	if c == nil || c.baseURL == "" {
		return PRResult{}, fmt.Errorf("pull request creator not configured")
	}
	var result PRResult
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.createPath), req, &result); err != nil {
		return PRResult{}, fmt.Errorf("pull request creation failed: %w", err)
	}
	if result.PRURL == "" {
		return PRResult{}, fmt.Errorf("pull request creator returned no URL")
	}
	return result, nil
}

// NotifyClient calls the team notification collaborator. Delivery is
// best-effort; callers log failures and continue.
type NotifyClient struct {
	baseURL    string
	sendPath   string
	httpClient *http.Client
}

// NewNotifyClient constructs a notification client.
func NewNotifyClient(baseURL, sendPath string, timeout time.Duration) *NotifyClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotifyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		sendPath:   sendPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send delivers a notification to the team channel.
func (c *NotifyClient) Send(ctx context.Context, n Notification) (NotifyResult, error) {
	if c == nil || c.baseURL == "" {
		return NotifyResult{}, fmt.Errorf("notifier not configured")
	}
	var result NotifyResult
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.sendPath), n, &result); err != nil {
		return NotifyResult{}, fmt.Errorf("notification send failed: %w", err)
	}
	return result, nil
}

// TicketClient calls the ticketing collaborator. Ticket creation is an
// optional pipeline step.
type TicketClient struct {
	baseURL    string
	createPath string
	httpClient *http.Client
}

// NewTicketClient constructs a ticketing client.
func NewTicketClient(baseURL, createPath string, timeout time.Duration) *TicketClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TicketClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		createPath: createPath,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Create opens a tracking ticket for the incident.
func (c *TicketClient) Create(ctx context.Context, req TicketRequest) (TicketResult, error) {
	if c == nil || c.baseURL == "" {
		return TicketResult{}, fmt.Errorf("ticketing not configured")
	}
	var result TicketResult
	if err := postJSON(ctx, c.httpClient, resolvePath(c.baseURL, c.createPath), req, &result); err != nil {
		return TicketResult{}, fmt.Errorf("ticket creation failed: %w", err)
	}
	if result.TicketID == "" {
		return TicketResult{}, fmt.Errorf("ticketing backend returned no ticket id")
	}
	return result, nil
}
