package repo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Commit is a source-control commit in the incident window.
type Commit struct {
	SHA       string
	Author    string
	Message   string
	Timestamp time.Time
	URL       string
}

// CommitsClient fetches recent commits from the source-control gateway so the
// pipeline can correlate them with anomaly timestamps.
type CommitsClient struct {
	baseURL     string
	commitsPath string
	token       string
	httpClient  *http.Client
}

// NewCommitsClient constructs a commits client. token may be empty for
// unauthenticated gateways.
func NewCommitsClient(baseURL, commitsPath, token string, timeout time.Duration) *CommitsClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CommitsClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		commitsPath: commitsPath,
		token:       token,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// FetchCommits returns commits authored inside [since, until].
func (c *CommitsClient) FetchCommits(ctx context.Context, since, until time.Time) ([]Commit, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("commits gateway not configured")
	}

	endpoint := resolvePath(c.baseURL, c.commitsPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("since", since.Format(time.RFC3339))
	q.Set("until", until.Format(time.RFC3339))
	req.URL.RawQuery = q.Encode()
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("commits request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("commits gateway returned %s", resp.Status)
	}

	var response struct {
		Commits []struct {
			SHA       string    `json:"sha"`
			Author    string    `json:"author"`
			Message   string    `json:"message"`
			Timestamp time.Time `json:"timestamp"`
			URL       string    `json:"url"`
		} `json:"commits"`
	}
	if err := decodeJSON(resp, &response); err != nil {
		return nil, err
	}

	commits := make([]Commit, 0, len(response.Commits))
	for _, commit := range response.Commits {
		message := commit.Message
		if idx := strings.IndexByte(message, '\n'); idx >= 0 {
			message = message[:idx]
		}
		commits = append(commits, Commit{
			SHA:       commit.SHA,
			Author:    commit.Author,
			Message:   message,
			Timestamp: commit.Timestamp,
			URL:       commit.URL,
		})
	}
	return commits, nil
}
