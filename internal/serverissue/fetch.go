// Package serverissue matches locally stored issues with the issues a server already tracks.
package serverissue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"lintwatch/internal/config"
)

// ServerIssue is an issue as the server tracks it.
type ServerIssue struct {
	Key          string    `json:"key"`
	RuleKey      string    `json:"rule"`
	Message      string    `json:"message"`
	Line         int       `json:"line,omitempty"`
	LineHash     string    `json:"hash,omitempty"`
	CreationDate time.Time `json:"creationDate"`
	Assignee     string    `json:"assignee,omitempty"`
}

func (s ServerIssue) TrackingRule() string    { return s.RuleKey }
func (s ServerIssue) TrackingHash() string    { return s.LineHash }
func (s ServerIssue) TrackingMessage() string { return s.Message }

// Fetcher loads the server issues of one module-relative file.
type Fetcher interface {
	Fetch(ctx context.Context, relPath string) ([]ServerIssue, error)
}

const defaultMaxElapsed = 30 * time.Second

// HTTPFetcher reads issues from <url>/api/issues. Transport errors and 5xx
// responses are retried with exponential backoff.
type HTTPFetcher struct {
	base       string
	projectKey string
	token      string
	client     *http.Client
	maxElapsed time.Duration
}

// NewHTTPFetcher builds a fetcher from the server configuration. client may be nil.
func NewHTTPFetcher(cfg config.ServerConfig, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{
		base:       strings.TrimRight(cfg.URL, "/"),
		projectKey: cfg.ProjectKey,
		token:      cfg.Token(),
		client:     client,
		maxElapsed: defaultMaxElapsed,
	}
}

type issuesResponse struct {
	Issues []ServerIssue `json:"issues"`
}

// BackOff implementations are stateful; always return a fresh instance.
func (f *HTTPFetcher) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = f.maxElapsed
	return backoff.WithContext(bo, ctx)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, relPath string) ([]ServerIssue, error) {
	q := url.Values{}
	q.Set("projectKey", f.projectKey)
	q.Set("file", relPath)
	endpoint := f.base + "/api/issues?" + q.Encode()

	var out []ServerIssue
	err := backoff.Retry(func() error {
		issues, err := f.get(ctx, endpoint)
		if err != nil {
			return err
		}
		out = issues
		return nil
	}, f.newBackoff(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch issues of %s: %w", relPath, err)
	}
	return out, nil
}

var errServer = errors.New("server error")

func (f *HTTPFetcher) get(ctx context.Context, endpoint string) ([]ServerIssue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", errServer, resp.Status)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}
	var decoded issuesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode issues: %w", err))
	}
	return decoded.Issues, nil
}
