// Package remote is the typed caller of the CRM's pipeline, opportunity
// and task endpoints. Every call obtains a valid credential first and
// retries exactly once after a forced refresh when the CRM answers 401.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crmkit/taskbridge/internal/auth/credential"
)

const requestTimeout = 30 * time.Second

// APIError is a non-2xx response from the CRM, carrying the status code
// so callers can distinguish auth (401/403), not-found (404) and other
// upstream failures.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm api: status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a CRM 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsAuthError reports whether err is a CRM 401/403.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

// Client calls the CRM REST API.
type Client struct {
	httpClient *http.Client
	creds      *credential.Manager
	baseURL    string
	apiVersion string
	locationID string
}

// NewClient creates a CRM client bound to one location.
func NewClient(creds *credential.Manager, baseURL, apiVersion, locationID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		creds:      creds,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		locationID: locationID,
	}
}

// ListPipelines fetches all pipeline definitions for the location.
func (c *Client) ListPipelines(ctx context.Context) ([]Pipeline, error) {
	var out struct {
		Pipelines []Pipeline `json:"pipelines"`
	}
	query := url.Values{"locationId": {c.locationID}}
	if err := c.do(ctx, http.MethodGet, "/opportunities/pipelines", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Pipelines, nil
}

// ListPipelineTasks fetches the tasks (with their owning opportunities)
// for a pipeline. status is "all", "completed" or "incomplete".
func (c *Client) ListPipelineTasks(ctx context.Context, pipelineID, status string) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	query := url.Values{"locationId": {c.locationID}}
	if status != "" {
		query.Set("status", status)
	}
	path := fmt.Sprintf("/pipelines/%s/tasks", url.PathEscape(pipelineID))
	if err := c.do(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// UpdateTaskCompletion marks a task complete or incomplete.
func (c *Client) UpdateTaskCompletion(ctx context.Context, taskID string, completed bool) (*Task, error) {
	return c.updateTask(ctx, taskID, map[string]interface{}{"completed": completed})
}

// UpdateTaskAssignee reassigns a task.
func (c *Client) UpdateTaskAssignee(ctx context.Context, taskID, userID string) (*Task, error) {
	return c.updateTask(ctx, taskID, map[string]interface{}{"assignedTo": userID})
}

// UpdateTaskDueDate sets a task's due date (ISO-8601 string).
func (c *Client) UpdateTaskDueDate(ctx context.Context, taskID, dueDate string) (*Task, error) {
	return c.updateTask(ctx, taskID, map[string]interface{}{"dueDate": dueDate})
}

func (c *Client) updateTask(ctx context.Context, taskID string, patch map[string]interface{}) (*Task, error) {
	var out struct {
		Task Task `json:"task"`
	}
	path := fmt.Sprintf("/tasks/%s", url.PathEscape(taskID))
	if err := c.do(ctx, http.MethodPut, path, nil, patch, &out); err != nil {
		return nil, err
	}
	return &out.Task, nil
}

// GetPipelineStage fetches a single stage definition.
func (c *Client) GetPipelineStage(ctx context.Context, pipelineID, stageID string) (*Stage, error) {
	var out struct {
		Stage Stage `json:"stage"`
	}
	path := fmt.Sprintf("/pipelines/%s/stages/%s", url.PathEscape(pipelineID), url.PathEscape(stageID))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Stage, nil
}

// do issues one API call: valid credential, request, and on 401 exactly
// one forced refresh-and-retry before surfacing the error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out interface{}) error {
	cred, err := c.creds.GetValid(ctx)
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, method, path, query, payload, cred.AccessToken)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		log.Printf("⚠️ CRM rejected token (%s %s), forcing refresh and retrying once", method, path)
		cred, err = c.creds.ForceRefresh(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", credential.ErrAuthUnavailable, err)
		}
		resp, err = c.doRequest(ctx, method, path, query, payload, cred.AccessToken)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crm api: decode %s %s: %w", method, path, err)
	}
	return nil
}

// doRequest performs an HTTP request with the CRM's required headers.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload interface{}, accessToken string) (*http.Response, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("crm api: marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("crm api: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm api: request failed: %w", err)
	}
	return resp, nil
}
