package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// The ML-commons plugin endpoints are not covered by the typed opensearchapi
// surface, so they are issued as raw requests through the client transport.

// TaskState values reported by GET /_plugins/_ml/tasks/{id}.
const (
	TaskCompleted = "COMPLETED"
	TaskFailed    = "FAILED"
)

// ModelDeployed is the model_state value of a fully deployed model.
const ModelDeployed = "DEPLOYED"

// TaskStatus is the state of an asynchronous ML task.
type TaskStatus struct {
	// State is the task lifecycle state (CREATED, RUNNING, COMPLETED, FAILED).
	State string `json:"state"`

	// ModelID is populated on completed registration tasks.
	ModelID string `json:"model_id"`

	// Error is the failure reason for FAILED tasks.
	Error string `json:"error"`
}

// RegisterModel starts registration of a pretrained embedding model in the
// engine's ML runtime and returns the task ID to poll.
func (c *Client) RegisterModel(ctx context.Context, name, version, format string) (string, error) {
	body := map[string]string{
		"name":         name,
		"version":      version,
		"model_format": format,
	}
	resp, err := c.perform(ctx, http.MethodPost, "/_plugins/_ml/models/_register", body)
	if err != nil {
		return "", err
	}
	return resp.taskID("register model")
}

// DeployModel starts deployment of a registered model and returns the task ID.
func (c *Client) DeployModel(ctx context.Context, modelID string) (string, error) {
	path := fmt.Sprintf("/_plugins/_ml/models/%s/_deploy", modelID)
	resp, err := c.perform(ctx, http.MethodPost, path, nil)
	if err != nil {
		return "", err
	}
	return resp.taskID("deploy model")
}

// GetTask fetches the status of an ML task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskStatus, error) {
	path := fmt.Sprintf("/_plugins/_ml/tasks/%s", taskID)
	resp, err := c.perform(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var status TaskStatus
	if err := json.Unmarshal(resp.body, &status); err != nil {
		return nil, fmt.Errorf("engine: decode task status: %w", err)
	}
	return &status, nil
}

// GetModelState fetches the model_state of a registered model
// (e.g. DEPLOYING, PARTIALLY_DEPLOYED, DEPLOYED).
func (c *Client) GetModelState(ctx context.Context, modelID string) (string, error) {
	path := fmt.Sprintf("/_plugins/_ml/models/%s", modelID)
	resp, err := c.perform(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	var parsed struct {
		ModelState string `json:"model_state"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return "", fmt.Errorf("engine: decode model status: %w", err)
	}
	return parsed.ModelState, nil
}

// rawResponse holds the status and body of a raw plugin request.
type rawResponse struct {
	status int
	body   []byte
}

// taskID extracts the task_id field common to asynchronous ML responses.
func (r *rawResponse) taskID(op string) (string, error) {
	var parsed struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(r.body, &parsed); err != nil {
		return "", fmt.Errorf("engine: decode %s response: %w", op, err)
	}
	if parsed.TaskID == "" {
		return "", fmt.Errorf("engine: %s response missing task_id", op)
	}
	return parsed.TaskID, nil
}

// perform issues a raw JSON request through the client transport and reads
// the full response body. Non-2xx statuses are returned as errors.
func (c *Client) perform(ctx context.Context, method, path string, body any) (*rawResponse, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("engine: marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, fmt.Errorf("engine: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.os.Perform(req)
	if err != nil {
		return nil, unreachable(err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("engine: read response body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("engine: %s %s returned status %d: %s", method, path, res.StatusCode, bytes.TrimSpace(data))
	}

	return &rawResponse{status: res.StatusCode, body: data}, nil
}
