package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Data-Integrities/backend-ai/internal/models"
)

// AgentClient talks to the HTTP API of a remote agent.
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAgentClient(baseURL string, timeout time.Duration) *AgentClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AgentClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type agentStatusResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Version string `json:"version"`
}

// Observe fetches /api/status. An agent that cannot be reached is reported
// as unknown with the transport error.
func (c *AgentClient) Observe(ctx context.Context) (Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return Observation{State: models.ActorUnknown}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Observation{State: models.ActorUnknown}, ctx.Err()
		}
		return Observation{State: models.ActorUnknown, Detail: "unreachable"}, fmt.Errorf("failed to reach agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Observation{State: models.ActorUnknown}, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(body))
	}

	var status agentStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Observation{State: models.ActorUnknown}, fmt.Errorf("failed to decode status: %w", err)
	}

	raw := status.Status
	if raw == "" {
		raw = status.State
	}
	state := ParseState(raw)
	if raw == "" {
		// a reachable agent without a status field is up
		state = models.ActorRunning
	}
	return Observation{State: state, Detail: raw}, nil
}

// Dispatch posts the operation to /api/execute. The agent reports completion
// through the callback url.
func (c *AgentClient) Dispatch(ctx context.Context, op Operation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/execute", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Execution-ID", op.ExecutionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
