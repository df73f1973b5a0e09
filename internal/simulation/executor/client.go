package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	simulation "debrisflow-monitor/internal/simulation/domain"
)

// ErrJobNotFound indicates the engine no longer knows the job.
var ErrJobNotFound = errors.New("executor: job not found")

// JobState is the engine-side lifecycle of a submitted job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCanceled  JobState = "canceled"
)

// JobStatus is one engine status snapshot.
type JobStatus struct {
	State  JobState
	Error  string
	Result *simulation.Result
}

// Engine submits and tracks runout jobs.
type Engine interface {
	Submit(ctx context.Context, run simulation.Run) (string, error)
	Status(ctx context.Context, engineJobID string) (JobStatus, error)
	Cancel(ctx context.Context, engineJobID string) error
}

// Client is a REST client for the runout simulation engine.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient constructs an engine client.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("executor: empty base url")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Submit queues a job and returns the engine job id.
func (c *Client) Submit(ctx context.Context, run simulation.Run) (string, error) {
	if run.LocationID == "" {
		return "", errors.New("executor: empty location id")
	}
	body := map[string]any{
		"externalId": run.ID,
		"locationId": run.LocationID,
		"parameters": map[string]any{
			"friction_model":      run.Params.FrictionModel,
			"friction_mu":         run.Params.FrictionMu,
			"mass_to_drag_m":      run.Params.MassToDragM,
			"iterations":          run.Params.Iterations,
			"slope_threshold_deg": run.Params.SlopeThresholdDeg,
			"walk_exponent":       run.Params.WalkExponent,
			"persistence":         run.Params.Persistence,
		},
	}
	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/jobs", body, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", errors.New("executor: engine returned empty job id")
	}
	return resp.JobID, nil
}

// Status polls one job.
func (c *Client) Status(ctx context.Context, engineJobID string) (JobStatus, error) {
	if engineJobID == "" {
		return JobStatus{}, errors.New("executor: empty job id")
	}
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+engineJobID, nil, &resp); err != nil {
		return JobStatus{}, err
	}
	status := JobStatus{State: JobState(resp.State), Error: resp.Error}
	if resp.Result != nil {
		status.Result = &simulation.Result{
			AffectedAreaM2: resp.Result.AffectedAreaM2,
			MaxDepthM:      resp.Result.MaxDepthM,
			MaxVelocityMS:  resp.Result.MaxVelocityMS,
			RiskLevel:      resp.Result.RiskLevel,
			BoundaryWKT:    resp.Result.BoundaryWKT,
		}
	}
	return status, nil
}

// Cancel asks the engine to abort a job. Canceling an already finished job is
// not an error.
func (c *Client) Cancel(ctx context.Context, engineJobID string) error {
	if engineJobID == "" {
		return errors.New("executor: empty job id")
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/jobs/"+engineJobID+"/cancel", nil, nil)
	if errors.Is(err, ErrJobNotFound) {
		return nil
	}
	return err
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type statusResponse struct {
	State  string        `json:"state"`
	Error  string        `json:"error"`
	Result *resultFields `json:"result"`
}

type resultFields struct {
	AffectedAreaM2 float64 `json:"affectedAreaM2"`
	MaxDepthM      float64 `json:"maxDepthM"`
	MaxVelocityMS  float64 `json:"maxVelocityMs"`
	RiskLevel      string  `json:"riskLevel"`
	BoundaryWKT    string  `json:"boundaryWkt"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("executor: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
