// Package agent is the pull-based job executor: it polls the dispatch API,
// clones source, parses the repository's build manifest, runs ordered
// stages in containers, streams logs, and reports the terminal outcome.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethgrid/pester"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// DispatchClient talks to the server's agent-facing dispatch API over
// HTTP, retrying failed requests with exponential jitter backoff (3
// attempts). Every call is retried this way, including the non-idempotent
// stage and job transitions.
type DispatchClient struct {
	baseURL       string
	http          *pester.Client
	outboundCalls *prometheus.CounterVec
}

// NewDispatchClient returns a DispatchClient against baseURL, e.g.
// "https://foundry.example.com", recording every outbound call to
// outboundCalls if non-nil.
func NewDispatchClient(baseURL string, outboundCalls *prometheus.CounterVec) *DispatchClient {
	client := pester.NewExtendedClient(&http.Client{Timeout: 30 * time.Second})
	client.MaxRetries = 3
	client.Backoff = pester.ExponentialJitterBackoff
	return &DispatchClient{baseURL: baseURL, http: client, outboundCalls: outboundCalls}
}

func (c *DispatchClient) incrCall(outcome string) {
	if c.outboundCalls == nil {
		return
	}
	c.outboundCalls.With(prometheus.Labels{"target": "dispatch", "outcome": outcome}).Inc()
}

type claimRequest struct {
	AgentID string `json:"agent_id"`
}

type claimResponse struct {
	Job        *contracts.Job `json:"job"`
	ClaimToken string         `json:"claim_token"`
	CloneURL   string         `json:"clone_url"`
}

// Claim polls POST /claim. found is false when the queue was empty.
func (c *DispatchClient) Claim(ctx context.Context, agentID string) (job *contracts.Job, claimToken, cloneURL string, found bool, err error) {
	var resp claimResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/claim", claimRequest{AgentID: agentID}, &resp)
	if err != nil {
		return nil, "", "", false, err
	}
	if status == http.StatusNoContent {
		return nil, "", "", false, nil
	}
	return resp.Job, resp.ClaimToken, resp.CloneURL, true, nil
}

// StageDeclaration is one entry of the pipeline the agent registers with
// the server before executing anything.
type StageDeclaration struct {
	Name    string `json:"name"`
	Order   int    `json:"order"`
	Command string `json:"command"`
	Image   string `json:"image"`
}

// RegisterStages calls POST /job/:id/stages.
func (c *DispatchClient) RegisterStages(ctx context.Context, jobID int64, claimToken string, stages []StageDeclaration) error {
	body := struct {
		Stages []StageDeclaration `json:"stages"`
	}{Stages: stages}
	_, err := c.doJSONAuthed(ctx, http.MethodPost, fmt.Sprintf("/job/%d/stages", jobID), claimToken, body, nil)
	return err
}

// StartStage calls POST /job/:id/stage/:name/start.
func (c *DispatchClient) StartStage(ctx context.Context, jobID int64, claimToken, stageName string) error {
	_, err := c.doJSONAuthed(ctx, http.MethodPost, fmt.Sprintf("/job/%d/stage/%s/start", jobID, stageName), claimToken, struct{}{}, nil)
	return err
}

// LogLine is one buffered container output line. Seq is a monotonic
// per-stage counter assigned by the line streamer, letting the store dedupe
// a batch that gets re-sent after a retried request.
type LogLine struct {
	Seq  int64     `json:"seq"`
	Ts   time.Time `json:"ts"`
	Line string    `json:"line"`
}

// AppendLog calls POST /job/:id/stage/:name/log. Safe to retry: each line
// carries a monotonic sequence number, so a batch resent after a dropped
// response is discarded server-side instead of duplicated.
func (c *DispatchClient) AppendLog(ctx context.Context, jobID int64, claimToken, stageName string, lines []LogLine) error {
	body := struct {
		Lines []LogLine `json:"lines"`
	}{Lines: lines}
	_, err := c.doJSONAuthed(ctx, http.MethodPost, fmt.Sprintf("/job/%d/stage/%s/log", jobID, stageName), claimToken, body, nil)
	return err
}

// FinishStage calls POST /job/:id/stage/:name/finish.
func (c *DispatchClient) FinishStage(ctx context.Context, jobID int64, claimToken, stageName string, status contracts.StageStatus, exitCode *int, errMsg string) error {
	body := struct {
		Status   contracts.StageStatus `json:"status"`
		ExitCode *int                  `json:"exit_code,omitempty"`
		Error    string                `json:"error,omitempty"`
	}{Status: status, ExitCode: exitCode, Error: errMsg}
	_, err := c.doJSONAuthed(ctx, http.MethodPost, fmt.Sprintf("/job/%d/stage/%s/finish", jobID, stageName), claimToken, body, nil)
	return err
}

// Complete calls POST /job/:id/complete.
func (c *DispatchClient) Complete(ctx context.Context, jobID int64, claimToken string, status contracts.JobStatus, errMsg string) error {
	body := struct {
		Status contracts.JobStatus `json:"status"`
		Error  string              `json:"error,omitempty"`
	}{Status: status, Error: errMsg}
	_, err := c.doJSONAuthed(ctx, http.MethodPost, fmt.Sprintf("/job/%d/complete", jobID), claimToken, body, nil)
	return err
}

func (c *DispatchClient) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) (int, error) {
	return c.doJSONAuthed(ctx, method, path, "", reqBody, respBody)
}

func (c *DispatchClient) doJSONAuthed(ctx context.Context, method, path, claimToken string, reqBody, respBody interface{}) (int, error) {
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return 0, contracts.Wrap(contracts.KindFatal, err, "encoding dispatch request body")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, contracts.Wrap(contracts.KindFatal, err, "building dispatch request")
	}
	req.Header.Set("Content-Type", "application/json")
	if claimToken != "" {
		req.Header.Set("X-Claim-Token", claimToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.incrCall("transient_error")
		return 0, contracts.Wrap(contracts.KindTransient, err, "calling dispatch api %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		c.incrCall("not_owner")
		return resp.StatusCode, contracts.NewNotOwner("dispatch rejected claim token for %s", path)
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		c.incrCall("fatal_error")
		return resp.StatusCode, contracts.NewFatal("dispatch api %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if respBody != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			c.incrCall("decode_error")
			return resp.StatusCode, contracts.Wrap(contracts.KindFatal, err, "decoding dispatch response from %s", path)
		}
	}

	c.incrCall("ok")
	return resp.StatusCode, nil
}
