// Package githubapi talks to the GitHub REST API as a GitHub App,
// reporting commit build status back to the code host the way a hosted CI
// provider does.
package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog/log"
	"github.com/sethgrid/pester"
)

// CommitStatus is the state reported through the Statuses API.
type CommitStatus string

const (
	StatusPending CommitStatus = "pending"
	StatusSuccess CommitStatus = "success"
	StatusFailure CommitStatus = "failure"
	StatusError   CommitStatus = "error"
)

// Config holds the GitHub App identity used to mint installation tokens.
// InstallationID is fixed per deployment rather than resolved dynamically,
// since a Foundry agent only ever reports status for the app installation
// its operator configured it against.
type Config struct {
	AppID          string
	InstallationID string
	PrivateKeyPath string
}

// Enabled reports whether cfg carries enough to authenticate as the app.
func (c Config) Enabled() bool {
	return c.AppID != "" && c.InstallationID != "" && c.PrivateKeyPath != ""
}

// Client reports commit build status to GitHub.
//go:generate mockgen -package=githubapi -destination ./mock.go -source=client.go
type Client interface {
	CreateCommitStatus(ctx context.Context, owner, repo, sha string, status CommitStatus, description, targetURL string) error
}

// NewClient returns a Client authenticating as the GitHub App described by
// cfg. Call sites should check cfg.Enabled() first; an unconfigured client
// fails every call rather than silently no-opping, so a caller that forgot
// to check finds out immediately.
func NewClient(cfg Config) Client {
	httpClient := pester.NewExtendedClient(&http.Client{Timeout: 10 * time.Second})
	httpClient.MaxRetries = 3
	httpClient.Backoff = pester.ExponentialJitterBackoff
	return &client{cfg: cfg, http: httpClient}
}

type client struct {
	cfg  Config
	http *pester.Client
}

type tokenResponse struct {
	Token string `json:"token"`
}

// appToken mints a short-lived JWT identifying the GitHub App itself,
// per https://docs.github.com/en/apps/creating-github-apps/authenticating-with-a-github-app/generating-a-json-web-token-jwt-for-a-github-app.
func (c *client) appToken() (string, error) {
	pemBytes, err := os.ReadFile(c.cfg.PrivateKeyPath)
	if err != nil {
		return "", fmt.Errorf("reading github app private key: %w", err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return "", fmt.Errorf("parsing github app private key: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Add(-60 * time.Second).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": c.cfg.AppID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(privateKey)
}

// installationToken exchanges the app-level JWT for a token scoped to the
// app's installation, valid for one hour.
func (c *client) installationToken(ctx context.Context) (string, error) {
	appToken, err := c.appToken()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("https://api.github.com/app/installations/%s/access_tokens", c.cfg.InstallationID)
	status, body, err := c.do(ctx, http.MethodPost, url, "Bearer", appToken, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("requesting installation token returned %d: %s", status, string(body))
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding installation token response: %w", err)
	}
	return resp.Token, nil
}

type createStatusRequest struct {
	State       string `json:"state"`
	TargetURL   string `json:"target_url,omitempty"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context"`
}

// CreateCommitStatus posts a build status against sha, in the "foundry"
// status context, so a repository can require it pass before merging.
func (c *client) CreateCommitStatus(ctx context.Context, owner, repo, sha string, status CommitStatus, description, targetURL string) error {
	if !c.cfg.Enabled() {
		return fmt.Errorf("github app reporting not configured")
	}

	token, err := c.installationToken(ctx)
	if err != nil {
		return fmt.Errorf("minting installation token for %s/%s: %w", owner, repo, err)
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/statuses/%s", owner, repo, sha)
	body := createStatusRequest{State: string(status), TargetURL: targetURL, Description: description, Context: "foundry"}

	statusCode, respBody, err := c.do(ctx, http.MethodPost, url, "token", token, body)
	if err != nil {
		return err
	}
	if statusCode != http.StatusCreated {
		return fmt.Errorf("creating commit status for %s/%s@%s returned %d: %s", owner, repo, sha, statusCode, string(respBody))
	}
	return nil
}

func (c *client) do(ctx context.Context, method, url, authScheme, authToken string, params interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding github api request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("building github api request: %w", err)
	}

	if span := opentracing.SpanFromContext(ctx); span != nil {
		req = req.WithContext(opentracing.ContextWithSpan(req.Context(), span))
	}

	req.Header.Set("Authorization", authScheme+" "+authToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "foundry-agent")
	if params != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("Calling github api failed")
		return 0, nil, fmt.Errorf("calling github api %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading github api response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
