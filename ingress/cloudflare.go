package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethgrid/pester"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// CloudflareTunnel is the reference Controller: it drives a
// Cloudflare Tunnel's ingress rules and the zone's DNS records through the
// Cloudflare API over a retrying, jittered-backoff HTTP client.
type CloudflareTunnel struct {
	apiBase   string
	accountID string
	tunnelID  string
	zoneID    string
	apiToken  string
	http      *pester.Client
}

// NewCloudflareTunnel returns a CloudflareTunnel controller. apiBase is
// normally "https://api.cloudflare.com/client/v4" and is only overridable
// for tests.
func NewCloudflareTunnel(apiBase, accountID, tunnelID, zoneID, apiToken string) *CloudflareTunnel {
	client := pester.NewExtendedClient(&http.Client{Timeout: 15 * time.Second})
	client.MaxRetries = 3
	client.Backoff = pester.ExponentialJitterBackoff
	return &CloudflareTunnel{
		apiBase:   apiBase,
		accountID: accountID,
		tunnelID:  tunnelID,
		zoneID:    zoneID,
		apiToken:  apiToken,
		http:      client,
	}
}

type tunnelIngressRule struct {
	Hostname string `json:"hostname,omitempty"`
	Service  string `json:"service"`
}

type tunnelConfiguration struct {
	Config struct {
		Ingress []tunnelIngressRule `json:"ingress"`
	} `json:"config"`
}

// EnsureRoute adds or updates host's rule in the tunnel's ingress
// configuration, always leaving the required catch-all rule last.
func (c *CloudflareTunnel) EnsureRoute(ctx context.Context, host, target string) error {
	cfg, err := c.getTunnelConfiguration(ctx)
	if err != nil {
		return err
	}

	rules := make([]tunnelIngressRule, 0, len(cfg.Config.Ingress)+1)
	replaced := false
	for _, rule := range cfg.Config.Ingress {
		if rule.Hostname == "" {
			continue // drop the catch-all, it's re-appended below
		}
		if rule.Hostname == host {
			rules = append(rules, tunnelIngressRule{Hostname: host, Service: "http://" + target})
			replaced = true
			continue
		}
		rules = append(rules, rule)
	}
	if !replaced {
		rules = append(rules, tunnelIngressRule{Hostname: host, Service: "http://" + target})
	}
	rules = append(rules, tunnelIngressRule{Service: "http_status:404"})

	cfg.Config.Ingress = rules
	return c.putTunnelConfiguration(ctx, cfg)
}

// RemoveRoute drops host's rule from the tunnel's ingress configuration.
func (c *CloudflareTunnel) RemoveRoute(ctx context.Context, host string) error {
	cfg, err := c.getTunnelConfiguration(ctx)
	if err != nil {
		return err
	}

	rules := make([]tunnelIngressRule, 0, len(cfg.Config.Ingress))
	for _, rule := range cfg.Config.Ingress {
		if rule.Hostname == host {
			continue
		}
		rules = append(rules, rule)
	}
	cfg.Config.Ingress = rules
	return c.putTunnelConfiguration(ctx, cfg)
}

type dnsRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
}

type dnsListResponse struct {
	Result []dnsRecord `json:"result"`
}

// EnsureDNS creates or updates a proxied CNAME record for host pointing at
// canonical, e.g. "<tunnel-id>.cfargotunnel.com". Callers must call this
// after EnsureRoute per the Controller ordering guarantee.
func (c *CloudflareTunnel) EnsureDNS(ctx context.Context, host, canonical string) error {
	var existing dnsListResponse
	if _, err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/zones/%s/dns_records?type=CNAME&name=%s", c.zoneID, host), nil, &existing); err != nil {
		return err
	}

	record := dnsRecord{Type: "CNAME", Name: host, Content: canonical, Proxied: true}
	if len(existing.Result) > 0 {
		record.ID = existing.Result[0].ID
		_, err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/zones/%s/dns_records/%s", c.zoneID, record.ID), record, nil)
		return err
	}
	_, err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", c.zoneID), record, nil)
	return err
}

func (c *CloudflareTunnel) getTunnelConfiguration(ctx context.Context) (*tunnelConfiguration, error) {
	var cfg tunnelConfiguration
	path := fmt.Sprintf("/accounts/%s/cfd_tunnel/%s/configurations", c.accountID, c.tunnelID)
	if _, err := c.doJSON(ctx, http.MethodGet, path, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *CloudflareTunnel) putTunnelConfiguration(ctx context.Context, cfg *tunnelConfiguration) error {
	path := fmt.Sprintf("/accounts/%s/cfd_tunnel/%s/configurations", c.accountID, c.tunnelID)
	_, err := c.doJSON(ctx, http.MethodPut, path, cfg, nil)
	return err
}

func (c *CloudflareTunnel) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) (int, error) {
	var encoded []byte
	if reqBody != nil {
		var err error
		encoded, err = json.Marshal(reqBody)
		if err != nil {
			return 0, contracts.Wrap(contracts.KindFatal, err, "encoding cloudflare request body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, contracts.Wrap(contracts.KindFatal, err, "building cloudflare request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, contracts.Wrap(contracts.KindTransient, err, "calling cloudflare api %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, contracts.NewFatal("cloudflare api %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return resp.StatusCode, contracts.Wrap(contracts.KindFatal, err, "decoding cloudflare response from %s", path)
		}
	}
	return resp.StatusCode, nil
}
