// Package ingress abstracts the tunneling/DNS provider the deployment
// reconciler publishes routes through. The interface is
// provider-agnostic; concrete bindings live alongside it in this package.
package ingress

import "context"

// Controller is the three-operation interface defines. Every
// operation is idempotent: calling it repeatedly with the same arguments
// is a no-op.
type Controller interface {
	// EnsureRoute routes host's HTTPS traffic to http://target, where
	// target is "container_name:port" reachable within the tunnel
	// runtime.
	EnsureRoute(ctx context.Context, host, target string) error
	// RemoveRoute tears down a previously published route.
	RemoveRoute(ctx context.Context, host string) error
	// EnsureDNS creates or updates a CNAME record pointing host at
	// canonical. Callers must call this after EnsureRoute; the reverse
	// order can cause a brief 502 window.
	EnsureDNS(ctx context.Context, host, canonical string) error
}
