package ingress

import "context"

// Mock is an in-memory Controller for tests that exercise the deployment
// reconciler without a real tunnel provider.
type Mock struct {
	Routes map[string]string
	DNS    map[string]string
}

// NewMock returns an empty Mock.
func NewMock() *Mock {
	return &Mock{Routes: map[string]string{}, DNS: map[string]string{}}
}

func (m *Mock) EnsureRoute(ctx context.Context, host, target string) error {
	m.Routes[host] = target
	return nil
}

func (m *Mock) RemoveRoute(ctx context.Context, host string) error {
	delete(m.Routes, host)
	return nil
}

func (m *Mock) EnsureDNS(ctx context.Context, host, canonical string) error {
	if _, routed := m.Routes[host]; !routed {
		return errNoRoute(host)
	}
	m.DNS[host] = canonical
	return nil
}

type errNoRoute string

func (e errNoRoute) Error() string {
	return "ensureDNS called for " + string(e) + " before EnsureRoute"
}

var _ Controller = (*Mock)(nil)
