package ingress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEnforcesRouteBeforeDNS(t *testing.T) {
	m := NewMock()
	err := m.EnsureDNS(context.Background(), "app.example.com", "tunnel.cfargotunnel.com")
	assert.Error(t, err)
}

func TestMockRoundTrip(t *testing.T) {
	m := NewMock()
	require.NoError(t, m.EnsureRoute(context.Background(), "app.example.com", "app:8080"))
	require.NoError(t, m.EnsureDNS(context.Background(), "app.example.com", "tunnel.cfargotunnel.com"))
	assert.Equal(t, "app:8080", m.Routes["app.example.com"])
	assert.Equal(t, "tunnel.cfargotunnel.com", m.DNS["app.example.com"])

	require.NoError(t, m.RemoveRoute(context.Background(), "app.example.com"))
	assert.NotContains(t, m.Routes, "app.example.com")
}
