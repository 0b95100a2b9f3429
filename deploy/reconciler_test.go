package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lucas-William-Bateson/foundry/ingress"
	"github.com/Lucas-William-Bateson/foundry/manifest"
)

type fakeRuntime struct {
	built     []string
	stopped   []string
	detached  []string
	composed  []string
	buildErr  error
	detachErr error
}

func (f *fakeRuntime) BuildImage(ctx context.Context, dir, dockerfile, tag string) error {
	if f.buildErr != nil {
		return f.buildErr
	}
	f.built = append(f.built, tag)
	return nil
}

func (f *fakeRuntime) StopAndRemove(ctx context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeRuntime) RunDetached(ctx context.Context, name, image, network string, port int, env map[string]string) error {
	if f.detachErr != nil {
		return f.detachErr
	}
	f.detached = append(f.detached, name)
	return nil
}

func (f *fakeRuntime) ComposeUp(ctx context.Context, dir, composeFile, project string) error {
	f.composed = append(f.composed, project)
	return nil
}

func TestReconcileContainerModeBuildsStopsStartsAndSkipsPublishWithoutDomain(t *testing.T) {
	runtime := &fakeRuntime{}
	mock := ingress.NewMock()
	r := &Reconciler{runtime: runtime, ingress: mock, network: "foundry", rootHost: "apps.example.com"}

	req := Request{
		Manifest:   &manifest.Deploy{Name: "widgets-api", Port: 8080},
		Workspace:  "/work/widgets",
		GitSHA:     "abc123",
		DockerFile: "Dockerfile",
	}

	err := r.Reconcile(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"foundry/widgets-api:abc123"}, runtime.built)
	assert.Equal(t, []string{"foundry-widgets-api"}, runtime.stopped)
	assert.Equal(t, []string{"foundry-widgets-api"}, runtime.detached)
	assert.Empty(t, mock.Routes)
	assert.Empty(t, mock.DNS)
}

func TestReconcileContainerModeUsesExplicitDomain(t *testing.T) {
	runtime := &fakeRuntime{}
	mock := ingress.NewMock()
	r := &Reconciler{runtime: runtime, ingress: mock, network: "foundry", rootHost: "apps.example.com"}

	req := Request{
		Manifest:     &manifest.Deploy{Name: "widgets-api", Domain: "widgets.example.org", Port: 8080},
		Workspace:    "/work/widgets",
		GitSHA:       "abc123",
		DefaultImage: "widgets:latest",
	}

	require.NoError(t, r.Reconcile(context.Background(), req))
	assert.Contains(t, mock.Routes, "widgets.example.org")
	assert.Equal(t, "apps.example.com", mock.DNS["widgets.example.org"])
}

func TestReconcileComposeModeDelegatesToComposeUp(t *testing.T) {
	runtime := &fakeRuntime{}
	mock := ingress.NewMock()
	r := &Reconciler{runtime: runtime, ingress: mock, network: "foundry", rootHost: "apps.example.com"}

	req := Request{
		Manifest:  &manifest.Deploy{Name: "widgets-stack", ComposeFile: "docker-compose.yml", Port: 3000},
		Workspace: "/work/widgets",
		GitSHA:    "abc123",
	}

	require.NoError(t, r.Reconcile(context.Background(), req))
	assert.Equal(t, []string{"widgets-stack"}, runtime.composed)
	assert.Empty(t, mock.Routes)
}

func TestReconcileComposeModeWithDomainPublishesOnComposeTarget(t *testing.T) {
	runtime := &fakeRuntime{}
	mock := ingress.NewMock()
	r := &Reconciler{runtime: runtime, ingress: mock, network: "foundry", rootHost: "apps.example.com"}

	req := Request{
		Manifest:  &manifest.Deploy{Name: "widgets-stack", Domain: "stack.example.org", ComposeFile: "docker-compose.yml", Port: 3000},
		Workspace: "/work/widgets",
		GitSHA:    "abc123",
	}

	require.NoError(t, r.Reconcile(context.Background(), req))
	assert.Equal(t, "widgets-stack:3000", mock.Routes["stack.example.org"])
}

func TestReconcileContainerModeWithoutImageOrDockerfileFails(t *testing.T) {
	r := &Reconciler{runtime: &fakeRuntime{}, ingress: ingress.NewMock(), network: "foundry", rootHost: "apps.example.com"}

	req := Request{
		Manifest:  &manifest.Deploy{Name: "widgets-api", Port: 8080},
		Workspace: "/work/widgets",
		GitSHA:    "abc123",
	}

	err := r.Reconcile(context.Background(), req)
	assert.Error(t, err)
}

func TestReconcileNilManifestFails(t *testing.T) {
	r := &Reconciler{runtime: &fakeRuntime{}, ingress: ingress.NewMock()}
	err := r.Reconcile(context.Background(), Request{})
	assert.Error(t, err)
}
