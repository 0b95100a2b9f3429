// Package deploy reconciles a repository's [deploy] manifest block against
// running containers, composing the container runtime for docker-cli
// primitives and an ingress.Controller for publishing the result.
package deploy

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Lucas-William-Bateson/foundry/container"
	"github.com/Lucas-William-Bateson/foundry/ingress"
	"github.com/Lucas-William-Bateson/foundry/manifest"
)

// dockerRuntime is the subset of container.Runtime the reconciler drives,
// narrowed to a local interface so tests can substitute a fake.
type dockerRuntime interface {
	BuildImage(ctx context.Context, dir, dockerfile, tag string) error
	StopAndRemove(ctx context.Context, name string) error
	RunDetached(ctx context.Context, name, image, network string, port int, env map[string]string) error
	ComposeUp(ctx context.Context, dir, composeFile, project string) error
}

// Request is one reconciliation attempt for a single repository's deploy
// stage. Workspace is the already-cloned checkout the deploy stage runs
// from; DockerFile and DefaultImage mirror the pipeline's [build] block:
// container-mode deploys build their own foundry/<name>:<sha> image from
// DockerFile when it is set, and otherwise run DefaultImage.
type Request struct {
	Manifest     *manifest.Deploy
	Workspace    string
	GitSHA       string
	DockerFile   string
	DefaultImage string
}

// Reconciler drives docker (or docker compose) to match a Request's
// declared desired state, then publishes the result through an
// ingress.Controller.
type Reconciler struct {
	runtime  dockerRuntime
	ingress  ingress.Controller
	network  string
	rootHost string
}

// NewReconciler returns a Reconciler that runs deployed containers on
// network, publishing routing and a DNS record pointing at rootHost for any
// deployment that declares an explicit domain.
func NewReconciler(runtime *container.Runtime, controller ingress.Controller, network, rootHost string) *Reconciler {
	return &Reconciler{runtime: runtime, ingress: controller, network: network, rootHost: rootHost}
}

// Reconcile brings the deployment named in req.Manifest to the state
// described by the just-built commit at req.GitSHA. Compose-mode deploys
// (compose_file set) delegate entirely to docker compose, which owns its
// own container lifecycle and networking; container-mode deploys run a
// single container that this Reconciler manages directly: build, stop the
// previous instance, start the new one, then publish routing.
//
// The stop-then-start ordering means there is a brief window with no
// container serving traffic; a highly-available rollout would need a
// load balancer and a second reconciler pass this manages without.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) error {
	if req.Manifest == nil {
		return fmt.Errorf("reconcile called with no [deploy] block")
	}

	if req.Manifest.ComposeFile != "" {
		return r.reconcileCompose(ctx, req)
	}
	return r.reconcileContainer(ctx, req)
}

func (r *Reconciler) reconcileCompose(ctx context.Context, req Request) error {
	composePath := filepath.Join(req.Workspace, req.Manifest.ComposeFile)
	if err := r.runtime.ComposeUp(ctx, req.Workspace, composePath, req.Manifest.Name); err != nil {
		return fmt.Errorf("compose deploy %s: %w", req.Manifest.Name, err)
	}
	return r.publish(ctx, req.Manifest)
}

func (r *Reconciler) reconcileContainer(ctx context.Context, req Request) error {
	image := req.DefaultImage
	if req.DockerFile != "" {
		tag := fmt.Sprintf("foundry/%s:%s", req.Manifest.Name, req.GitSHA)
		if err := r.runtime.BuildImage(ctx, req.Workspace, req.DockerFile, tag); err != nil {
			return fmt.Errorf("building deploy image for %s: %w", req.Manifest.Name, err)
		}
		image = tag
	}
	if image == "" {
		return fmt.Errorf("deploy %s declares no dockerfile and no build image to run", req.Manifest.Name)
	}

	containerName := "foundry-" + req.Manifest.Name
	if err := r.runtime.StopAndRemove(ctx, containerName); err != nil {
		return fmt.Errorf("stopping previous instance of %s: %w", req.Manifest.Name, err)
	}

	env := map[string]string{"FOUNDRY_GIT_SHA": req.GitSHA}
	if err := r.runtime.RunDetached(ctx, containerName, image, r.network, req.Manifest.Port, env); err != nil {
		return fmt.Errorf("starting %s: %w", req.Manifest.Name, err)
	}

	target := containerName
	if req.Manifest.Port > 0 {
		target = fmt.Sprintf("%s:%d", containerName, req.Manifest.Port)
	}
	return r.publishRoute(ctx, req.Manifest, target)
}

// publish resolves compose-mode's target as "<deploy-name>:<port>" on the
// shared network, since docker compose owns the container's actual name.
func (r *Reconciler) publish(ctx context.Context, m *manifest.Deploy) error {
	target := m.Name
	if m.Port > 0 {
		target = fmt.Sprintf("%s:%d", m.Name, m.Port)
	}
	return r.publishRoute(ctx, m, target)
}

// publishRoute updates ingress routing and DNS for the deployment, but only
// when the manifest declares an explicit domain: a deploy with no domain is
// reachable only on the internal network and gets no public route.
func (r *Reconciler) publishRoute(ctx context.Context, m *manifest.Deploy, target string) error {
	if r.ingress == nil || m.Domain == "" {
		return nil
	}
	if err := r.ingress.EnsureRoute(ctx, m.Domain, target); err != nil {
		return fmt.Errorf("publishing route for %s: %w", m.Name, err)
	}
	if err := r.ingress.EnsureDNS(ctx, m.Domain, r.rootHost); err != nil {
		return fmt.Errorf("publishing dns for %s: %w", m.Name, err)
	}
	return nil
}
