// Package container shells out to the docker CLI on behalf of the agent
// executor and the deployment reconciler. No client library available
// wraps the Docker Engine API directly, so this package is one of the
// few built on os/exec rather than a third-party client; see DESIGN.md.
package container

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// WorkspaceMount is the conventional in-container path a job's workspace
// is mounted at.
const WorkspaceMount = "/workspace"

// Runtime is a docker-cli-backed container driver.
type Runtime struct{}

// NewRuntime returns a Runtime.
func NewRuntime() *Runtime { return &Runtime{} }

// RunStage runs image with command inside dir mounted at WorkspaceMount,
// merging stdout/stderr into out, and returns the container's exit code.
// A stageCtx deadline triggers `docker stop` with a 10 second grace
// period, which itself sends SIGTERM then SIGKILL, implementing timeout
// behavior without a bespoke signal dance here.
func (r *Runtime) RunStage(ctx context.Context, name, image, dir string, env map[string]string, command string, out io.Writer) (int, error) {
	args := []string{"run", "--rm", "--name", name,
		"-v", dir + ":" + WorkspaceMount,
		"-w", WorkspaceMount,
	}
	for k, v := range env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, image, "sh", "-c", command)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Cancel = func() error {
		return exec.Command("docker", "stop", "--time", "10", name).Run()
	}
	cmd.WaitDelay = 15 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, contracts.Wrap(contracts.KindFatal, err, "attaching stdout for stage %s", name)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return -1, contracts.Wrap(contracts.KindFatal, err, "starting container for stage %s", name)
	}

	if _, err := io.Copy(out, bufio.NewReader(stdout)); err != nil {
		return -1, contracts.Wrap(contracts.KindFatal, err, "streaming output for stage %s", name)
	}

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, contracts.Wrap(contracts.KindTransient, err, "running container for stage %s", name)
}

// BuildImage runs `docker build` against dockerfile (relative to dir),
// tagging the result. Used both for [build].dockerfile-mode CI stages and
// the deployment reconciler's image build step.
func (r *Runtime) BuildImage(ctx context.Context, dir, dockerfile, tag string) error {
	args := []string{"build", "-f", dockerfile, "-t", tag, dir}
	cmd := exec.CommandContext(ctx, "docker", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return contracts.Wrap(contracts.KindTransient, err, "building image %s: %s", tag, string(output))
	}
	return nil
}

// StopAndRemove stops and removes a container by name, tolerating the
// "no such container" case since the deploy reconciler calls this
// unconditionally before every recreate.
func (r *Runtime) StopAndRemove(ctx context.Context, name string) error {
	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_ = exec.CommandContext(stopCtx, "docker", "stop", name).Run()
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", name).Run()
	return nil
}

// RunDetached starts a long-running container under name with
// restart=unless-stopped, publishing port internally on the shared foundry
// network. Used by container-mode deploys; compose-mode deploys let
// docker compose manage their own containers.
func (r *Runtime) RunDetached(ctx context.Context, name, image, network string, port int, env map[string]string) error {
	args := []string{"run", "-d", "--name", name, "--restart", "unless-stopped", "--network", network}
	for k, v := range env {
		args = append(args, "-e", k+"="+v)
	}
	if port > 0 {
		args = append(args, "--expose", strconv.Itoa(port))
	}
	args = append(args, image)

	cmd := exec.CommandContext(ctx, "docker", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return contracts.Wrap(contracts.KindTransient, err, "starting container %s: %s", name, string(output))
	}
	return nil
}

// ComposeUp runs the equivalent of "docker compose up --force-recreate
// --detach --build" scoped to project, for compose-file deploy mode.
func (r *Runtime) ComposeUp(ctx context.Context, dir, composeFile, project string) error {
	args := []string{"compose", "-f", composeFile, "-p", project, "up", "--force-recreate", "--detach", "--build"}
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return contracts.Wrap(contracts.KindTransient, err, "compose up for %s: %s", project, string(output))
	}
	return nil
}
