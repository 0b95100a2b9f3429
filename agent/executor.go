package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/container"
	"github.com/Lucas-William-Bateson/foundry/contracts"
	"github.com/Lucas-William-Bateson/foundry/deploy"
	"github.com/Lucas-William-Bateson/foundry/githubapi"
	"github.com/Lucas-William-Bateson/foundry/manifest"
)

// Options configures an Executor.
type Options struct {
	AgentID        string
	WorkspaceDir   string
	Workers        int
	PollInterval   time.Duration
	DefaultTimeout time.Duration
}

// dispatcher is the subset of DispatchClient the executor drives, narrowed
// to a local interface so tests can substitute a fake instead of an HTTP
// server.
type dispatcher interface {
	Claim(ctx context.Context, agentID string) (job *contracts.Job, claimToken, cloneURL string, found bool, err error)
	RegisterStages(ctx context.Context, jobID int64, claimToken string, stages []StageDeclaration) error
	StartStage(ctx context.Context, jobID int64, claimToken, stageName string) error
	AppendLog(ctx context.Context, jobID int64, claimToken, stageName string, lines []LogLine) error
	FinishStage(ctx context.Context, jobID int64, claimToken, stageName string, status contracts.StageStatus, exitCode *int, errMsg string) error
	Complete(ctx context.Context, jobID int64, claimToken string, status contracts.JobStatus, errMsg string) error
}

// ciRuntime is the subset of container.Runtime the executor drives,
// narrowed the same way deploy.dockerRuntime narrows it for the
// reconciler, so tests can substitute a fake instead of shelling out to
// docker.
type ciRuntime interface {
	RunStage(ctx context.Context, name, image, dir string, env map[string]string, command string, out io.Writer) (int, error)
	BuildImage(ctx context.Context, dir, dockerfile, tag string) error
}

// reconciler is the subset of *deploy.Reconciler the executor drives,
// narrowed to a local interface so tests can substitute a fake instead of
// a real container runtime and ingress controller.
type reconciler interface {
	Reconcile(ctx context.Context, req deploy.Request) error
}

// Executor runs Options.Workers concurrent worker loops, each claiming a
// job from the DispatchClient, running it to completion, and looping.
type Executor struct {
	opts           Options
	dispatch       dispatcher
	runtime        ciRuntime
	reconciler     reconciler
	statusReporter githubapi.Client

	repoMu sync.Map // repository id -> *sync.Mutex, serializes deploy-mode jobs per repo
}

// NewExecutor wires a poll-based executor. reconciler may be nil in tests
// that never exercise a [deploy] manifest. statusReporter may be nil, in
// which case commit status reporting is skipped entirely.
func NewExecutor(opts Options, dispatch *DispatchClient, deployReconciler *deploy.Reconciler, statusReporter githubapi.Client) *Executor {
	e := &Executor{opts: opts, dispatch: dispatch, runtime: container.NewRuntime(), statusReporter: statusReporter}
	if deployReconciler != nil {
		e.reconciler = deployReconciler
	}
	return e
}

// Run starts opts.Workers worker goroutines and blocks until ctx is
// cancelled.
func (e *Executor) Run(ctx context.Context) {
	workers := e.opts.Workers
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (e *Executor) workerLoop(ctx context.Context, worker int) {
	empty := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if empty {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.opts.PollInterval):
			}
		}

		job, claimToken, cloneURL, found, err := e.dispatch.Claim(ctx, e.opts.AgentID)
		if err != nil {
			log.Warn().Err(err).Int("worker", worker).Msg("Claim failed")
			empty = true
			continue
		}
		if !found {
			empty = true
			continue
		}
		empty = false

		log.Info().Int64("jobId", job.ID).Int("worker", worker).Msg("Claimed job")
		e.runJob(ctx, job, claimToken, cloneURL)
	}
}

// runJob drives a single claimed job from workspace creation through
// cloning, manifest parsing, stage execution, optional deploy, and
// reporting the terminal outcome.
func (e *Executor) runJob(ctx context.Context, job *contracts.Job, claimToken, cloneURL string) {
	workspace, err := NewWorkspace(e.opts.WorkspaceDir, job.ID)
	if err != nil {
		log.Error().Err(err).Int64("jobId", job.ID).Msg("Creating workspace failed")
		_ = e.dispatch.Complete(ctx, job.ID, claimToken, contracts.JobFailed, err.Error())
		return
	}
	defer workspace.Cleanup()

	e.reportCommitStatus(ctx, job, cloneURL, githubapi.StatusPending, "Foundry build running")

	resolvedSHA, cloneErr := e.runCloneStage(ctx, job, claimToken, cloneURL, workspace)
	if cloneErr != nil {
		_ = e.dispatch.Complete(ctx, job.ID, claimToken, contracts.JobFailed, cloneErr.Error())
		e.reportCommitStatus(ctx, job, cloneURL, githubapi.StatusFailure, cloneErr.Error())
		return
	}
	if resolvedSHA != job.GitSHA {
		job.GitSHA = resolvedSHA
	}

	m, err := manifest.ParseFile(workspace.ManifestPath())
	if err != nil {
		log.Error().Err(err).Int64("jobId", job.ID).Msg("Parsing foundry.toml failed")
		_ = e.dispatch.Complete(ctx, job.ID, claimToken, contracts.JobFailed, err.Error())
		e.reportCommitStatus(ctx, job, cloneURL, githubapi.StatusFailure, err.Error())
		return
	}

	if err := e.runBuildImageStage(ctx, job, claimToken, workspace, m); err != nil {
		log.Error().Err(err).Int64("jobId", job.ID).Msg("Building CI image failed")
		_ = e.dispatch.Complete(ctx, job.ID, claimToken, contracts.JobFailed, err.Error())
		e.reportCommitStatus(ctx, job, cloneURL, githubapi.StatusFailure, err.Error())
		return
	}

	if err := e.dispatch.RegisterStages(ctx, job.ID, claimToken, stageDeclarations(m)); err != nil {
		log.Error().Err(err).Int64("jobId", job.ID).Msg("Registering stages failed")
		_ = e.dispatch.Complete(ctx, job.ID, claimToken, contracts.JobFailed, err.Error())
		e.reportCommitStatus(ctx, job, cloneURL, githubapi.StatusFailure, err.Error())
		return
	}

	status, failureMessage := e.runStages(ctx, job, claimToken, workspace, m)

	if status == contracts.JobSuccess {
		e.reportCommitStatus(ctx, job, cloneURL, githubapi.StatusSuccess, "Foundry build passed")
	} else {
		e.reportCommitStatus(ctx, job, cloneURL, githubapi.StatusFailure, failureMessage)
	}

	if err := e.dispatch.Complete(ctx, job.ID, claimToken, status, failureMessage); err != nil {
		log.Error().Err(err).Int64("jobId", job.ID).Msg("Reporting job completion failed")
	}
}

func stageDeclarations(m *manifest.Manifest) []StageDeclaration {
	declarations := make([]StageDeclaration, len(m.Stages))
	for i, s := range m.Stages {
		declarations[i] = StageDeclaration{Name: s.Name, Order: i, Command: s.Command, Image: s.Image}
	}
	return declarations
}

// runStages runs every manifest-declared stage in order, halting at the
// first failure, then runs the deploy stage if every prior stage succeeded
// and the manifest declares one. It has no clone or manifest-parsing
// dependency of its own, so it is the unit under test for pipeline
// sequencing and deploy-stage synthesis.
func (e *Executor) runStages(ctx context.Context, job *contracts.Job, claimToken string, workspace *Workspace, m *manifest.Manifest) (contracts.JobStatus, string) {
	for _, stage := range m.Stages {
		exitCode, err := e.runStage(ctx, job, claimToken, workspace, stage, m.Env)
		if err != nil {
			return contracts.JobFailed, err.Error()
		}
		if exitCode != 0 {
			return contracts.JobFailed, "stage " + stage.Name + " exited " + strconv.Itoa(exitCode)
		}
	}

	if m.Deploy != nil {
		if err := e.runDeploy(ctx, job, claimToken, workspace, m); err != nil {
			return contracts.JobFailed, err.Error()
		}
	}

	return contracts.JobSuccess, ""
}

// runCloneStage runs the synthetic "clone" stage that checks out the
// job's commit before any manifest-declared stage can run.
func (e *Executor) runCloneStage(ctx context.Context, job *contracts.Job, claimToken, cloneURL string, workspace *Workspace) (string, error) {
	const stageName = "clone"

	if err := e.dispatch.RegisterStages(ctx, job.ID, claimToken, []StageDeclaration{{Name: stageName, Order: -2, Command: "git clone", Image: "n/a"}}); err != nil {
		return "", contracts.Wrap(contracts.KindFatal, err, "registering clone stage")
	}
	if err := e.dispatch.StartStage(ctx, job.ID, claimToken, stageName); err != nil {
		return "", contracts.Wrap(contracts.KindFatal, err, "starting clone stage")
	}

	streamer := newLineStreamer(func(ctx context.Context, lines []LogLine) error {
		return e.dispatch.AppendLog(ctx, job.ID, claimToken, stageName, lines)
	})
	go streamer.Run(ctx)

	var progress bytes.Buffer
	resolvedSHA, err := clone(ctx, cloneURL, job.GitRef, job.GitSHA, workspace.Dir, &progress)
	for _, line := range splitLines(progress.String()) {
		streamer.Push(line)
	}
	streamer.Close()

	if err != nil {
		exitCode := 1
		_ = e.dispatch.FinishStage(ctx, job.ID, claimToken, stageName, contracts.StageFailed, &exitCode, err.Error())
		return "", err
	}

	exitCode := 0
	if err := e.dispatch.FinishStage(ctx, job.ID, claimToken, stageName, contracts.StageSuccess, &exitCode, ""); err != nil {
		return "", contracts.Wrap(contracts.KindFatal, err, "finishing clone stage")
	}
	return resolvedSHA, nil
}

// runBuildImageStage runs `docker build` against m.Build.Dockerfile when the
// manifest is in dockerfile mode, then stamps the resulting tag onto every
// stage that declared no image of its own (which, per manifest.validate,
// is every stage when [build] carries no image). Image-mode manifests have
// nothing to build and return immediately.
func (e *Executor) runBuildImageStage(ctx context.Context, job *contracts.Job, claimToken string, workspace *Workspace, m *manifest.Manifest) error {
	if m.Build.Dockerfile == "" {
		return nil
	}

	const stageName = "build-image"
	if err := e.dispatch.RegisterStages(ctx, job.ID, claimToken, []StageDeclaration{{Name: stageName, Order: -1, Command: "docker build", Image: "n/a"}}); err != nil {
		return contracts.Wrap(contracts.KindFatal, err, "registering build-image stage")
	}
	if err := e.dispatch.StartStage(ctx, job.ID, claimToken, stageName); err != nil {
		return contracts.Wrap(contracts.KindFatal, err, "starting build-image stage")
	}

	tag := fmt.Sprintf("foundry/job-%d:%s", job.ID, job.GitSHA)
	buildErr := e.runtime.BuildImage(ctx, workspace.Dir, m.Build.Dockerfile, tag)

	status := contracts.StageSuccess
	errMsg := ""
	exitCode := 0
	if buildErr != nil {
		status = contracts.StageFailed
		errMsg = buildErr.Error()
		exitCode = 1
	}
	if err := e.dispatch.FinishStage(ctx, job.ID, claimToken, stageName, status, &exitCode, errMsg); err != nil {
		return contracts.Wrap(contracts.KindFatal, err, "finishing build-image stage")
	}
	if buildErr != nil {
		return buildErr
	}

	for i := range m.Stages {
		if m.Stages[i].Image == "" {
			m.Stages[i].Image = tag
		}
	}
	return nil
}

func (e *Executor) runStage(ctx context.Context, job *contracts.Job, claimToken string, workspace *Workspace, stage manifest.Stage, globalEnv map[string]string) (int, error) {
	if err := e.dispatch.StartStage(ctx, job.ID, claimToken, stage.Name); err != nil {
		return -1, contracts.Wrap(contracts.KindFatal, err, "starting stage %s", stage.Name)
	}

	timeout := e.opts.DefaultTimeout
	if timeout <= 0 {
		timeout = 60 * time.Minute
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	streamer := newLineStreamer(func(ctx context.Context, lines []LogLine) error {
		return e.dispatch.AppendLog(ctx, job.ID, claimToken, stage.Name, lines)
	})
	go streamer.Run(ctx)

	writer := &streamWriter{streamer: streamer}
	env := mergeEnv(globalEnv, nil)
	containerName := "foundry-job-" + strconv.Itoa(int(job.ID)) + "-" + stage.Name

	exitCode, runErr := e.runtime.RunStage(stageCtx, containerName, stage.Image, workspace.Dir, env, stage.Command, writer)
	writer.Flush()
	streamer.Close()

	if stageCtx.Err() == context.DeadlineExceeded {
		errMsg := "timeout"
		failed := 1
		_ = e.dispatch.FinishStage(ctx, job.ID, claimToken, stage.Name, contracts.StageFailed, &failed, errMsg)
		return failed, nil
	}

	if runErr != nil {
		_ = e.dispatch.FinishStage(ctx, job.ID, claimToken, stage.Name, contracts.StageFailed, nil, runErr.Error())
		return -1, runErr
	}

	status := contracts.StageSuccess
	errMsg := ""
	if exitCode != 0 {
		status = contracts.StageFailed
		errMsg = "non-zero exit"
	}
	if err := e.dispatch.FinishStage(ctx, job.ID, claimToken, stage.Name, status, &exitCode, errMsg); err != nil {
		return exitCode, contracts.Wrap(contracts.KindFatal, err, "finishing stage %s", stage.Name)
	}
	return exitCode, nil
}

func (e *Executor) runDeploy(ctx context.Context, job *contracts.Job, claimToken string, workspace *Workspace, m *manifest.Manifest) error {
	if e.reconciler == nil {
		return contracts.NewFatal("job %d declares [deploy] but no deployment reconciler is configured", job.ID)
	}

	const stageName = "deploy"
	if err := e.dispatch.RegisterStages(ctx, job.ID, claimToken, []StageDeclaration{{Name: stageName, Order: 1 << 20, Command: "deploy", Image: "n/a"}}); err != nil {
		return contracts.Wrap(contracts.KindFatal, err, "registering deploy stage")
	}
	if err := e.dispatch.StartStage(ctx, job.ID, claimToken, stageName); err != nil {
		return contracts.Wrap(contracts.KindFatal, err, "starting deploy stage")
	}

	mu := e.repoMutex(job.RepositoryID)
	mu.Lock()
	defer mu.Unlock()

	err := e.reconciler.Reconcile(ctx, deploy.Request{
		Manifest:     m.Deploy,
		Workspace:    workspace.Dir,
		GitSHA:       job.GitSHA,
		DockerFile:   m.Build.Dockerfile,
		DefaultImage: m.Build.Image,
	})

	status := contracts.StageSuccess
	errMsg := ""
	exitCode := 0
	if err != nil {
		status = contracts.StageFailed
		errMsg = err.Error()
		exitCode = 1
	}
	if finErr := e.dispatch.FinishStage(ctx, job.ID, claimToken, stageName, status, &exitCode, errMsg); finErr != nil {
		log.Error().Err(finErr).Int64("jobId", job.ID).Msg("Finishing deploy stage failed")
	}
	return err
}

func (e *Executor) repoMutex(repositoryID int) *sync.Mutex {
	mu, _ := e.repoMu.LoadOrStore(repositoryID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func mergeEnv(global, stage map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(stage))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range stage {
		merged[k] = v
	}
	return merged
}

// streamWriter adapts io.Writer into per-line pushes onto a lineStreamer
// for callers that already have a merged stdout/stderr byte stream instead
// of a *bufio.Reader (docker CLI's CombinedOutput-shaped call sites).
type streamWriter struct {
	streamer *lineStreamer
	buf      bytes.Buffer
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(data[:idx], "\r")
		w.streamer.Push(string(line))
		w.buf.Next(idx + 1)
	}
	return len(p), nil
}

// Flush pushes any trailing partial line once the container has exited.
func (w *streamWriter) Flush() {
	if w.buf.Len() > 0 {
		w.streamer.Push(w.buf.String())
		w.buf.Reset()
	}
}
