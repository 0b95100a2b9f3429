package agent

import (
	"context"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/contracts"
	"github.com/Lucas-William-Bateson/foundry/githubapi"
)

// ownerRepoPattern extracts "owner/repo" from either clone URL form GitHub
// hands out: https://github.com/owner/repo.git or git@github.com:owner/repo.git.
var ownerRepoPattern = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/]+?)(\.git)?$`)

func ownerAndRepoFromCloneURL(cloneURL string) (owner, repo string, ok bool) {
	m := ownerRepoPattern.FindStringSubmatch(cloneURL)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// reportCommitStatus posts a build status for job to GitHub, when the agent
// has GitHub App credentials configured and the clone URL is a github.com
// repository. Failures are logged, never fatal to the job: a status report
// GitHub never sees doesn't change whether the job actually ran.
func (e *Executor) reportCommitStatus(ctx context.Context, job *contracts.Job, cloneURL string, status githubapi.CommitStatus, description string) {
	if e.statusReporter == nil {
		return
	}
	owner, repo, ok := ownerAndRepoFromCloneURL(cloneURL)
	if !ok {
		return
	}
	if err := e.statusReporter.CreateCommitStatus(ctx, owner, repo, job.GitSHA, status, description, ""); err != nil {
		log.Warn().Err(err).Int64("jobId", job.ID).Str("repo", owner+"/"+repo).Msg("Reporting commit status to github failed")
	}
}
