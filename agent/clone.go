package agent

import (
	"context"
	"io"

	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// clone checks out gitSHA (or the default branch tip when it is the
// contracts.UnresolvedSHA sentinel) from cloneURL into dir, streaming
// go-git's progress output into the synthetic "clone" stage's line
// streamer.
func clone(ctx context.Context, cloneURL, gitRef, gitSHA string, dir string, progress io.Writer) (resolvedSHA string, err error) {
	opts := &git.CloneOptions{
		URL:      cloneURL,
		Progress: progress,
	}
	if gitRef != "" {
		opts.ReferenceName = plumbing.ReferenceName(gitRef)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		return "", contracts.Wrap(contracts.KindTransient, err, "cloning %s", cloneURL)
	}

	if gitSHA != "" && gitSHA != contracts.UnresolvedSHA {
		worktree, err := repo.Worktree()
		if err != nil {
			return "", contracts.Wrap(contracts.KindFatal, err, "opening worktree for %s", cloneURL)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(gitSHA)}); err != nil {
			return "", contracts.Wrap(contracts.KindTransient, err, "checking out %s at %s", cloneURL, gitSHA)
		}
		return gitSHA, nil
	}

	head, err := repo.Head()
	if err != nil {
		return "", contracts.Wrap(contracts.KindFatal, err, "resolving HEAD after cloning %s", cloneURL)
	}
	return head.Hash().String(), nil
}
