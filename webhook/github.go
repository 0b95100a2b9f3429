package webhook

// PushEvent is the subset of a Github push webhook payload Foundry needs.
// https://developer.github.com/webhooks/event-payloads/#push
type PushEvent struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	Repository Repository `json:"repository"`
	HeadCommit Commit     `json:"head_commit"`
}

// PullRequestEvent is the subset of a Github pull_request webhook payload
// Foundry needs.
type PullRequestEvent struct {
	Action      string      `json:"action"`
	Number      int         `json:"number"`
	Repository  Repository  `json:"repository"`
	PullRequest PullRequest `json:"pull_request"`
}

// PullRequest carries the head/base refs of a pull request event.
type PullRequest struct {
	Head PullRequestRef `json:"head"`
	Base PullRequestRef `json:"base"`
}

// PullRequestRef identifies a commit + branch endpoint of a pull request.
type PullRequestRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// Repository is the repository object embedded in Github webhook payloads.
type Repository struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	CloneURL string `json:"clone_url"`
	Owner    Owner  `json:"owner"`
}

// Owner is the repository owner object embedded in Github webhook payloads.
type Owner struct {
	Login string `json:"login"`
}

// Commit is the head commit object embedded in a push event.
type Commit struct {
	Message string `json:"message"`
	URL     string `json:"url"`
	Author  Author `json:"author"`
}

// Author is the commit author embedded in a Commit.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
