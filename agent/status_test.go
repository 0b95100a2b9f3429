package agent

import "testing"

func TestOwnerAndRepoFromCloneURL(t *testing.T) {
	cases := []struct {
		name      string
		cloneURL  string
		wantOwner string
		wantRepo  string
		wantOK    bool
	}{
		{"https", "https://github.com/acme/widgets.git", "acme", "widgets", true},
		{"httpsNoSuffix", "https://github.com/acme/widgets", "acme", "widgets", true},
		{"ssh", "git@github.com:acme/widgets.git", "acme", "widgets", true},
		{"nonGithub", "https://gitlab.com/acme/widgets.git", "", "", false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			owner, repo, ok := ownerAndRepoFromCloneURL(c.cloneURL)
			if ok != c.wantOK {
				t.Fatalf("ok = %v, want %v", ok, c.wantOK)
			}
			if owner != c.wantOwner || repo != c.wantRepo {
				t.Fatalf("got %s/%s, want %s/%s", owner, repo, c.wantOwner, c.wantRepo)
			}
		})
	}
}
