// Package git detects the repository a recall command runs in. The CLI tags
// sessions and memories with it as their project.
package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const detectTimeout = 5 * time.Second

// RepoName returns the base name of the git repository containing dir, or
// the base name of dir itself outside a repository. An empty dir means the
// working directory.
func RepoName(ctx context.Context, dir string) string {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = wd
	}

	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--show-toplevel").Output()
	if err == nil {
		if top := strings.TrimSpace(string(out)); top != "" {
			return filepath.Base(top)
		}
	}

	return filepath.Base(dir)
}
