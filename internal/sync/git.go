package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Identity used for export commits when the environment sets none.
const (
	gitAuthorName  = "pipeflow"
	gitAuthorEmail = "pipeflow@localhost"
)

// GitDestination commits the export to a file in a local clone and pushes it.
type GitDestination struct {
	repo   string // path to the local clone
	file   string // file path within the repo
	branch string // branch to commit and push to
}

// NewGitDestination creates a git destination. repo is the path to an
// existing local clone with an "origin" remote.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch}
}

// Name returns the file path and branch.
func (d *GitDestination) Name() string {
	return "git:" + filepath.Join(d.repo, d.file) + "@" + d.branch
}

// Write replaces the export file, commits it when its content changed and
// pushes the branch.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// The remote may not have the branch yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	if err := writeFileAtomic(filepath.Join(d.repo, d.file), data); err != nil {
		return err
	}
	if _, err := d.git(ctx, "add", "--", d.file); err != nil {
		return err
	}
	if _, err := d.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	if _, err := d.git(ctx, "commit", "-m", commitMessage(data)); err != nil {
		return err
	}
	if _, err := d.git(ctx, "push", "origin", d.branch); err != nil {
		return err
	}
	return nil
}

// commitMessage summarizes an export for the commit subject.
func commitMessage(data []byte) string {
	pipelines, runs, ok := Summary(data)
	if !ok {
		return "sync: update pipelines export"
	}
	return fmt.Sprintf("sync: %s, %s", plural(pipelines, "pipeline"), plural(runs, "validation run"))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// git runs a git command in the clone. Failures carry git's own output.
func (d *GitDestination) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	cmd.Env = append(os.Environ(), gitIdentityEnv()...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	text := strings.TrimSpace(out.String())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && text != "" {
			return text, fmt.Errorf("git %s: %w: %s", args[0], err, text)
		}
		return text, fmt.Errorf("git %s: %w", args[0], err)
	}
	return text, nil
}

// gitIdentityEnv fills in commit identity variables the caller left unset.
func gitIdentityEnv() []string {
	var env []string
	for key, val := range map[string]string{
		"GIT_AUTHOR_NAME":     gitAuthorName,
		"GIT_AUTHOR_EMAIL":    gitAuthorEmail,
		"GIT_COMMITTER_NAME":  gitAuthorName,
		"GIT_COMMITTER_EMAIL": gitAuthorEmail,
	} {
		if os.Getenv(key) == "" {
			env = append(env, key+"="+val)
		}
	}
	return env
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
