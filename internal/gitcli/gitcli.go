package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Client runs git against a single working tree. All commands go through
// exec.CommandContext with a per-call timeout so a wedged remote cannot hang
// a request handler.
type Client struct {
	Dir     string
	Timeout time.Duration
}

func New(dir string) *Client {
	return &Client{Dir: dir, Timeout: 30 * time.Second}
}

// GitError carries the exit code and stderr of a failed git invocation so
// handlers can surface them.
type GitError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: exit %d: %s", strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	full := append([]string{"-C", c.Dir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		code := -1
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		}
		return stdout.String(), &GitError{Args: args, ExitCode: code, Stderr: stderr.String()}
	}
	return stdout.String(), nil
}

// StatusEntry is one line of porcelain v1 output.
type StatusEntry struct {
	Staged   string `json:"staged"`   // index status code, e.g. "M", "A", "?"
	Unstaged string `json:"unstaged"` // worktree status code
	Path     string `json:"path"`
}

type Status struct {
	Branch  string        `json:"branch"`
	Ahead   int           `json:"ahead"`
	Behind  int           `json:"behind"`
	Clean   bool          `json:"clean"`
	Entries []StatusEntry `json:"entries"`
}

// Status runs `git status --porcelain=v1 --branch` and parses it.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	out, err := c.run(ctx, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return nil, err
	}
	return ParseStatus(out), nil
}

// ParseStatus parses porcelain v1 output with a leading "## branch" line.
func ParseStatus(out string) *Status {
	st := &Status{Entries: []StatusEntry{}}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			// "## main...origin/main [ahead 1, behind 2]"
			rest := strings.TrimPrefix(line, "## ")
			if i := strings.Index(rest, "..."); i >= 0 {
				st.Branch = rest[:i]
				if j := strings.Index(rest, "["); j >= 0 {
					for _, part := range strings.Split(strings.Trim(rest[j:], "[]"), ",") {
						part = strings.TrimSpace(part)
						if n, ok := strings.CutPrefix(part, "ahead "); ok {
							st.Ahead, _ = strconv.Atoi(n)
						}
						if n, ok := strings.CutPrefix(part, "behind "); ok {
							st.Behind, _ = strconv.Atoi(n)
						}
					}
				}
			} else {
				// detached HEAD shows "## HEAD (no branch)"
				st.Branch = strings.TrimSuffix(rest, " (no branch)")
			}
			continue
		}
		if len(line) < 4 {
			continue
		}
		st.Entries = append(st.Entries, StatusEntry{
			Staged:   strings.TrimSpace(line[0:1]),
			Unstaged: strings.TrimSpace(line[1:2]),
			Path:     strings.TrimSpace(line[3:]),
		})
	}
	st.Clean = len(st.Entries) == 0
	return st
}

type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	Date    time.Time `json:"date"`
	Subject string    `json:"subject"`
}

// logFormat uses the unit separator so subjects containing pipes or tabs
// cannot break parsing.
const logFormat = "%H%x1f%an%x1f%ae%x1f%aI%x1f%s"

// Log returns the most recent commits, newest first.
func (c *Client) Log(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out, err := c.run(ctx, "log", "-n", strconv.Itoa(limit), "--pretty=format:"+logFormat)
	if err != nil {
		return nil, err
	}
	return ParseLog(out), nil
}

// ParseLog parses the unit-separated log format above.
func ParseLog(out string) []Commit {
	commits := []Commit{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\x1f")
		if len(parts) != 5 {
			continue
		}
		date, _ := time.Parse(time.RFC3339, parts[3])
		commits = append(commits, Commit{Hash: parts[0], Author: parts[1], Email: parts[2], Date: date, Subject: parts[4]})
	}
	return commits
}

type Branch struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

// Branches lists local branches, flagging the checked-out one.
func (c *Client) Branches(ctx context.Context) ([]Branch, error) {
	out, err := c.run(ctx, "branch", "--list", "--no-color")
	if err != nil {
		return nil, err
	}
	return ParseBranches(out), nil
}

func ParseBranches(out string) []Branch {
	branches := []Branch{}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		current := strings.HasPrefix(line, "* ")
		name := strings.TrimSpace(strings.TrimPrefix(line, "* "))
		branches = append(branches, Branch{Name: name, Current: current})
	}
	return branches
}

// Checkout switches to the given branch or ref.
func (c *Client) Checkout(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "checkout", ref)
	return err
}

// CheckoutNew creates and switches to a new branch.
func (c *Client) CheckoutNew(ctx context.Context, branch string) error {
	_, err := c.run(ctx, "checkout", "-b", branch)
	return err
}

// Commit stages (optionally) and commits, returning the new commit hash.
func (c *Client) Commit(ctx context.Context, message string, addAll bool) (string, error) {
	if addAll {
		if _, err := c.run(ctx, "add", "-A"); err != nil {
			return "", err
		}
	}
	if _, err := c.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	out, err := c.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Diff returns the unified diff for the working tree, optionally limited to a path.
func (c *Client) Diff(ctx context.Context, path string) (string, error) {
	args := []string{"diff"}
	if path != "" {
		args = append(args, "--", path)
	}
	return c.run(ctx, args...)
}

// Pull fast-forwards from the default remote.
func (c *Client) Pull(ctx context.Context) (string, error) {
	return c.run(ctx, "pull", "--ff-only")
}

// Push pushes the current branch to its upstream.
func (c *Client) Push(ctx context.Context) (string, error) {
	return c.run(ctx, "push")
}

// IsRepo reports whether dir is inside a git working tree.
func IsRepo(ctx context.Context, dir string) bool {
	c := New(dir)
	out, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}
