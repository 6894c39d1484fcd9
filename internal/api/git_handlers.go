package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsdeck/opsdeck-backend/internal/gitcli"
)

// gitClientFor loads the project and verifies the directory is a repository.
func gitClientFor(c *gin.Context) (*gitcli.Client, bool) {
	p, ok := projectFrom(c)
	if !ok {
		return nil, false
	}
	if !gitcli.IsRepo(c.Request.Context(), p.Path) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Project is not a git repository"})
		return nil, false
	}
	return gitcli.New(p.Path), true
}

// respondGitError maps git failures to 422 with the command's stderr so the
// dashboard can show exactly what git said.
func respondGitError(c *gin.Context, err error) {
	var ge *gitcli.GitError
	if errors.As(err, &ge) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "git command failed", "stderr": ge.Stderr, "exit_code": ge.ExitCode})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "git command failed: " + err.Error()})
}

// GitStatus returns branch, ahead/behind and per-file state
func GitStatus(c *gin.Context) {
	client, ok := gitClientFor(c)
	if !ok {
		return
	}
	start := time.Now()
	st, err := client.Status(c.Request.Context())
	RecordExternalOp("git_status", time.Since(start), err == nil)
	if err != nil {
		respondGitError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GitLog returns recent commits (?limit=, default 50)
func GitLog(c *gin.Context) {
	client, ok := gitClientFor(c)
	if !ok {
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	start := time.Now()
	commits, err := client.Log(c.Request.Context(), limit)
	RecordExternalOp("git_log", time.Since(start), err == nil)
	if err != nil {
		respondGitError(c, err)
		return
	}
	c.JSON(http.StatusOK, commits)
}

// GitBranches lists local branches
func GitBranches(c *gin.Context) {
	client, ok := gitClientFor(c)
	if !ok {
		return
	}
	branches, err := client.Branches(c.Request.Context())
	if err != nil {
		respondGitError(c, err)
		return
	}
	c.JSON(http.StatusOK, branches)
}

// GitCheckout switches branches, optionally creating one
func GitCheckout(c *gin.Context) {
	client, ok := gitClientFor(c)
	if !ok {
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	var err error
	if req.Create {
		err = client.CheckoutNew(c.Request.Context(), req.Branch)
	} else {
		err = client.Checkout(c.Request.Context(), req.Branch)
	}
	if err != nil {
		respondGitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Checked out", "branch": req.Branch})
}

// GitCommit stages (optionally) and commits
func GitCommit(c *gin.Context) {
	client, ok := gitClientFor(c)
	if !ok {
		return
	}
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	start := time.Now()
	hash, err := client.Commit(c.Request.Context(), req.Message, req.AddAll)
	RecordExternalOp("git_commit", time.Since(start), err == nil)
	if err != nil {
		respondGitError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Committed", "hash": hash})
}

// GitDiff returns the working tree diff (?path= narrows to one file)
func GitDiff(c *gin.Context) {
	client, ok := gitClientFor(c)
	if !ok {
		return
	}
	diff, err := client.Diff(c.Request.Context(), c.Query("path"))
	if err != nil {
		respondGitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

// GitPull runs a fast-forward-only pull
func GitPull(c *gin.Context) {
	client, ok := gitClientFor(c)
	if !ok {
		return
	}
	start := time.Now()
	out, err := client.Pull(c.Request.Context())
	RecordExternalOp("git_pull", time.Since(start), err == nil)
	if err != nil {
		respondGitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pulled", "output": out})
}

// GitPush pushes the current branch
func GitPush(c *gin.Context) {
	client, ok := gitClientFor(c)
	if !ok {
		return
	}
	start := time.Now()
	out, err := client.Push(c.Request.Context())
	RecordExternalOp("git_push", time.Since(start), err == nil)
	if err != nil {
		respondGitError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pushed", "output": out})
}
