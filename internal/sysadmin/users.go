package sysadmin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrProtectedUser   = errors.New("user is protected")
)

// LinuxUser is one /etc/passwd entry.
type LinuxUser struct {
	Username string `json:"username"`
	UID      int    `json:"uid"`
	GID      int    `json:"gid"`
	Home     string `json:"home"`
	Shell    string `json:"shell"`
	System   bool   `json:"system"` // uid < 1000 and not root
}

// CmdError carries exit code and stderr from a failed system command.
type CmdError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("%s: exit %d: %s", e.Cmd, e.ExitCode, strings.TrimSpace(e.Stderr))
}

func runCmd(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		code := -1
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		}
		return stdout.String(), &CmdError{Cmd: name, ExitCode: code, Stderr: stderr.String()}
	}
	return stdout.String(), nil
}

// ListUsers parses /etc/passwd. It never shells out; reading the file is
// enough and works without privileges.
func ListUsers() ([]LinuxUser, error) {
	data, err := os.ReadFile("/etc/passwd")
	if err != nil {
		return nil, err
	}
	return ParsePasswd(string(data)), nil
}

// ParsePasswd parses passwd(5) format lines.
func ParsePasswd(content string) []LinuxUser {
	users := []LinuxUser{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		gid, _ := strconv.Atoi(fields[3])
		users = append(users, LinuxUser{
			Username: fields[0],
			UID:      uid,
			GID:      gid,
			Home:     fields[5],
			Shell:    fields[6],
			System:   uid < 1000 && uid != 0,
		})
	}
	return users
}

// protectedUsers may never be created or deleted through the console.
var protectedUsers = map[string]bool{"root": true, "opsdeck": true}

// validUsername matches useradd's default NAME_REGEX.
func validUsername(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case (r >= '0' && r <= '9' || r == '-') && i > 0:
		default:
			return false
		}
	}
	return true
}

// CreateUser shells `useradd -m` and optionally sets the password via chpasswd.
func CreateUser(ctx context.Context, username, password string) error {
	if !validUsername(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if protectedUsers[username] {
		return fmt.Errorf("%w: %q", ErrProtectedUser, username)
	}
	if _, err := runCmd(ctx, "useradd", "-m", "-s", "/bin/bash", username); err != nil {
		return err
	}
	if password != "" {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "chpasswd")
		cmd.Stdin = strings.NewReader(username + ":" + password + "\n")
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			code := -1
			if ee, ok := err.(*exec.ExitError); ok {
				code = ee.ExitCode()
			}
			return &CmdError{Cmd: "chpasswd", ExitCode: code, Stderr: stderr.String()}
		}
	}
	return nil
}

// DeleteUser shells `userdel -r`. Root and the service account are refused.
func DeleteUser(ctx context.Context, username string) error {
	if !validUsername(username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if protectedUsers[username] {
		return fmt.Errorf("%w: %q", ErrProtectedUser, username)
	}
	_, err := runCmd(ctx, "userdel", "-r", username)
	return err
}
