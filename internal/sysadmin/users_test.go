package sysadmin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePasswd(t *testing.T) {
	content := `root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
deploy:x:1001:1001:Deploy:/home/deploy:/bin/bash

# comment
malformed-line
`
	users := ParsePasswd(content)
	require.Len(t, users, 3)

	assert.Equal(t, "root", users[0].Username)
	assert.Equal(t, 0, users[0].UID)
	assert.False(t, users[0].System)

	assert.Equal(t, "daemon", users[1].Username)
	assert.True(t, users[1].System)

	assert.Equal(t, LinuxUser{
		Username: "deploy", UID: 1001, GID: 1001,
		Home: "/home/deploy", Shell: "/bin/bash",
	}, users[2])
}

func TestValidUsername(t *testing.T) {
	assert.True(t, validUsername("deploy"))
	assert.True(t, validUsername("web-runner2"))
	assert.True(t, validUsername("_svc"))

	assert.False(t, validUsername(""))
	assert.False(t, validUsername("Deploy"))
	assert.False(t, validUsername("-lead"))
	assert.False(t, validUsername("a b"))
	assert.False(t, validUsername("x; rm -rf /"))
}

func TestCreateUser_RefusesProtected(t *testing.T) {
	err := CreateUser(t.Context(), "root", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected")
}

func TestDeleteUser_RefusesProtected(t *testing.T) {
	err := DeleteUser(t.Context(), "opsdeck")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protected")
}
