package sysadmin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUFWStatus_Active(t *testing.T) {
	out := `Status: active

     To                         Action      From
     --                         ------      ----
[ 1] 22/tcp                     ALLOW IN    Anywhere
[ 2] 80,443/tcp                 ALLOW IN    Anywhere
[ 3] 8081                       DENY IN     10.0.0.0/8
[ 4] 22/tcp (v6)                ALLOW IN    Anywhere (v6)
`
	st := ParseUFWStatus(out)
	assert.True(t, st.Enabled)
	require.Len(t, st.Rules, 4)
	assert.Equal(t, FirewallRule{Number: 1, To: "22/tcp", Action: "ALLOW", Direction: "IN", From: "Anywhere"}, st.Rules[0])
	assert.Equal(t, "80,443/tcp", st.Rules[1].To)
	assert.Equal(t, "DENY", st.Rules[2].Action)
	assert.Equal(t, "10.0.0.0/8", st.Rules[2].From)
	assert.Equal(t, "22/tcp (v6)", st.Rules[3].To)
}

func TestParseUFWStatus_Inactive(t *testing.T) {
	st := ParseUFWStatus("Status: inactive\n")
	assert.False(t, st.Enabled)
	assert.Empty(t, st.Rules)
}

func TestParseUFWStatus_IgnoresHeaderLines(t *testing.T) {
	st := ParseUFWStatus("Status: active\n\nTo  Action  From\n--  ------  ----\n")
	assert.True(t, st.Enabled)
	assert.Empty(t, st.Rules)
}

func TestAddFirewallRule_Validation(t *testing.T) {
	err := AddFirewallRule(t.Context(), "drop", "22", "tcp", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow or deny")

	err = AddFirewallRule(t.Context(), "allow", "ssh", "tcp", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "numeric")

	err = AddFirewallRule(t.Context(), "allow", "22", "icmp", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proto")
}

func TestDeleteFirewallRule_RejectsNonPositive(t *testing.T) {
	assert.Error(t, DeleteFirewallRule(t.Context(), 0))
	assert.Error(t, DeleteFirewallRule(t.Context(), -3))
}
