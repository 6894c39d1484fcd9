package sysadmin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FirewallRule is one row of `ufw status numbered` output.
type FirewallRule struct {
	Number    int    `json:"number"`
	To        string `json:"to"`
	Action    string `json:"action"`    // ALLOW|DENY|REJECT|LIMIT
	Direction string `json:"direction"` // IN|OUT
	From      string `json:"from"`
}

// FirewallStatus is the parsed state of ufw.
type FirewallStatus struct {
	Enabled bool           `json:"enabled"`
	Rules   []FirewallRule `json:"rules"`
}

// numbered rule lines look like:
// [ 1] 22/tcp                     ALLOW IN    Anywhere
var ufwRuleRe = regexp.MustCompile(`^\[\s*(\d+)\]\s+(.+?)\s{2,}(ALLOW|DENY|REJECT|LIMIT)\s+(IN|OUT)?\s*(.*)$`)

// FirewallState runs `ufw status numbered` and parses it. An inactive
// firewall is not an error; it reports Enabled=false with no rules.
func FirewallState(ctx context.Context) (*FirewallStatus, error) {
	out, err := runCmd(ctx, "ufw", "status", "numbered")
	if err != nil {
		return nil, err
	}
	return ParseUFWStatus(out), nil
}

// ParseUFWStatus parses `ufw status numbered` output.
func ParseUFWStatus(out string) *FirewallStatus {
	st := &FirewallStatus{Rules: []FirewallRule{}}
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "Status:") {
			st.Enabled = strings.Contains(trimmed, "active") && !strings.Contains(trimmed, "inactive")
			continue
		}
		m := ufwRuleRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		dir := m[4]
		if dir == "" {
			dir = "IN"
		}
		st.Rules = append(st.Rules, FirewallRule{
			Number:    num,
			To:        strings.TrimSpace(m[2]),
			Action:    m[3],
			Direction: dir,
			From:      strings.TrimSpace(m[5]),
		})
	}
	return st
}

var validProto = map[string]bool{"": true, "tcp": true, "udp": true}

// ErrInvalidRule marks client-side validation failures before ufw runs.
var ErrInvalidRule = errors.New("invalid firewall rule")

// AddFirewallRule shells `ufw <allow|deny> [from <src> to any port <port> proto <proto>]`.
func AddFirewallRule(ctx context.Context, action, port, proto, from string) error {
	action = strings.ToLower(strings.TrimSpace(action))
	if action != "allow" && action != "deny" {
		return fmt.Errorf("%w: action must be allow or deny", ErrInvalidRule)
	}
	proto = strings.ToLower(strings.TrimSpace(proto))
	if !validProto[proto] {
		return fmt.Errorf("%w: proto must be tcp or udp", ErrInvalidRule)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("%w: port must be numeric", ErrInvalidRule)
	}
	args := []string{action}
	if from != "" {
		args = append(args, "from", from, "to", "any", "port", port)
		if proto != "" {
			args = append(args, "proto", proto)
		}
	} else {
		spec := port
		if proto != "" {
			spec = port + "/" + proto
		}
		args = append(args, spec)
	}
	_, err := runCmd(ctx, "ufw", args...)
	return err
}

// DeleteFirewallRule shells `ufw --force delete N`.
func DeleteFirewallRule(ctx context.Context, number int) error {
	if number <= 0 {
		return fmt.Errorf("%w: rule number must be positive", ErrInvalidRule)
	}
	_, err := runCmd(ctx, "ufw", "--force", "delete", strconv.Itoa(number))
	return err
}
