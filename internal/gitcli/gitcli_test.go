package gitcli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus_BranchAndEntries(t *testing.T) {
	out := "## main...origin/main [ahead 2, behind 1]\n" +
		"M  go.mod\n" +
		" M internal/api/models.go\n" +
		"?? notes.txt\n"
	st := ParseStatus(out)
	assert.Equal(t, "main", st.Branch)
	assert.Equal(t, 2, st.Ahead)
	assert.Equal(t, 1, st.Behind)
	assert.False(t, st.Clean)
	require.Len(t, st.Entries, 3)
	assert.Equal(t, StatusEntry{Staged: "M", Unstaged: "", Path: "go.mod"}, st.Entries[0])
	assert.Equal(t, StatusEntry{Staged: "", Unstaged: "M", Path: "internal/api/models.go"}, st.Entries[1])
	assert.Equal(t, StatusEntry{Staged: "?", Unstaged: "?", Path: "notes.txt"}, st.Entries[2])
}

func TestParseStatus_CleanTreeNoUpstream(t *testing.T) {
	st := ParseStatus("## feature/queue\n")
	assert.Equal(t, "feature/queue", st.Branch)
	assert.True(t, st.Clean)
	assert.Empty(t, st.Entries)
	assert.Zero(t, st.Ahead)
	assert.Zero(t, st.Behind)
}

func TestParseLog(t *testing.T) {
	out := "abc123\x1fJan Novak\x1fjan@example.com\x1f2025-06-01T10:00:00+02:00\x1fFix queue drain\n" +
		"def456\x1fEm Okafor\x1fem@example.com\x1f2025-05-30T09:30:00Z\x1fAdd ufw parser\n"
	commits := ParseLog(out)
	require.Len(t, commits, 2)
	assert.Equal(t, "abc123", commits[0].Hash)
	assert.Equal(t, "Jan Novak", commits[0].Author)
	assert.Equal(t, "Fix queue drain", commits[0].Subject)
	assert.Equal(t, 2025, commits[0].Date.Year())
}

func TestParseLog_SkipsMalformedLines(t *testing.T) {
	commits := ParseLog("garbage line without separators\n")
	assert.Empty(t, commits)
}

func TestParseBranches(t *testing.T) {
	out := "  develop\n* main\n  release/1.2\n"
	branches := ParseBranches(out)
	require.Len(t, branches, 3)
	assert.Equal(t, Branch{Name: "develop"}, branches[0])
	assert.Equal(t, Branch{Name: "main", Current: true}, branches[1])
	assert.Equal(t, Branch{Name: "release/1.2"}, branches[2])
}
