package scan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTools_ContainsBuiltins(t *testing.T) {
	tools := DefaultTools()
	for _, name := range []string{"semgrep", "trivy", "gitleaks", "licenses"} {
		assert.Contains(t, tools, name)
	}
	assert.Equal(t, []string{"gitleaks", "licenses", "semgrep", "trivy"}, Names(tools))
}

func TestLoadTools_OverridesAndAdds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `tools:
  - name: semgrep
    argv: ["semgrep", "scan", "--config", "p/ci", "--json", "{path}"]
    timeout_seconds: 120
    parser: json
    findings_exit_code: 1
  - name: shellcheck
    argv: ["shellcheck", "-f", "gcc", "{path}/deploy.sh"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tools, err := LoadTools(path)
	require.NoError(t, err)

	assert.Equal(t, 120, tools["semgrep"].TimeoutSeconds)
	assert.Contains(t, tools["semgrep"].Argv, "p/ci")

	sc, ok := tools["shellcheck"]
	require.True(t, ok)
	assert.Equal(t, "lines", sc.Parser) // defaulted
	assert.Equal(t, 300, sc.TimeoutSeconds)
}

func TestLoadTools_RejectsBadParser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tools:\n  - name: x\n    argv: [x]\n    parser: xml\n"), 0o644))
	_, err := LoadTools(path)
	assert.Error(t, err)
}

func TestExpandArgv(t *testing.T) {
	argv := expandArgv([]string{"trivy", "fs", "{path}"}, "/srv/projects/api")
	assert.Equal(t, []string{"trivy", "fs", "/srv/projects/api"}, argv)
}

func TestCountFindings_Lines(t *testing.T) {
	assert.Equal(t, 2, CountFindings("lines", []byte("a\n\nb\n")))
	assert.Equal(t, 0, CountFindings("lines", []byte("\n \n")))
}

func TestCountFindings_JSONShapes(t *testing.T) {
	// semgrep
	assert.Equal(t, 3, CountFindings("json", []byte(`{"results": [1, 2, 3], "errors": []}`)))
	// trivy
	trivy := `{"Results": [
		{"Vulnerabilities": [{"id": "CVE-1"}, {"id": "CVE-2"}]},
		{"Misconfigurations": [{"id": "DS001"}]}
	]}`
	assert.Equal(t, 3, CountFindings("json", []byte(trivy)))
	// gitleaks emits a bare array
	assert.Equal(t, 2, CountFindings("json", []byte(`[{"rule": "aws"}, {"rule": "gcp"}]`)))
	// malformed output never panics
	assert.Equal(t, 0, CountFindings("json", []byte("not json")))
}
