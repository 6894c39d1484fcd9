package scan

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tool describes one external scanner. Argv entries may contain the {path}
// placeholder, replaced with the project root at run time.
type Tool struct {
	Name             string   `yaml:"name" json:"name"`
	Description      string   `yaml:"description" json:"description"`
	Argv             []string `yaml:"argv" json:"argv"`
	TimeoutSeconds   int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	Parser           string   `yaml:"parser" json:"parser"` // json|lines
	FindingsExitCode int      `yaml:"findings_exit_code" json:"findings_exit_code"`
}

// DefaultTools returns the built-in scanner registry. Installs that carry
// different binaries override it with OPSDECK_SCAN_TOOLS.
func DefaultTools() map[string]Tool {
	tools := []Tool{
		{
			Name:             "semgrep",
			Description:      "Static analysis with the default semgrep rulesets",
			Argv:             []string{"semgrep", "scan", "--json", "--quiet", "{path}"},
			TimeoutSeconds:   600,
			Parser:           "json",
			FindingsExitCode: 1,
		},
		{
			Name:             "trivy",
			Description:      "Filesystem vulnerability scan",
			Argv:             []string{"trivy", "fs", "--format", "json", "--quiet", "{path}"},
			TimeoutSeconds:   600,
			Parser:           "json",
			FindingsExitCode: 1,
		},
		{
			Name:             "gitleaks",
			Description:      "Secrets detection over the working tree",
			Argv:             []string{"gitleaks", "detect", "--source", "{path}", "--report-format", "json", "--report-path", "/dev/stdout", "--no-banner"},
			TimeoutSeconds:   300,
			Parser:           "json",
			FindingsExitCode: 1,
		},
		{
			Name:           "licenses",
			Description:    "Dependency license inventory",
			Argv:           []string{"go-licenses", "report", "{path}/..."},
			TimeoutSeconds: 300,
			Parser:         "lines",
		},
	}
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return m
}

// LoadTools reads a YAML tool registry. Entries replace same-named defaults;
// unknown names are added.
func LoadTools(path string) (map[string]Tool, error) {
	m := DefaultTools()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Tools []Tool `yaml:"tools"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, t := range file.Tools {
		if t.Name == "" || len(t.Argv) == 0 {
			return nil, fmt.Errorf("tool entries need name and argv (%s)", path)
		}
		if t.Parser == "" {
			t.Parser = "lines"
		}
		if t.Parser != "json" && t.Parser != "lines" {
			return nil, fmt.Errorf("tool %s: parser must be json or lines", t.Name)
		}
		if t.TimeoutSeconds <= 0 {
			t.TimeoutSeconds = 300
		}
		m[t.Name] = t
	}
	return m, nil
}

// Names returns tool names in stable order for API listings.
func Names(tools map[string]Tool) []string {
	names := make([]string, 0, len(tools))
	for n := range tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// expandArgv substitutes the {path} placeholder.
func expandArgv(argv []string, path string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, "{path}", path)
	}
	return out
}

// CountFindings extracts a findings count from tool output.
// "lines" counts non-empty lines. "json" understands the common shapes:
// a top-level array, semgrep's {"results": []}, and trivy's
// {"Results": [{"Vulnerabilities": [], "Misconfigurations": []}]}.
func CountFindings(parser string, output []byte) int {
	if parser == "lines" {
		n := 0
		for _, line := range strings.Split(string(output), "\n") {
			if strings.TrimSpace(line) != "" {
				n++
			}
		}
		return n
	}

	var top any
	if err := json.Unmarshal(output, &top); err != nil {
		return 0
	}
	switch v := top.(type) {
	case []any:
		return len(v)
	case map[string]any:
		if results, ok := v["results"].([]any); ok {
			return len(results)
		}
		if results, ok := v["Results"].([]any); ok {
			total := 0
			for _, r := range results {
				m, ok := r.(map[string]any)
				if !ok {
					continue
				}
				if vulns, ok := m["Vulnerabilities"].([]any); ok {
					total += len(vulns)
				}
				if misc, ok := m["Misconfigurations"].([]any); ok {
					total += len(misc)
				}
			}
			return total
		}
		if findings, ok := v["findings"].([]any); ok {
			return len(findings)
		}
	}
	return 0
}
