package api

import (
	"testing"
)

func TestResolveInProject_AllowsNormalPaths(t *testing.T) {
	cases := []struct {
		rel  string
		want string
	}{
		{"", "/srv/projects/demo"},
		{"main.go", "/srv/projects/demo/main.go"},
		{"sub/dir/file.txt", "/srv/projects/demo/sub/dir/file.txt"},
		{"/leading/slash.go", "/srv/projects/demo/leading/slash.go"},
		{"./dot/relative.go", "/srv/projects/demo/dot/relative.go"},
	}
	for _, tc := range cases {
		got, err := resolveInProject("/srv/projects/demo", tc.rel)
		if err != nil {
			t.Fatalf("resolveInProject(%q) unexpected error: %v", tc.rel, err)
		}
		if got != tc.want {
			t.Fatalf("resolveInProject(%q) = %q, want %q", tc.rel, got, tc.want)
		}
	}
}

func TestResolveInProject_RejectsTraversal(t *testing.T) {
	cases := []string{
		"../secrets.txt",
		"../../etc/passwd",
		"sub/../../outside",
		"sub/../../../root/.ssh/id_rsa",
	}
	for _, rel := range cases {
		if _, err := resolveInProject("/srv/projects/demo", rel); err == nil {
			t.Fatalf("resolveInProject(%q) should have been rejected", rel)
		}
	}
}

func TestResolveInProject_SiblingPrefixRejected(t *testing.T) {
	// "/srv/projects/demo-evil" shares a string prefix with the root but is
	// a different directory.
	if _, err := resolveInProject("/srv/projects/demo", "../demo-evil/file"); err == nil {
		t.Fatal("sibling directory with shared prefix should be rejected")
	}
}
