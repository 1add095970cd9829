package main_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestCoreNeverImportsReferenceBackends enforces the port/adapter boundary:
// detector and internal/* must stay driver- and proxy-agnostic, so only
// cmd/bleak may import the concrete rod and mitm backends.
func TestCoreNeverImportsReferenceBackends(t *testing.T) {
	forbidden := []string{
		`"bleak/driver/rod"`,
		`"bleak/proxyhost/mitm"`,
	}
	roots := []string{"../../detector", "../../internal"}

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".go") {
				return nil
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			for _, imp := range forbidden {
				if strings.Contains(string(content), imp) {
					t.Errorf("%s imports %s; core packages must not depend on reference backends", path, imp)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("walk %s: %v", root, err)
		}
	}
}

// TestNoStrayRootPackages ensures the repo root carries no executable Go
// files; the only entrypoint is cmd/bleak.
func TestNoStrayRootPackages(t *testing.T) {
	entries, err := os.ReadDir("../..")
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".go") {
			continue
		}
		content, err := os.ReadFile(filepath.Join("../..", e.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		if strings.Contains(string(content), "package main") {
			t.Errorf("unexpected executable Go file at repo root: %s", e.Name())
		}
	}
}
