// Package report implements the persisted artifacts (spec.md §6): the
// leaks.json/paths.json path-tree JSON, the buffered per-attempt CSV writer
// evaluate-fixes emits, and a human-readable Markdown diagnosis summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"

	"bleak/results"
)

// WriteJSON writes tree as UTF-8 JSON to path (spec.md §4.6 step 2:
// leaks.json always written, paths.json only for non-empty root sets).
func WriteJSON(path string, tree *results.PathTree) error {
	b, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal path tree: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}
