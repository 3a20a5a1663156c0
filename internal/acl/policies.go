package acl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadPolicyDir reads every *.hcl file in dir as a PolicyDefinition whose
// name is the file's base name. A missing or empty dir yields an empty set:
// bootstrapping without policies is legal. Results are sorted by name so the
// minting order (and the log output) is stable.
func LoadPolicyDir(dir string) ([]PolicyDefinition, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy dir %s: %w", dir, err)
	}
	var defs []PolicyDefinition
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".hcl") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", e.Name(), err)
		}
		defs = append(defs, PolicyDefinition{
			Name:     strings.TrimSuffix(e.Name(), ".hcl"),
			Document: string(body),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}
