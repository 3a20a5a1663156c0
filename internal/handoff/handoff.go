// Package handoff hands the coordinator's outputs to the external config
// renderer: plain secret strings keyed by name, in a file the rendering step
// can template into the agent configuration and the supervisor unit.
package handoff

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rallyops/rallypoint/internal/secretstore"
)

// Format of the handoff file.
type Format string

const (
	FormatEnv  Format = "env"
	FormatYAML Format = "yaml"
)

// Write renders the root secret plus the per-policy secrets to path. The
// file is written atomically (temp file + rename) with mode 0600; a crashed
// write never leaves a half-filled secrets file behind.
func Write(path string, format Format, rootSecret string, policySecrets map[string]string) error {
	all := map[string]string{secretstore.BootstrapSecretName: rootSecret}
	for name, value := range policySecrets {
		all[name] = value
	}

	var body []byte
	switch format {
	case FormatYAML:
		b, err := yaml.Marshal(all)
		if err != nil {
			return fmt.Errorf("handoff: marshal: %w", err)
		}
		body = b
	case FormatEnv, "":
		body = []byte(renderEnv(all))
	default:
		return fmt.Errorf("handoff: unknown format %q", format)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rallypoint-*")
	if err != nil {
		return fmt.Errorf("handoff: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("handoff: chmod: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("handoff: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("handoff: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("handoff: rename: %w", err)
	}
	return nil
}

func renderEnv(secrets map[string]string) string {
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%s\n", EnvKey(name), secrets[name])
	}
	return b.String()
}

// EnvKey maps a secret name to the env-file key the renderer expects:
// upper-snake with a fixed prefix, e.g. "bootstrap" -> RALLYPOINT_SECRET_BOOTSTRAP.
func EnvKey(name string) string {
	k := strings.ToUpper(name)
	k = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
	return "RALLYPOINT_SECRET_" + k
}
