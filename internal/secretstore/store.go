// Package secretstore mediates every access to the shared store the fleet
// coordinates through. The contract is deliberately tiny: existence check
// and create-if-absent. Secrets are never updated in place and never deleted
// here; a key is either absent or holds its final value.
package secretstore

import (
	"context"
	"errors"
	"time"
)

// BootstrapSecretName is the reserved name of the cluster's root secret.
const BootstrapSecretName = "bootstrap"

var (
	// ErrNotFound: the key is absent. For followers this is the normal
	// "keep polling" signal.
	ErrNotFound = errors.New("secretstore: not found")

	// ErrAlreadyExists: a concurrent creator won the race. Recoverable by
	// re-reading; the committed value is authoritative. Kept distinct from
	// transient errors so callers never retry a lost race into an overwrite.
	ErrAlreadyExists = errors.New("secretstore: already exists")
)

// Secret is one stored credential.
type Secret struct {
	Cluster   string
	Name      string
	Value     string
	CreatedAt time.Time
}

// KV is the capability a backing store must provide: read and idempotent
// create. Backends must preserve "at most one successful create per key" to
// the extent the underlying store allows, and must surface ErrAlreadyExists
// distinctly from transient failures.
type KV interface {
	Get(ctx context.Context, key string) (value string, createdAt time.Time, err error)
	CreateIfAbsent(ctx context.Context, key, value string) error
}
