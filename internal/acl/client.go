// Package acl talks to the job-scheduling agent's authorization subsystem:
// the one-time ACL bootstrap that mints the root secret, policy registration,
// and minting of tokens scoped to a single policy.
package acl

import (
	"context"
	"errors"
)

// ErrAlreadyBootstrapped reports that the cluster's ACL system was already
// bootstrapped by someone else. Not a failure: the caller re-reads the root
// secret from the shared store instead of trusting any local result.
var ErrAlreadyBootstrapped = errors.New("acl: already bootstrapped")

// PolicyDefinition is a named authorization-policy body, supplied as a file
// by the policy-authoring workflow. Read-only input.
type PolicyDefinition struct {
	Name     string
	Document string
}

// Client is the authorization subsystem. Bootstrap is irreversible at the
// system level and idempotent only in the sense that repeat calls are
// detectable as ErrAlreadyBootstrapped.
type Client interface {
	// Bootstrap performs the once-ever cluster initialization and returns
	// the minted root secret.
	Bootstrap(ctx context.Context) (string, error)

	// CreatePolicy registers a policy document under the root secret's
	// authority. Re-registering the same policy is safe.
	CreatePolicy(ctx context.Context, rootSecret string, def PolicyDefinition) error

	// MintPolicyToken mints a fresh secret scoped to exactly one named
	// policy. Callable once per policy; distinct calls mint distinct values.
	MintPolicyToken(ctx context.Context, rootSecret, policyName string) (string, error)
}
