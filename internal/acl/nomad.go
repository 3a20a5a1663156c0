package acl

import (
	"context"
	"fmt"
	"strings"

	nomadapi "github.com/hashicorp/nomad/api"
)

// Nomad implements Client against a Nomad agent's ACL API.
type Nomad struct {
	c *nomadapi.Client
}

// NewNomad dials the agent at addr (defaults, including env overrides, come
// from the Nomad SDK when addr is empty).
func NewNomad(addr, region string) (*Nomad, error) {
	cfg := nomadapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if region != "" {
		cfg.Region = region
	}
	c, err := nomadapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("nomad client: %w", err)
	}
	return &Nomad{c: c}, nil
}

func (n *Nomad) Bootstrap(ctx context.Context) (string, error) {
	token, _, err := n.c.ACLTokens().Bootstrap((&nomadapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		// The agent reports repeat bootstraps as a plain 400; the message is
		// the only discriminator the API gives us.
		if strings.Contains(err.Error(), "bootstrap already done") {
			return "", ErrAlreadyBootstrapped
		}
		return "", fmt.Errorf("acl bootstrap: %w", err)
	}
	return token.SecretID, nil
}

func (n *Nomad) CreatePolicy(ctx context.Context, rootSecret string, def PolicyDefinition) error {
	policy := &nomadapi.ACLPolicy{
		Name:        def.Name,
		Description: "managed by rallypoint",
		Rules:       def.Document,
	}
	_, err := n.c.ACLPolicies().Upsert(policy, n.writeOpts(ctx, rootSecret))
	if err != nil {
		return fmt.Errorf("upsert policy %s: %w", def.Name, err)
	}
	return nil
}

func (n *Nomad) MintPolicyToken(ctx context.Context, rootSecret, policyName string) (string, error) {
	token := &nomadapi.ACLToken{
		Name:     "rallypoint-" + policyName,
		Type:     "client",
		Policies: []string{policyName},
	}
	created, _, err := n.c.ACLTokens().Create(token, n.writeOpts(ctx, rootSecret))
	if err != nil {
		return "", fmt.Errorf("create token for policy %s: %w", policyName, err)
	}
	return created.SecretID, nil
}

func (n *Nomad) writeOpts(ctx context.Context, rootSecret string) *nomadapi.WriteOptions {
	return (&nomadapi.WriteOptions{AuthToken: rootSecret}).WithContext(ctx)
}
