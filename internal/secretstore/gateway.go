package secretstore

import (
	"context"
	"fmt"
	"strings"
)

// DefaultPrefix is the root of the store namespace when the config does not
// override it.
const DefaultPrefix = "/rallypoint"

// Gateway namespaces secrets by cluster identity and delegates to a KV
// backend. This is the substitution seam: swapping the backend must not
// change the coordinator's algorithm.
type Gateway struct {
	kv      KV
	prefix  string
	cluster string
}

// NewGateway wires a gateway for one cluster. The prefix is normalized to a
// single leading slash and no trailing slash.
func NewGateway(kv KV, prefix, cluster string) *Gateway {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	prefix = "/" + strings.Trim(prefix, "/")
	return &Gateway{kv: kv, prefix: prefix, cluster: cluster}
}

// Key returns the fully namespaced store key for a secret name.
func (g *Gateway) Key(name string) string {
	return fmt.Sprintf("%s/%s/%s", g.prefix, g.cluster, name)
}

// Get fetches a secret by name. Absence is ErrNotFound.
func (g *Gateway) Get(ctx context.Context, name string) (Secret, error) {
	value, createdAt, err := g.kv.Get(ctx, g.Key(name))
	if err != nil {
		return Secret{}, err
	}
	return Secret{Cluster: g.cluster, Name: name, Value: value, CreatedAt: createdAt}, nil
}

// Create persists a secret under its name, failing with ErrAlreadyExists if
// any writer got there first. Existing values are never overwritten.
func (g *Gateway) Create(ctx context.Context, name, value string) error {
	return g.kv.CreateIfAbsent(ctx, g.Key(name), value)
}

// GetBootstrap and CreateBootstrap are the root-secret shorthands the
// coordinator uses.
func (g *Gateway) GetBootstrap(ctx context.Context) (Secret, error) {
	return g.Get(ctx, BootstrapSecretName)
}

func (g *Gateway) CreateBootstrap(ctx context.Context, value string) error {
	return g.Create(ctx, BootstrapSecretName, value)
}
