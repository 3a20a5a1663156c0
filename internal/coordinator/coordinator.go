// Package coordinator drives the one-time cluster ACL bootstrap. Exactly one
// node (the rally point) mints and persists the root secret; everyone else
// polls the shared store until it appears. There is no peer channel and no
// consensus: the only cross-node guarantee is the store's at-most-one
// successful create per key, and every race is resolved by re-reading the
// committed value.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rallyops/rallypoint/internal/acl"
	"github.com/rallyops/rallypoint/internal/cloud"
	"github.com/rallyops/rallypoint/internal/metrics"
	"github.com/rallyops/rallypoint/internal/rally"
	"github.com/rallyops/rallypoint/internal/retry"
	"github.com/rallyops/rallypoint/internal/secretstore"
)

// Role of this node for one run.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleFollower    Role = "follower"
)

var (
	// ErrBootstrapTimeout: the follower exhausted its poll budget without
	// the root secret ever becoming visible. Fatal to this node's startup.
	ErrBootstrapTimeout = errors.New("coordinator: timed out waiting for root secret")

	// ErrMalformedSecret: the authorization subsystem returned a secret that
	// is not a well-formed token. Checked on every mint, including the
	// already-bootstrapped path, rather than assumed.
	ErrMalformedSecret = errors.New("coordinator: malformed secret from authorization subsystem")
)

// PolicyFailure records a non-fatal per-policy mint/persist failure. The
// policy's secret is simply absent from the store; operators see it in the
// logs, the metrics and the run result.
type PolicyFailure struct {
	Policy string
	Err    error
}

func (f PolicyFailure) String() string {
	return fmt.Sprintf("policy %s: %v", f.Policy, f.Err)
}

// Result is what a successful run hands to the config renderer: plain secret
// strings keyed by name.
type Result struct {
	Role           Role
	RootSecret     string
	PolicySecrets  map[string]string
	PolicyFailures []PolicyFailure
}

// Options bound every remote interaction. BootstrapAttempts/Delay budget the
// coordinator's calls; PollAttempts/Delay budget the follower's (and the
// coordinator's own re-reads after a lost race).
type Options struct {
	BootstrapAttempts int
	BootstrapDelay    time.Duration
	PollAttempts      int
	PollDelay         time.Duration
}

// Coordinator is one node's bootstrap state machine. All collaborators are
// injected so tests can run many simulated nodes against one in-memory store
// in a single process.
type Coordinator struct {
	store    *secretstore.Gateway
	acl      acl.Client
	policies []acl.PolicyDefinition
	opts     Options
	log      *zap.Logger
}

func New(store *secretstore.Gateway, aclClient acl.Client, policies []acl.PolicyDefinition, opts Options, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{store: store, acl: aclClient, policies: policies, opts: opts, log: log}
}

// Run decides this node's role from the membership snapshot and drives the
// matching path to Done or a fatal error.
func (c *Coordinator) Run(ctx context.Context, self cloud.NodeIdentity, membership cloud.MembershipSet) (*Result, error) {
	if rally.IsRallyPoint(self, membership) {
		metrics.CoordinatorRole.Set(1)
		c.log.Info("role determined: rally point",
			zap.String("instance", self.InstanceID),
			zap.Int("members", membership.Size()),
			zap.Int("desired_capacity", membership.DesiredCapacity))
		return c.runCoordinator(ctx)
	}
	metrics.CoordinatorRole.Set(0)
	rp, _ := rally.RallyPoint(membership)
	c.log.Info("role determined: follower",
		zap.String("instance", self.InstanceID),
		zap.String("rally_point", rp.InstanceID),
		zap.Int("members", membership.Size()))
	return c.runFollower(ctx)
}

func (c *Coordinator) runCoordinator(ctx context.Context) (*Result, error) {
	res := &Result{Role: RoleCoordinator, PolicySecrets: map[string]string{}}

	// A secret already in the store means a prior run (ours or a concurrent
	// winner's) finished the job. Done, no writes.
	existing, found, err := c.checkExisting(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		c.log.Info("root secret already present, nothing to bootstrap")
		res.RootSecret = existing
		return res, nil
	}

	root, err := c.mintRoot(ctx)
	if err != nil {
		return nil, err
	}
	res.RootSecret = root

	c.derivePolicySecrets(ctx, res)
	return res, nil
}

func (c *Coordinator) runFollower(ctx context.Context) (*Result, error) {
	value, err := c.pollRoot(ctx)
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, fmt.Errorf("%w: %d polls", ErrBootstrapTimeout, exhausted.Attempts)
		}
		return nil, err
	}
	c.log.Info("root secret observed in shared store")
	return &Result{Role: RoleFollower, RootSecret: value, PolicySecrets: map[string]string{}}, nil
}

// checkExisting reads the root secret, retrying transient store errors.
// Absence is a definitive answer, not an error.
func (c *Coordinator) checkExisting(ctx context.Context) (string, bool, error) {
	type probe struct {
		value string
		found bool
	}
	p, err := retry.Do(ctx, c.opts.BootstrapAttempts, c.opts.BootstrapDelay, func(ctx context.Context) (probe, error) {
		s, err := c.store.GetBootstrap(ctx)
		if errors.Is(err, secretstore.ErrNotFound) {
			return probe{}, nil
		}
		if err != nil {
			return probe{}, err
		}
		return probe{value: s.Value, found: true}, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("check for existing root secret: %w", err)
	}
	return p.value, p.found, nil
}

type mintOutcome struct {
	token   string
	already bool
}

// mintRoot performs the irreversible bootstrap call and persists the result.
// Both "already bootstrapped" and a lost create race collapse into the same
// answer: the committed value in the store is authoritative, the local one
// is discarded.
func (c *Coordinator) mintRoot(ctx context.Context) (string, error) {
	out, err := retry.Do(ctx, c.opts.BootstrapAttempts, c.opts.BootstrapDelay, func(ctx context.Context) (mintOutcome, error) {
		metrics.BootstrapAttempts.Inc()
		c.log.Info("attempting acl bootstrap")
		token, err := c.acl.Bootstrap(ctx)
		if errors.Is(err, acl.ErrAlreadyBootstrapped) {
			return mintOutcome{already: true}, nil
		}
		if err != nil {
			return mintOutcome{}, err
		}
		return mintOutcome{token: token}, nil
	})
	if err != nil {
		return "", fmt.Errorf("acl bootstrap: %w", err)
	}

	if out.already {
		// Someone bootstrapped before us; their persisted value is the truth.
		// It may not be visible yet, so wait for it the way a follower does.
		c.log.Info("cluster already bootstrapped, waiting for committed root secret")
		value, err := c.pollRoot(ctx)
		if err != nil {
			return "", fmt.Errorf("already bootstrapped but root secret never appeared: %w", err)
		}
		return value, nil
	}

	if _, err := uuid.Parse(out.token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}
	c.log.Info("root secret minted")

	persisted, err := c.persistRoot(ctx, out.token)
	if err != nil {
		return "", err
	}
	return persisted, nil
}

// persistRoot writes the minted secret with create-if-absent semantics. A
// lost race is resolved by adopting the committed value.
func (c *Coordinator) persistRoot(ctx context.Context, token string) (string, error) {
	type writeOutcome struct{ lost bool }
	out, err := retry.Do(ctx, c.opts.BootstrapAttempts, c.opts.BootstrapDelay, func(ctx context.Context) (writeOutcome, error) {
		err := c.store.CreateBootstrap(ctx, token)
		if errors.Is(err, secretstore.ErrAlreadyExists) {
			return writeOutcome{lost: true}, nil
		}
		if err != nil {
			return writeOutcome{}, err
		}
		return writeOutcome{}, nil
	})
	if err != nil {
		return "", fmt.Errorf("persist root secret: %w", err)
	}

	if out.lost {
		metrics.StoreRacesLost.Inc()
		c.log.Warn("lost create race for root secret, adopting committed value")
		value, err := c.pollRoot(ctx)
		if err != nil {
			return "", fmt.Errorf("read committed root secret after lost race: %w", err)
		}
		return value, nil
	}

	c.log.Info("root secret persisted to shared store")
	return token, nil
}

// pollRoot polls the store for the root secret with the follower budget.
func (c *Coordinator) pollRoot(ctx context.Context) (string, error) {
	return retry.Do(ctx, c.opts.PollAttempts, c.opts.PollDelay, func(ctx context.Context) (string, error) {
		metrics.FollowerPolls.Inc()
		s, err := c.store.GetBootstrap(ctx)
		if err != nil {
			return "", err
		}
		return s.Value, nil
	})
}

// derivePolicySecrets registers each supplied policy and persists a secret
// scoped to it. Failures are isolated per policy: they never abort the run
// or touch the root secret, but they are logged, counted and carried in the
// result so the absence is observable.
func (c *Coordinator) derivePolicySecrets(ctx context.Context, res *Result) {
	for _, def := range c.policies {
		value, err := c.derivePolicySecret(ctx, res.RootSecret, def)
		if err != nil {
			metrics.PolicySecretFailures.Inc()
			c.log.Error("policy secret failed", zap.String("policy", def.Name), zap.Error(err))
			res.PolicyFailures = append(res.PolicyFailures, PolicyFailure{Policy: def.Name, Err: err})
			continue
		}
		c.log.Info("policy secret persisted", zap.String("policy", def.Name))
		res.PolicySecrets[def.Name] = value
	}
}

func (c *Coordinator) derivePolicySecret(ctx context.Context, root string, def acl.PolicyDefinition) (string, error) {
	_, err := retry.Do(ctx, c.opts.BootstrapAttempts, c.opts.BootstrapDelay, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.acl.CreatePolicy(ctx, root, def)
	})
	if err != nil {
		return "", fmt.Errorf("register policy: %w", err)
	}

	token, err := retry.Do(ctx, c.opts.BootstrapAttempts, c.opts.BootstrapDelay, func(ctx context.Context) (string, error) {
		return c.acl.MintPolicyToken(ctx, root, def.Name)
	})
	if err != nil {
		return "", fmt.Errorf("mint scoped secret: %w", err)
	}
	if _, err := uuid.Parse(token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSecret, err)
	}

	type writeOutcome struct{ lost bool }
	out, err := retry.Do(ctx, c.opts.BootstrapAttempts, c.opts.BootstrapDelay, func(ctx context.Context) (writeOutcome, error) {
		err := c.store.Create(ctx, def.Name, token)
		if errors.Is(err, secretstore.ErrAlreadyExists) {
			return writeOutcome{lost: true}, nil
		}
		return writeOutcome{}, err
	})
	if err != nil {
		return "", fmt.Errorf("persist scoped secret: %w", err)
	}
	if out.lost {
		// A previous partial run already persisted this policy's secret.
		// That value is authoritative; the fresh token is discarded.
		existing, getErr := c.store.Get(ctx, def.Name)
		if getErr != nil {
			return "", fmt.Errorf("read existing scoped secret: %w", getErr)
		}
		return existing.Value, nil
	}
	return token, nil
}
