// rallypoint runs once on every node of an autoscaling group at boot,
// elects the single bootstrap coordinator, performs the one-time cluster ACL
// bootstrap, and hands the resulting secrets to the config renderer. Exit
// code 0 means the node reached Done; non-zero codes name the failure kind.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rallyops/rallypoint/internal/acl"
	"github.com/rallyops/rallypoint/internal/cloud"
	"github.com/rallyops/rallypoint/internal/config"
	"github.com/rallyops/rallypoint/internal/coordinator"
	"github.com/rallyops/rallypoint/internal/handoff"
	"github.com/rallyops/rallypoint/internal/metrics"
	"github.com/rallyops/rallypoint/internal/observability/logger"
	"github.com/rallyops/rallypoint/internal/rally"
	"github.com/rallyops/rallypoint/internal/retry"
	"github.com/rallyops/rallypoint/internal/secretstore"
	"github.com/rallyops/rallypoint/internal/status"
)

// set via -ldflags "-X main.version=..."
var version = "dev"

// Exit codes per failure kind, so the supervisor unit can distinguish "this
// node never got an identity" from "the fleet never produced a secret".
const (
	exitOK          = 0
	exitGeneric     = 1
	exitMetadata    = 2
	exitDirectory   = 3
	exitTimeout     = 4
	exitRetriesOver = 5
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "rallypoint",
		Short:         "Cluster ACL bootstrap coordinator for autoscaling-group fleets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file (optional)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Resolve identity, elect the rally point and bootstrap (or wait for) the cluster ACL secrets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), configPath)
		},
	}
	root.AddCommand(run)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version)
		},
	})

	return root
}

func runAgent(parent context.Context, configPath string) error {
	// .env is optional; real deployments set the environment from the unit file.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, Cluster: cfg.Cluster.Tag})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("rallypoint")

	if err := metrics.Register(nil); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := status.NewTracker()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Debug.Listen != "" {
		g.Go(func() error {
			return status.Serve(gctx, cfg.Debug.Listen, tracker, log.Named("debug"))
		})
	}

	var runErr error
	g.Go(func() error {
		defer cancel()
		runErr = bootstrapNode(gctx, cfg, tracker, log)
		if runErr != nil {
			tracker.Fail(runErr)
			log.Error("bootstrap failed", zap.Error(runErr))
		}
		// The debug listener is shut down by the cancel; the run error is
		// reported separately so a clean listener exit can't mask it.
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("debug listener failed", zap.Error(err))
		if runErr == nil {
			return err
		}
	}
	return runErr
}

func bootstrapNode(ctx context.Context, cfg *config.Config, tracker *status.Tracker, log *zap.Logger) error {
	tracker.SetPhase("resolving")

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithEC2IMDSRegion()}
	if cfg.Cluster.Region != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Cluster.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return fmt.Errorf("%w: load aws config: %v", cloud.ErrMetadataUnavailable, err)
	}
	directory := cloud.New(awsCfg)

	attempts, delay := cfg.Bootstrap.Attempts, cfg.BootstrapDelay()

	self, err := retry.Do(ctx, attempts, delay, directory.ResolveNodeIdentity)
	if err != nil {
		return err
	}
	log = log.With(zap.String("node", self.InstanceID))
	log.Info("node identity resolved",
		zap.String("private_ip", self.PrivateIP),
		zap.String("az", self.AvailabilityZone),
		zap.String("region", self.Region))

	cluster := cfg.Cluster.Tag
	if cluster == "" {
		cluster, err = retry.Do(ctx, attempts, delay, func(ctx context.Context) (string, error) {
			return directory.ClusterTag(ctx, self.InstanceID, cfg.Cluster.TagKey)
		})
		if err != nil {
			return err
		}
		// The configured tag is already on every entry via logger.Init.
		log = log.With(zap.String("cluster", cluster))
		log.Info("cluster tag resolved", zap.String("tag_key", cfg.Cluster.TagKey))
	}

	groupName, err := retry.Do(ctx, attempts, delay, func(ctx context.Context) (string, error) {
		return directory.GroupForInstance(ctx, self.InstanceID)
	})
	if err != nil {
		return err
	}

	membership, err := resolveMembership(ctx, cfg, directory, groupName, log)
	if err != nil {
		return err
	}

	kv, closeKV, err := buildStore(ctx, cfg, directory)
	if err != nil {
		return err
	}
	defer closeKV()
	gateway := secretstore.NewGateway(kv, cfg.Store.Prefix, cluster)

	aclClient, err := acl.NewNomad(cfg.Nomad.Addr, cfg.Nomad.Region)
	if err != nil {
		return err
	}
	policies, err := acl.LoadPolicyDir(cfg.Nomad.PolicyDir)
	if err != nil {
		return err
	}
	log.Info("policy definitions loaded", zap.Int("count", len(policies)))

	if rally.IsRallyPoint(self, membership) {
		tracker.SetRole(string(coordinator.RoleCoordinator))
	} else {
		tracker.SetRole(string(coordinator.RoleFollower))
	}
	tracker.SetPhase("bootstrapping")

	coord := coordinator.New(gateway, aclClient, policies, coordinator.Options{
		BootstrapAttempts: cfg.Bootstrap.Attempts,
		BootstrapDelay:    cfg.BootstrapDelay(),
		PollAttempts:      cfg.Bootstrap.PollAttempts,
		PollDelay:         cfg.PollDelay(),
	}, log)

	res, err := coord.Run(ctx, self, membership)
	if err != nil {
		return err
	}

	if err := handoff.Write(cfg.Handoff.Path, handoff.Format(cfg.Handoff.Format), res.RootSecret, res.PolicySecrets); err != nil {
		return err
	}
	log.Info("secrets handed off",
		zap.String("path", cfg.Handoff.Path),
		zap.Int("policy_secrets", len(res.PolicySecrets)))

	for _, f := range res.PolicyFailures {
		log.Warn("policy secret missing from store", zap.String("policy", f.Policy), zap.Error(f.Err))
	}

	tracker.SetPhase("done")
	log.Info("bootstrap done", zap.String("role", string(res.Role)))
	return nil
}

// resolveMembership fetches a fresh membership snapshot, optionally holding
// until the group is at declared capacity so every node elects from the same
// member list.
func resolveMembership(ctx context.Context, cfg *config.Config, directory *cloud.Client, groupName string, log *zap.Logger) (cloud.MembershipSet, error) {
	attempts, delay := cfg.Bootstrap.Attempts, cfg.BootstrapDelay()
	if cfg.Membership.WaitForCapacity {
		attempts, delay = cfg.Membership.Attempts, cfg.MembershipDelay()
	}

	membership, err := retry.Do(ctx, attempts, delay, func(ctx context.Context) (cloud.MembershipSet, error) {
		m, err := directory.ResolveMembership(ctx, groupName)
		if err != nil {
			return cloud.MembershipSet{}, err
		}
		if cfg.Membership.WaitForCapacity && m.Size() < m.DesiredCapacity {
			return cloud.MembershipSet{}, fmt.Errorf("group %s at %d/%d members", groupName, m.Size(), m.DesiredCapacity)
		}
		return m, nil
	})
	if err != nil {
		return cloud.MembershipSet{}, err
	}
	log.Info("membership resolved",
		zap.String("group", groupName),
		zap.Int("members", membership.Size()),
		zap.Int("desired_capacity", membership.DesiredCapacity))
	return membership, nil
}

func buildStore(ctx context.Context, cfg *config.Config, directory *cloud.Client) (secretstore.KV, func(), error) {
	noop := func() {}
	switch cfg.Store.Kind {
	case "awsparams":
		return secretstore.NewAWSParams(directory), noop, nil
	case "redis":
		r := secretstore.NewRedis(cfg.Store.Redis.Addr, cfg.Store.Redis.DB)
		return r, func() { _ = r.Close() }, nil
	case "postgres":
		p, err := secretstore.NewPostgres(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "memory":
		// Single-node dev mode only: nothing is shared across processes.
		return secretstore.NewMemory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch {
	case errors.Is(err, cloud.ErrMetadataUnavailable):
		return exitMetadata
	case errors.Is(err, cloud.ErrDirectoryLookup):
		return exitDirectory
	case errors.Is(err, coordinator.ErrBootstrapTimeout):
		return exitTimeout
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return exitRetriesOver
	}
	return exitGeneric
}
