package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Bootstrap-related Prometheus metrics. Standalone package so the
// coordinator and the HTTP debug listener can share them without an import
// cycle.

var (
	BootstrapAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rallypoint_bootstrap_attempts_total",
		Help: "Calls made to the ACL bootstrap operation",
	})

	StoreRacesLost = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rallypoint_store_races_lost_total",
		Help: "Create-if-absent attempts that lost to a concurrent writer",
	})

	FollowerPolls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rallypoint_follower_polls_total",
		Help: "Polls of the shared store for the root secret",
	})

	PolicySecretFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rallypoint_policy_secret_failures_total",
		Help: "Per-policy secret mint/persist failures (non-fatal)",
	})

	CoordinatorRole = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rallypoint_coordinator_role",
		Help: "1 when this node elected itself rally point, 0 otherwise",
	})
)

// Register registers the bootstrap metrics on the given registry (or the
// default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		BootstrapAttempts,
		StoreRacesLost,
		FollowerPolls,
		PolicySecretFailures,
		CoordinatorRole,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
