// Package config loads the agent configuration: YAML file, then environment
// overrides, then sane defaults. One Config is built at process start and
// passed down explicitly; nothing reads it ambiently.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Cluster struct {
		// Tag is the cluster tag value every stored secret is namespaced by.
		// Empty means "read it from this instance's TagKey tag".
		Tag string `yaml:"tag"`
		// TagKey is the instance tag holding the cluster value when Tag is
		// not set explicitly.
		TagKey string `yaml:"tag_key"`
		// Region override; empty means "take it from instance metadata".
		Region string `yaml:"region"`
	} `yaml:"cluster"`

	Membership struct {
		// WaitForCapacity delays the role decision until the directory
		// reports at least the group's desired capacity. Narrows the window
		// where two nodes see different memberships; never required for
		// correctness.
		WaitForCapacity bool   `yaml:"wait_for_capacity"`
		Attempts        int    `yaml:"attempts"`
		Delay           string `yaml:"delay"`
	} `yaml:"membership"`

	Bootstrap struct {
		Attempts     int    `yaml:"attempts"`
		Delay        string `yaml:"delay"`
		PollAttempts int    `yaml:"poll_attempts"`
		PollDelay    string `yaml:"poll_delay"`
	} `yaml:"bootstrap"`

	Store struct {
		// Kind: awsparams | redis | postgres | memory
		Kind   string `yaml:"kind"`
		Prefix string `yaml:"prefix"`
		Redis  struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Nomad struct {
		Addr      string `yaml:"addr"`
		Region    string `yaml:"region"`
		PolicyDir string `yaml:"policy_dir"`
	} `yaml:"nomad"`

	Handoff struct {
		Path   string `yaml:"path"`
		Format string `yaml:"format"` // env | yaml
	} `yaml:"handoff"`

	Debug struct {
		// Listen enables the local debug endpoint (healthz/status/metrics)
		// when non-empty, e.g. "127.0.0.1:4649".
		Listen string `yaml:"listen"`
	} `yaml:"debug"`
}

// Load reads the YAML file at path (optional: empty path skips the file),
// applies environment overrides and fills defaults. Durations are validated
// here so a typo fails at startup, not mid-bootstrap.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	c.applyEnv()

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Membership.Attempts == 0 {
		c.Membership.Attempts = 30
	}
	if c.Membership.Delay == "" {
		c.Membership.Delay = "10s"
	}
	if c.Bootstrap.Attempts == 0 {
		c.Bootstrap.Attempts = 6
	}
	if c.Bootstrap.Delay == "" {
		c.Bootstrap.Delay = "10s"
	}
	if c.Bootstrap.PollAttempts == 0 {
		c.Bootstrap.PollAttempts = 60
	}
	if c.Bootstrap.PollDelay == "" {
		c.Bootstrap.PollDelay = "10s"
	}
	if c.Store.Kind == "" {
		c.Store.Kind = "awsparams"
	}
	if c.Store.Prefix == "" {
		c.Store.Prefix = "/rallypoint"
	}
	if c.Nomad.PolicyDir == "" {
		c.Nomad.PolicyDir = "/etc/rallypoint/policies"
	}
	if c.Handoff.Path == "" {
		c.Handoff.Path = "/etc/rallypoint/secrets.env"
	}
	if c.Handoff.Format == "" {
		c.Handoff.Format = "env"
	}

	if c.Cluster.TagKey == "" {
		c.Cluster.TagKey = "rallypoint:cluster"
	}

	// validate string durations
	for name, v := range map[string]string{
		"membership.delay":     c.Membership.Delay,
		"bootstrap.delay":      c.Bootstrap.Delay,
		"bootstrap.poll_delay": c.Bootstrap.PollDelay,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("config: %s: %w", name, err)
		}
	}

	return &c, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&c.App.Env, "RALLYPOINT_ENV")
	setStr(&c.Log.Level, "RALLYPOINT_LOG_LEVEL")
	setStr(&c.Cluster.Tag, "RALLYPOINT_CLUSTER")
	setStr(&c.Cluster.TagKey, "RALLYPOINT_CLUSTER_TAG_KEY")
	setStr(&c.Cluster.Region, "RALLYPOINT_REGION")
	setStr(&c.Store.Kind, "RALLYPOINT_STORE")
	setStr(&c.Store.Prefix, "RALLYPOINT_STORE_PREFIX")
	setStr(&c.Store.Redis.Addr, "RALLYPOINT_REDIS_ADDR")
	setStr(&c.Store.Postgres.DSN, "RALLYPOINT_POSTGRES_DSN")
	setStr(&c.Nomad.Addr, "RALLYPOINT_NOMAD_ADDR")
	setStr(&c.Nomad.PolicyDir, "RALLYPOINT_POLICY_DIR")
	setStr(&c.Handoff.Path, "RALLYPOINT_HANDOFF_PATH")
	setStr(&c.Handoff.Format, "RALLYPOINT_HANDOFF_FORMAT")
	setStr(&c.Debug.Listen, "RALLYPOINT_DEBUG_LISTEN")
	if v := os.Getenv("RALLYPOINT_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = n
		}
	}
	if v := os.Getenv("RALLYPOINT_WAIT_FOR_CAPACITY"); v != "" {
		c.Membership.WaitForCapacity = v == "1" || v == "true"
	}
}

// MembershipDelay and friends return the parsed durations. Load already
// validated them; a zero value here means Load was bypassed.
func (c *Config) MembershipDelay() time.Duration { return parseDur(c.Membership.Delay) }
func (c *Config) BootstrapDelay() time.Duration  { return parseDur(c.Bootstrap.Delay) }
func (c *Config) PollDelay() time.Duration       { return parseDur(c.Bootstrap.PollDelay) }

func parseDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
