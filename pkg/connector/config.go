// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-twitdm/pkg/twitdm"
)

//go:embed example-config.yaml
var ExampleConfig string

// Permission levels, lowest to highest. A user must be at least "user" to
// link a Twitter account.
const (
	PermissionRelay = "relay"
	PermissionUser  = "user"
	PermissionAdmin = "admin"
)

// TwitterConfig holds the remote connection settings.
type TwitterConfig struct {
	BaseURL             string `yaml:"base_url"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
}

// PollInterval returns the configured poll interval, defaulting to 10s.
func (tc *TwitterConfig) PollInterval() time.Duration {
	if tc.PollIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(tc.PollIntervalSeconds) * time.Second
}

// Config is the top-level configuration for the session layer.
type Config struct {
	Database dbutil.Config     `yaml:"database"`
	Logging  zeroconfig.Config `yaml:"logging"`
	Twitter  TwitterConfig     `yaml:"twitter"`

	// Permissions maps "*", a homeserver domain or a full Matrix user ID
	// to a permission level.
	Permissions map[string]string `yaml:"permissions"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates permission levels and fills defaults.
func (c *Config) PostProcess() error {
	if c.Twitter.BaseURL == "" {
		c.Twitter.BaseURL = twitdm.DefaultBaseURL
	}
	for key, level := range c.Permissions {
		switch level {
		case PermissionRelay, PermissionUser, PermissionAdmin:
		default:
			return fmt.Errorf("invalid permission level %q for %q", level, key)
		}
	}
	return nil
}

// GetPermissions resolves the permission tier for a Matrix user ID, checking
// the exact user ID first, then the homeserver domain, then the wildcard.
func (c *Config) GetPermissions(mxid id.UserID) (whitelisted, admin bool, level string) {
	if lvl, ok := c.Permissions[string(mxid)]; ok {
		return derivePermissions(lvl)
	}
	if _, homeserver, err := mxid.Parse(); err == nil {
		if lvl, ok := c.Permissions[homeserver]; ok {
			return derivePermissions(lvl)
		}
	}
	if lvl, ok := c.Permissions["*"]; ok {
		return derivePermissions(lvl)
	}
	return false, false, ""
}

func derivePermissions(level string) (whitelisted, admin bool, lvl string) {
	switch level {
	case PermissionAdmin:
		return true, true, level
	case PermissionUser:
		return true, false, level
	default:
		return false, false, level
	}
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Map, "database")
	helper.Copy(up.Map, "logging")
	helper.Copy(up.Str, "twitter", "base_url")
	helper.Copy(up.Int, "twitter", "poll_interval_seconds")
	helper.Copy(up.Map, "permissions")
}

// ConfigUpgrader returns the upgrader that migrates an existing config file
// to the current example layout.
func ConfigUpgrader() up.Upgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// LoadConfig reads, parses and post-processes a config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
