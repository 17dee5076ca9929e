// Package config loads the step daemon's static configuration: the spool
// directory, node naming, the authorized service user, handler timeouts,
// and the cached passwd/group record used by GETPW/GETGR (spec.md §6).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PwRecord is the cached passwd/group information for a step's owning
// user, consumed by pkg/identity to answer GETPW/GETGR without a
// directory-service round trip (spec.md §4.9).
type PwRecord struct {
	Name    string   `yaml:"name"`
	UID     uint32   `yaml:"uid"`
	GID     uint32   `yaml:"gid"`
	Gecos   string   `yaml:"gecos"`
	Dir     string   `yaml:"dir"`
	Shell   string   `yaml:"shell"`
	Groups  []uint32 `yaml:"gids"`
	GrNames []string `yaml:"gr_names"`
}

// Config is the full set of configuration items this core consumes.
type Config struct {
	// SpoolDir may contain a "<node_name>" placeholder, resolved against
	// NodeName at load time.
	SpoolDir string `yaml:"spool_dir"`
	NodeName string `yaml:"node_name"`

	ServiceUID uint32 `yaml:"service_uid"`

	SuspendTimeout time.Duration `yaml:"suspend_timeout"`
	ResumeTimeout  time.Duration `yaml:"resume_timeout"`
	KillWait       time.Duration `yaml:"kill_wait"`

	PwCache map[uint32]PwRecord `yaml:"-"`
	Users   []PwRecord          `yaml:"users"`
}

// defaults returns the baseline Config the on-disk file is unmarshaled
// over, so a partial YAML document still produces sane timeouts.
func defaults() Config {
	return Config{
		SpoolDir:       "/var/spool/stepd/<node_name>",
		ServiceUID:     0,
		SuspendTimeout: 60 * time.Second,
		ResumeTimeout:  60 * time.Second,
		KillWait:       5 * time.Second,
	}
}

// Load reads and parses a YAML configuration file, resolving NodeName
// (falling back to the short hostname) and expanding the spool
// directory placeholder.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.NodeName == "" {
		name, err := shortHostname()
		if err != nil {
			return nil, fmt.Errorf("config: resolve node name: %w", err)
		}
		cfg.NodeName = name
	}
	cfg.SpoolDir = strings.ReplaceAll(cfg.SpoolDir, "<node_name>", cfg.NodeName)

	cfg.PwCache = make(map[uint32]PwRecord, len(cfg.Users))
	for _, u := range cfg.Users {
		cfg.PwCache[u.UID] = u
	}

	return &cfg, nil
}

// shortHostname returns the hostname truncated at the first ".", the
// fallback path spec.md §4.3 names for deriving the node name.
func shortHostname() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", err
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	return host, nil
}

// IsServiceUser reports whether uid is the authorized service user: root
// or the configured service uid (spec.md GLOSSARY "Service user").
func (c *Config) IsServiceUser(uid uint32) bool {
	return uid == 0 || uid == c.ServiceUID
}
