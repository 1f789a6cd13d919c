package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"

	"dbcluster/action"
	"dbcluster/member"
)

// Mode selects how a cluster rebuilds its membership at startup.
type Mode string

const (
	// ModeAutoStart connects the members declared in the configuration.
	ModeAutoStart Mode = "auto-start"
	// ModeAutoConnect reconnects the members persisted by a previous run.
	ModeAutoConnect Mode = "auto-connect"
	// ModeAutoRebuild is ModeAutoConnect plus the members quarantined by the
	// previous run, whose tables are rebuilt from the rest of the cluster.
	ModeAutoRebuild Mode = "auto-rebuild"
	// ModeFullyManual loads and persists nothing.
	ModeFullyManual Mode = "fully-manual"
)

const (
	DefaultWaitAttempts = 100
	DefaultWaitInterval = 100 * time.Millisecond
	DefaultLogLevel     = "info"
)

// Duration is a time.Duration read from strings like "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// StoreConfig selects where membership is persisted.
type StoreConfig struct {
	Type string `toml:"type" validate:"omitempty,oneof=file leveldb zookeeper"`
	// Path is the file (.toml, .yaml, .yml) or the leveldb directory.
	Path string `toml:"path"`
	// Servers and Root locate the zookeeper ensemble and the parent znode.
	Servers []string `toml:"servers" validate:"required_if=Type zookeeper"`
	Root    string   `toml:"root"`
}

// AdminConfig addresses the admin and metrics endpoints, empty to disable.
type AdminConfig struct {
	AdminAddr     string   `toml:"admin_addr"`
	MetricsAddr   string   `toml:"metrics_addr"`
	FlushInterval Duration `toml:"metrics_flush_interval"`
}

// ClusterConfig configures one named cluster.
type ClusterConfig struct {
	Name  string `toml:"name" validate:"required"`
	Modes []Mode `toml:"modes" validate:"dive,oneof=auto-start auto-connect auto-rebuild fully-manual"`

	DataDir string              `toml:"data_dir"`
	Members []member.Descriptor `toml:"member" validate:"dive"`
	Tables  []*action.Table     `toml:"table"`
	Store   StoreConfig         `toml:"store"`
	Admin   AdminConfig         `toml:"admin"`

	// QuietErrors stops logging member failures that quarantine absorbed.
	QuietErrors bool `toml:"quiet_errors"`
	// SurfaceQuarantineErrors returns the failure that quarantined a member
	// to the caller even though the mutation succeeded elsewhere.
	SurfaceQuarantineErrors bool `toml:"surface_quarantine_errors"`

	WaitAttempts int      `toml:"wait_attempts" validate:"gte=0"`
	WaitInterval Duration `toml:"wait_interval"`

	LogDir   string `toml:"log_dir"`
	LogLevel string `toml:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
}

func newConfig(name string, modes ...Mode) *ClusterConfig {
	return &ClusterConfig{
		Name:         name,
		Modes:        modes,
		Store:        StoreConfig{Type: "file"},
		WaitAttempts: DefaultWaitAttempts,
		WaitInterval: Duration{DefaultWaitInterval},
		LogLevel:     DefaultLogLevel,
	}
}

// FullyManual is a cluster whose membership is only what the program adds.
func FullyManual(name string) *ClusterConfig {
	return newConfig(name, ModeFullyManual)
}

func AutoStart(name string) *ClusterConfig {
	return newConfig(name, ModeAutoStart)
}

func AutoConnect(name string) *ClusterConfig {
	return newConfig(name, ModeAutoConnect)
}

func AutoRebuild(name string) *ClusterConfig {
	return newConfig(name, ModeAutoRebuild)
}

// With adds a startup mode to the preset.
func (c *ClusterConfig) With(mode Mode) *ClusterConfig {
	if !c.Has(mode) {
		c.Modes = append(c.Modes, mode)
	}
	return c
}

func (c *ClusterConfig) Has(mode Mode) bool {
	for _, m := range c.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// IsFullyManual reports whether no automatic mode is set.
func (c *ClusterConfig) IsFullyManual() bool {
	return !c.Has(ModeAutoStart) && !c.Has(ModeAutoConnect) && !c.Has(ModeAutoRebuild)
}

// Persistent reports whether membership is read and written by the store.
func (c *ClusterConfig) Persistent() bool {
	return !c.IsFullyManual()
}

// StorePath returns the configured store path or the default next to the
// data directory.
func (c *ClusterConfig) StorePath() string {
	if len(c.Store.Path) > 0 {
		return c.Store.Path
	}
	dir := c.DataDir
	if len(dir) == 0 {
		dir = "."
	}
	if c.Store.Type == "leveldb" {
		return filepath.Join(dir, c.Name+".db")
	}
	return filepath.Join(dir, c.Name+".toml")
}

var validate = validator.New()

// Validate checks field constraints, mode combinations, tables and member
// uniqueness.
func (c *ClusterConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.NewNotValid(err, "cluster config")
	}
	if c.Has(ModeFullyManual) && !c.IsFullyManual() {
		return errors.NotValidf("mode %s combined with automatic modes", ModeFullyManual)
	}
	for _, t := range c.Tables {
		if err := t.Validate(); err != nil {
			return errors.NewNotValid(err, "table")
		}
	}
	seen := make(map[string]string, len(c.Members))
	for _, d := range c.Members {
		id := d.ID().String()
		if other, ok := seen[id]; ok {
			return errors.NotValidf("members %s and %s name the same database", other, d.Label)
		}
		seen[id] = d.Label
	}
	return nil
}

// Load reads the TOML configuration at configPath.
func Load(configPath string) (*ClusterConfig, error) {
	if len(configPath) == 0 {
		return nil, errors.New("config.Load error, err: config path is empty")
	}
	data, err := ioutil.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("config file %s", configPath)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Parse(string(data))
}

// Parse decodes and validates a TOML configuration.
func Parse(data string) (*ClusterConfig, error) {
	cfg := newConfig("")
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, errors.Trace(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}
