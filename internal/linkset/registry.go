// Package linkset loads the declarative account/link seed file: which
// exchange accounts exist, which are masters, and which followers copy them.
// The file is schema-validated, applied to the ledger at startup and
// hot-reloaded on change.
package linkset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"copytrade/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AccountSpec is one declared exchange account.
type AccountSpec struct {
	Name           string  `mapstructure:"name" yaml:"name" json:"name"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	SecretKey      string  `mapstructure:"secret_key" yaml:"secret_key" json:"secret_key"`
	IsMaster       bool    `mapstructure:"is_master" yaml:"is_master" json:"is_master"`
	IsActive       bool    `mapstructure:"is_active" yaml:"is_active" json:"is_active"`
	Leverage       int     `mapstructure:"leverage" yaml:"leverage" json:"leverage,omitempty"`
	RiskPercentage float64 `mapstructure:"risk_percentage" yaml:"risk_percentage" json:"risk_percentage,omitempty"`
}

// LinkSpec routes one master's trades to one follower, both by account name.
type LinkSpec struct {
	Master            string  `mapstructure:"master" yaml:"master" json:"master"`
	Follower          string  `mapstructure:"follower" yaml:"follower" json:"follower"`
	IsActive          bool    `mapstructure:"is_active" yaml:"is_active" json:"is_active"`
	CopyPercentage    float64 `mapstructure:"copy_percentage" yaml:"copy_percentage" json:"copy_percentage,omitempty"`
	RiskMultiplier    float64 `mapstructure:"risk_multiplier" yaml:"risk_multiplier" json:"risk_multiplier,omitempty"`
	MaxRiskPercentage float64 `mapstructure:"max_risk_percentage" yaml:"max_risk_percentage" json:"max_risk_percentage,omitempty"`
}

// FileConfig maps the seed file's top level.
type FileConfig struct {
	Accounts []AccountSpec `mapstructure:"accounts" yaml:"accounts" json:"accounts"`
	Links    []LinkSpec    `mapstructure:"links" yaml:"links" json:"links,omitempty"`
}

// Snapshot is one loaded, validated generation of the link set.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Accounts []AccountSpec
	Links    []LinkSpec
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

// Registry owns the seed file, its watcher and the current snapshot.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

const schemaJSON = `{
  "type": "object",
  "required": ["accounts"],
  "properties": {
    "accounts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "api_key", "secret_key"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "api_key": {"type": "string", "minLength": 1},
          "secret_key": {"type": "string", "minLength": 1},
          "is_master": {"type": "boolean"},
          "is_active": {"type": "boolean"},
          "leverage": {"type": "integer", "minimum": 1, "maximum": 125},
          "risk_percentage": {"type": "number", "exclusiveMinimum": 0, "maximum": 100}
        }
      }
    },
    "links": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["master", "follower"],
        "properties": {
          "master": {"type": "string", "minLength": 1},
          "follower": {"type": "string", "minLength": 1},
          "is_active": {"type": "boolean"},
          "copy_percentage": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
          "risk_multiplier": {"type": "number", "exclusiveMinimum": 0},
          "max_risk_percentage": {"type": "number", "exclusiveMinimum": 0, "maximum": 100}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("linkset.json", schemaJSON)

// NewRegistry reads the seed file, validates it and watches for updates.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("link set registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read link set file failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("link set reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current link set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// OnChange registers a listener fired after each successful reload.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	cfg, err := readLinkSetFile(r.path)
	if err != nil {
		return err
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}
	accounts := normalizeAccounts(cfg.Accounts)
	links, err := normalizeLinks(cfg.Links, accounts)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Accounts: accounts,
		Links:    links,
	}
	r.mu.Unlock()
	logger.Infof("Link set loaded: %d accounts, %d links from %s",
		len(accounts), len(links), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("link set listener")
			cb(snap)
		}(fn)
	}
}

func readLinkSetFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read link set file failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse link set file failed: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	// Round-trip through JSON so the schema sees plain maps and numbers.
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("link set schema validation failed: %w", err)
	}
	return nil
}

func normalizeAccounts(in []AccountSpec) []AccountSpec {
	out := make([]AccountSpec, 0, len(in))
	for _, acct := range in {
		acct.Name = strings.TrimSpace(acct.Name)
		acct.APIKey = strings.TrimSpace(acct.APIKey)
		acct.SecretKey = strings.TrimSpace(acct.SecretKey)
		if acct.Leverage <= 0 {
			acct.Leverage = 10
		}
		if acct.RiskPercentage <= 0 {
			acct.RiskPercentage = 10.0
		}
		out = append(out, acct)
	}
	return out
}

func normalizeLinks(in []LinkSpec, accounts []AccountSpec) ([]LinkSpec, error) {
	byName := make(map[string]AccountSpec, len(accounts))
	for _, acct := range accounts {
		byName[acct.Name] = acct
	}
	out := make([]LinkSpec, 0, len(in))
	for _, link := range in {
		link.Master = strings.TrimSpace(link.Master)
		link.Follower = strings.TrimSpace(link.Follower)
		master, ok := byName[link.Master]
		if !ok {
			return nil, fmt.Errorf("link references unknown master account %q", link.Master)
		}
		if !master.IsMaster {
			return nil, fmt.Errorf("link master %q is not declared is_master", link.Master)
		}
		follower, ok := byName[link.Follower]
		if !ok {
			return nil, fmt.Errorf("link references unknown follower account %q", link.Follower)
		}
		if follower.IsMaster {
			return nil, fmt.Errorf("link follower %q is declared is_master", link.Follower)
		}
		if link.Master == link.Follower {
			return nil, fmt.Errorf("account %q cannot follow itself", link.Master)
		}
		if link.CopyPercentage <= 0 {
			link.CopyPercentage = 100
		}
		if link.RiskMultiplier <= 0 {
			link.RiskMultiplier = 1.0
		}
		if link.MaxRiskPercentage <= 0 {
			link.MaxRiskPercentage = 50
		}
		out = append(out, link)
	}
	return out, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	return Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Accounts: append([]AccountSpec(nil), src.Accounts...),
		Links:    append([]LinkSpec(nil), src.Links...),
	}
}

func safeRecover(tag string) {
	if v := recover(); v != nil {
		logger.Errorf("%s panic: %v", tag, v)
	}
}
