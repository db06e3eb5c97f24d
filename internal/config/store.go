package config

import (
	"bytes"
	"sync"

	heikeErrors "github.com/harunnryd/heike/internal/errors"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
)

// Store is the process-wide Config Store (§4.2): get/set/save/reload
// over the same defaults→file→env→flags chain Load runs once, with a
// copy-on-reload snapshot so concurrent readers never observe a
// half-written Config. cmd is retained so Reload and Save can re-run
// the chain against the same --config flag / CLI flags the process
// started with.
type Store struct {
	cmd *cobra.Command

	mu  sync.RWMutex
	k   *koanf.Koanf
	cfg *Config
}

// NewStore builds a Store from the same chain Load uses, failing with
// a wrapped ErrConfig if the chain can't be parsed into a Config.
func NewStore(cmd *cobra.Command) (*Store, error) {
	k, err := buildKoanf(cmd)
	if err != nil {
		return nil, heikeErrors.Config("config store: " + err.Error())
	}
	cfg, err := decode(k)
	if err != nil {
		return nil, heikeErrors.Config("config store: " + err.Error())
	}
	return &Store{cmd: cmd, k: k, cfg: cfg}, nil
}

// Snapshot returns the current typed Config. The returned pointer is
// never mutated in place: Reload and Set always swap in a new one, so
// a caller that holds onto a Snapshot result sees a consistent view
// for as long as it keeps that pointer.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Get reads a single dotted key from the underlying chain (§4.2
// get(key)), the same path format koanf struct tags use (e.g.
// "agent.provider").
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.k.Exists(key) {
		return nil, false
	}
	return s.k.Get(key), true
}

// Set writes a single dotted key in memory and re-decodes the typed
// snapshot so subsequent Snapshot/Get calls observe it (§4.2
// set(key,value)). It does not persist to disk; call Save for that.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.k.Set(key, value)
	cfg, err := decode(s.k)
	if err != nil {
		return heikeErrors.Config("config store: set " + key + ": " + err.Error())
	}
	s.cfg = cfg
	return nil
}

// Save persists the current in-memory chain to the backing YAML file
// (§4.2 save()), using an atomic rename so a reader never observes a
// truncated file.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := s.k.Marshal(yaml.Parser())
	path, _ := resolveConfigPath(s.cmd)
	s.mu.RUnlock()
	if err != nil {
		return heikeErrors.Config("config store: marshal: " + err.Error())
	}
	if path == "" {
		return heikeErrors.Config("config store: no config path to save to")
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return heikeErrors.Config("config store: save " + path + ": " + err.Error())
	}
	return nil
}

// Reload re-reads the defaults→file→env→flags chain from disk and
// atomically swaps in the new snapshot (§4.2 reload(), §4.11 step 1:
// called at the start of every task). Concurrent Snapshot/Get callers
// always observe either the old or the new Config in full, never a
// partial one.
func (s *Store) Reload() (*Config, error) {
	k, err := buildKoanf(s.cmd)
	if err != nil {
		return nil, heikeErrors.Config("config store: reload: " + err.Error())
	}
	cfg, err := decode(k)
	if err != nil {
		return nil, heikeErrors.Config("config store: reload: " + err.Error())
	}

	s.mu.Lock()
	s.k = k
	s.cfg = cfg
	s.mu.Unlock()

	return cfg, nil
}

// Provider returns the current agent.provider value.
func (s *Store) Provider() string {
	return s.Snapshot().Agent.Provider
}

// Model returns the model name for the current provider, falling back
// to models.default (ModelForProvider).
func (s *Store) Model() string {
	return ModelForProvider(s.Snapshot())
}
