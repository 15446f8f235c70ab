package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads the migration YAML file and can watch it for changes. Watching
// is used by the preview command so rule edits are re-validated on save; a
// run in progress never reloads.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Path returns the config file path.
func (l *Loader) Path() string { return l.path }

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that reloads the config on file
// changes. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						// Keep the old config on parse failure.
						continue
					}
				}
			case <-w.Errors:
				// Ignore watcher errors.
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML bytes and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Source.Region == "" {
		cfg.Source.Region = "US"
	}
	if cfg.Destination.Region == "" {
		cfg.Destination.Region = "US"
	}
	if cfg.Events.PropertyKeep == nil {
		cfg.Events.PropertyKeep = map[string][]string{"*": {"*"}}
	}
	if cfg.Time.Strategy == "" {
		cfg.Time.Strategy = "prefer_client_fallback_server_received"
	}
	if cfg.Time.MissingPolicy == "" {
		cfg.Time.MissingPolicy = "drop"
	}
	if cfg.Identity.RemapScope == "" {
		cfg.Identity.RemapScope = "user_id"
	}
	if cfg.Identity.UnmappedPolicy == "" {
		cfg.Identity.UnmappedPolicy = "keep"
	}
	if cfg.Usage.Strategy == "" {
		cfg.Usage.Strategy = "union"
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 500
	}
	if cfg.Delivery.RequestTimeoutS == 0 {
		cfg.Delivery.RequestTimeoutS = 30
	}
	if cfg.Delivery.MaxRetries == 0 {
		cfg.Delivery.MaxRetries = 5
	}
	if cfg.Delivery.BackoffBaseS == 0 {
		cfg.Delivery.BackoffBaseS = 1.5
	}
	if cfg.Report.Dir == "" {
		cfg.Report.Dir = "migration_runs"
	}
	if cfg.Report.SampleLimit == 0 {
		cfg.Report.SampleLimit = 20
	}
}
