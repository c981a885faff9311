package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/checkinbot/checkinbot/internal/errors"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable overriding the config path.
const EnvConfigPath = "CHECKINBOT_CONFIG_PATH"

// Loader handles configuration loading and hot-reloading
type Loader struct {
	path     string
	mu       sync.RWMutex
	config   *Config
	lastMod  time.Time
	onChange func(*Config)
	logger   *logging.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:   path,
		logger: logging.Nop(),
	}
}

// SetLogger sets the logger used by the watcher.
func (l *Loader) SetLogger(logger *logging.Logger) {
	if logger == nil {
		logger = logging.Nop()
	}
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the configuration from the file
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ErrConfigNotFound{Path: l.path}
		}
		return nil, &errors.ErrFileRead{Path: l.path, Err: err}
	}

	content, err := os.ReadFile(l.path)
	if err != nil {
		return nil, &errors.ErrFileRead{Path: l.path, Err: err}
	}

	config, err := Parse(substituteEnvVars(content))
	if err != nil {
		return nil, err
	}

	l.config = config
	l.lastMod = info.ModTime()

	return config, nil
}

// LoadOrDefault loads the configuration file, falling back to defaults when it does not exist.
func (l *Loader) LoadOrDefault() (*Config, error) {
	config, err := l.Load()
	if err == nil {
		return config, nil
	}

	var notFound *errors.ErrConfigNotFound
	if !errors.As(err, &notFound) {
		return nil, err
	}

	config = Default()
	l.mu.Lock()
	l.config = config
	l.mu.Unlock()
	return config, nil
}

// Reload forces a reload of the configuration
func (l *Loader) Reload() (*Config, error) {
	config, err := l.Load()
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	onChange := l.onChange
	l.mu.RUnlock()

	if onChange != nil {
		onChange(config)
	}

	return config, nil
}

// Get returns the current configuration
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// SetOnChange sets a callback to be called when configuration changes
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Watch reloads the configuration whenever the file is written, until ctx is done.
// The parent directory is watched so editors that replace the file are still seen.
// A reload that fails keeps the previous configuration.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return &errors.ErrFileRead{Path: dir, Err: err}
	}

	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			l.checkFileChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log().Warn("config watcher error", "error", err.Error())
		}
	}
}

func (l *Loader) checkFileChange() {
	info, err := os.Stat(l.path)
	if err != nil {
		return
	}

	l.mu.RLock()
	lastMod := l.lastMod
	l.mu.RUnlock()

	if !info.ModTime().After(lastMod) {
		return
	}
	if _, err := l.Reload(); err != nil {
		l.log().Error("config reload failed", "path", l.path, "error", err.Error())
		return
	}
	l.log().Info("config reloaded", "path", l.path)
}

func (l *Loader) log() *logging.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

// PathFromEnv returns the configuration path from the environment or the default.
func PathFromEnv() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return "config.yaml"
}

// Parse parses configuration from byte slice
func Parse(data []byte) (*Config, error) {
	var config Config

	// Apply defaults before parsing
	config.Log.Stdout = true
	config.Store.Enabled = true

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}

	if err := config.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}

	return &config, nil
}

func substituteEnvVars(content []byte) []byte {
	return []byte(os.ExpandEnv(string(content)))
}
