package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "proxy.txt", cfg.Files.Proxies)
	assert.Equal(t, "token.txt", cfg.Files.AccessTokens)
	assert.Equal(t, "refreshtoken.txt", cfg.Files.RefreshTokens)
	assert.Equal(t, "idtoken.txt", cfg.Files.IdentityTokens)

	assert.Equal(t, 3, cfg.Runner.Concurrency)
	assert.Equal(t, 12*time.Hour, cfg.Runner.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Runner.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Runner.RequestTimeout)

	assert.Equal(t, "https://auth.privy.io/api/v1/sessions", cfg.Remote.RefreshURL)
	assert.Equal(t, "https://api.deform.cc/", cfg.Remote.APIURL)
	assert.Equal(t, "c326c0bb-0f42-4ab7-8c5e-4a648259b807", cfg.Remote.ActivityID)
	assert.Equal(t, "https://ofc.onefootball.com/", cfg.Remote.Referer)
	assert.True(t, cfg.Remote.InsecureSkipVerify())

	assert.Equal(t, "ofc_checkin.log", cfg.Log.File)
	assert.True(t, cfg.Log.Stdout)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "data/checkin.db", cfg.Store.Path)
	assert.Equal(t, 30, cfg.Store.RetentionDays)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, 8319, cfg.API.Port)
	assert.False(t, cfg.Telegram.Enabled)
}

func TestFilesConfig_Validate(t *testing.T) {
	t.Run("distinct paths", func(t *testing.T) {
		f := FilesConfig{Proxies: "a.txt"}
		require.NoError(t, f.Validate())
		assert.Equal(t, "a.txt", f.Proxies)
		assert.Equal(t, "token.txt", f.AccessTokens)
	})

	t.Run("shared path rejected", func(t *testing.T) {
		f := FilesConfig{AccessTokens: "same.txt", RefreshTokens: "same.txt"}
		err := f.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "same.txt")
	})
}

func TestRunnerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RunnerConfig
		want    RunnerConfig
		wantErr bool
	}{
		{
			name:   "defaults",
			config: RunnerConfig{},
			want:   RunnerConfig{Concurrency: 3, Interval: 12 * time.Hour, Backoff: 5 * time.Minute, RequestTimeout: 30 * time.Second},
		},
		{
			name:   "explicit values kept",
			config: RunnerConfig{Concurrency: 8, Interval: time.Hour, Backoff: time.Minute, RequestTimeout: 5 * time.Second},
			want:   RunnerConfig{Concurrency: 8, Interval: time.Hour, Backoff: time.Minute, RequestTimeout: 5 * time.Second},
		},
		{
			name:   "concurrency capped",
			config: RunnerConfig{Concurrency: 500},
			want:   RunnerConfig{Concurrency: 64, Interval: 12 * time.Hour, Backoff: 5 * time.Minute, RequestTimeout: 30 * time.Second},
		},
		{
			name:    "negative concurrency",
			config:  RunnerConfig{Concurrency: -1},
			wantErr: true,
		},
		{
			name:   "per proxy limit kept",
			config: RunnerConfig{PerProxyLimit: 1},
			want:   RunnerConfig{Concurrency: 3, Interval: 12 * time.Hour, Backoff: 5 * time.Minute, RequestTimeout: 30 * time.Second, PerProxyLimit: 1},
		},
		{
			name:    "negative per proxy limit",
			config:  RunnerConfig{PerProxyLimit: -2},
			wantErr: true,
		},
		{
			name:    "negative interval",
			config:  RunnerConfig{Interval: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tt.config)
		})
	}
}

func TestRemoteConfig_Validate(t *testing.T) {
	r := RemoteConfig{APIURL: "not a url"}
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")

	skip := false
	r = RemoteConfig{Origin: "https://example.test", SkipTLSVerify: &skip}
	require.NoError(t, r.Validate())
	assert.Equal(t, "https://example.test/", r.Referer)
	assert.False(t, r.InsecureSkipVerify())
}

func TestLogConfig_Validate(t *testing.T) {
	l := LogConfig{Level: "verbose"}
	require.Error(t, l.Validate())

	l = LogConfig{Verbose: true, Quiet: true}
	require.Error(t, l.Validate())

	l = LogConfig{Level: "DEBUG"}
	require.NoError(t, l.Validate())
	assert.Equal(t, 10, l.MaxSizeMB)
	assert.Equal(t, 5, l.MaxBackups)
	assert.Equal(t, 30, l.MaxAgeDays)
}

func TestAPIConfig_Validate(t *testing.T) {
	a := APIConfig{Port: 70000}
	require.Error(t, a.Validate())

	a = APIConfig{}
	require.NoError(t, a.Validate())
	assert.Equal(t, "127.0.0.1", a.Host)
	assert.Equal(t, 10*time.Second, a.ShutdownTimeout)
}

func TestTelegramConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  TelegramConfig
		wantErr bool
	}{
		{name: "disabled", config: TelegramConfig{}},
		{name: "enabled", config: TelegramConfig{Enabled: true, BotToken: "123:abc", ChatID: 42}},
		{name: "missing token", config: TelegramConfig{Enabled: true, ChatID: 42}, wantErr: true},
		{name: "missing chat", config: TelegramConfig{Enabled: true, BotToken: "123:abc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")
	t.Setenv("ANOTHER_VAR", "another_value")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no substitution", input: "hello world", expected: "hello world"},
		{name: "single substitution", input: "value is ${TEST_VAR}", expected: "value is test_value"},
		{name: "multiple substitutions", input: "${TEST_VAR} and ${ANOTHER_VAR}", expected: "test_value and another_value"},
		{name: "missing env var returns empty", input: "value is ${MISSING_VAR}", expected: "value is "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(substituteEnvVars([]byte(tt.input))))
		})
	}
}

func TestParse(t *testing.T) {
	configYAML := `
version: "1"
files:
  proxies: "p.txt"
runner:
  concurrency: 5
  interval: "6h"
  backoff: "1m"
remote:
  activity_id: "activity-1"
  utls: true
log:
  level: "debug"
  verbose: true
store:
  enabled: false
api:
  enabled: true
  port: 9000
telegram:
  enabled: true
  bot_token: "123:abc"
  chat_id: -100
`

	config, err := Parse([]byte(configYAML))
	require.NoError(t, err)

	assert.Equal(t, "p.txt", config.Files.Proxies)
	assert.Equal(t, "token.txt", config.Files.AccessTokens)
	assert.Equal(t, 5, config.Runner.Concurrency)
	assert.Equal(t, 6*time.Hour, config.Runner.Interval)
	assert.Equal(t, time.Minute, config.Runner.Backoff)
	assert.Equal(t, 30*time.Second, config.Runner.RequestTimeout)
	assert.Equal(t, "activity-1", config.Remote.ActivityID)
	assert.True(t, config.Remote.UTLS)
	assert.Equal(t, "debug", config.Log.Level)
	assert.True(t, config.Log.Verbose)
	assert.True(t, config.Log.Stdout)
	assert.False(t, config.Store.Enabled)
	assert.True(t, config.API.Enabled)
	assert.Equal(t, 9000, config.API.Port)
	assert.Equal(t, int64(-100), config.Telegram.ChatID)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("runner:\n  concurrency: many\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParse_InvalidConfig(t *testing.T) {
	_, err := Parse([]byte("telegram:\n  enabled: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("TEST_BOT_TOKEN", "999:secret")
	writeConfig(t, configPath, `
telegram:
  enabled: true
  bot_token: "${TEST_BOT_TOKEN}"
  chat_id: 7
`)

	loader := NewLoader(configPath)
	config, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "999:secret", config.Telegram.BotToken)
	assert.Equal(t, config, loader.Get())
	assert.Equal(t, configPath, loader.Path())
}

func TestLoad_FileNotFound(t *testing.T) {
	loader := NewLoader("/nonexistent/path/config.yaml")
	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"))
		config, err := loader.LoadOrDefault()
		require.NoError(t, err)
		assert.Equal(t, Default(), config)
		assert.Equal(t, config, loader.Get())
	})

	t.Run("broken file is an error", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		writeConfig(t, configPath, "runner: [")
		_, err := NewLoader(configPath).LoadOrDefault()
		require.Error(t, err)
	})
}

func TestLoader_OnChange(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "runner:\n  concurrency: 2\n")

	loader := NewLoader(configPath)

	var got *Config
	loader.SetOnChange(func(c *Config) {
		got = c
	})

	_, err := loader.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = loader.Reload()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Runner.Concurrency)
}

func TestLoader_Watch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, configPath, "runner:\n  concurrency: 2\n")

	loader := NewLoader(configPath)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	loader.SetOnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loader.Watch(ctx)
	}()

	// Give the watcher time to register before replacing the file.
	time.Sleep(100 * time.Millisecond)
	tmp := configPath + ".tmp"
	writeConfig(t, tmp, "runner:\n  concurrency: 7\n")
	require.NoError(t, os.Rename(tmp, configPath))

	deadline := time.After(5 * time.Second)
	for seen := 0; seen != 7; {
		select {
		case c := <-changed:
			seen = c.Runner.Concurrency
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
	assert.Equal(t, 7, loader.Get().Runner.Concurrency)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "config.yaml", PathFromEnv())

	t.Setenv(EnvConfigPath, "/etc/checkinbot.yaml")
	assert.Equal(t, "/etc/checkinbot.yaml", PathFromEnv())
}
