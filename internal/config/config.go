// Package config loads the operator's team registry (config.yml).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const (
	// HomeEnv overrides the config dir.
	HomeEnv = "BM_HOME"

	FileName             = "config.yml"
	DefaultWorkerCommand = "ralph"
	DefaultPrompt        = "PROMPT.md"
)

var (
	ErrNoConfig    = errors.New("no configuration found")
	ErrNoTeams     = errors.New("no teams configured")
	ErrNoTeam      = errors.New("no team selected")
	ErrUnknownTeam = errors.New("unknown team")
)

// Config is the top-level config.yml structure.
type Config struct {
	Workzone    string  `mapstructure:"workzone"`
	DefaultTeam string  `mapstructure:"default_team"`
	Teams       []Team  `mapstructure:"teams"`
	Worker      Worker  `mapstructure:"worker"`
	History     History `mapstructure:"history"`

	// Path is the file the config was read from.
	Path string `mapstructure:"-"`
}

// Team is one registered team.
type Team struct {
	Name        string      `mapstructure:"name"`
	Path        string      `mapstructure:"path"`
	Profile     string      `mapstructure:"profile"`
	GithubRepo  string      `mapstructure:"github_repo"`
	Credentials Credentials `mapstructure:"credentials"`
	Env         []string    `mapstructure:"env"`
	EnvFiles    []string    `mapstructure:"env_files"`
}

type Credentials struct {
	GHToken          string `mapstructure:"gh_token"`
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	WebhookSecret    string `mapstructure:"webhook_secret"`
}

// Worker names the executable run for every member and its prompt file.
type Worker struct {
	Command string `mapstructure:"command"`
	Prompt  string `mapstructure:"prompt"`
}

// History selects the launch history sink; an empty DSN disables it.
type History struct {
	DSN string `mapstructure:"dsn"`
}

// Dir returns the config dir: $BM_HOME, else ~/.botminter.
func Dir() string {
	if d := os.Getenv(HomeEnv); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botminter"
	}
	return filepath.Join(home, ".botminter")
}

func DefaultPath() string { return filepath.Join(Dir(), FileName) }

// Load reads path (DefaultPath when empty). Keys may be overridden through
// BM_-prefixed environment variables, e.g. BM_DEFAULT_TEAM or BM_WORKER_COMMAND.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrNoConfig, path)
		}
		return nil, err
	}
	warnPermissions(path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("workzone", filepath.Join(filepath.Dir(path), "workspaces"))
	v.SetDefault("default_team", "")
	v.SetDefault("worker.command", DefaultWorkerCommand)
	v.SetDefault("worker.prompt", DefaultPrompt)
	v.SetDefault("history.dsn", "")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.Path = path
	c.Workzone = expandHome(c.Workzone)
	for i := range c.Teams {
		c.Teams[i].Path = expandHome(c.Teams[i].Path)
	}
	return &c, nil
}

// TeamNames lists the registered teams, sorted.
func (c *Config) TeamNames() []string {
	names := make([]string, 0, len(c.Teams))
	for _, t := range c.Teams {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// ResolveTeam picks the team named by flag, falling back to default_team.
func (c *Config) ResolveTeam(flag string) (*Team, error) {
	if len(c.Teams) == 0 {
		return nil, ErrNoTeams
	}
	name := flag
	if name == "" {
		name = c.DefaultTeam
	}
	if name == "" {
		return nil, fmt.Errorf("%w: pass -t <team> or set default_team (available: %s)",
			ErrNoTeam, strings.Join(c.TeamNames(), ", "))
	}
	for i := range c.Teams {
		if c.Teams[i].Name == name {
			return &c.Teams[i], nil
		}
	}
	return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownTeam, name, strings.Join(c.TeamNames(), ", "))
}

// RepoDir is the team's repository checkout.
func (t *Team) RepoDir() string { return filepath.Join(t.Path, "team") }

// ExtraEnv returns the team's env_files entries followed by its env list,
// so inline entries win over file entries.
func (t *Team) ExtraEnv() ([]string, error) {
	var out []string
	for _, p := range t.EnvFiles {
		kvs, err := LoadEnvFile(expandHome(p))
		if err != nil {
			return nil, fmt.Errorf("team %s env file %s: %w", t.Name, p, err)
		}
		out = append(out, kvs...)
	}
	return append(out, t.Env...), nil
}

// LoadEnvFile parses KEY=VALUE lines; blank lines and # comments are skipped.
// Order follows the file.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out = append(out, k+"="+strings.TrimSpace(v))
	}
	return out, nil
}

// PermissionsTooOpen reports whether group or other can access path.
func PermissionsTooOpen(path string) (os.FileMode, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	mode := info.Mode().Perm()
	return mode, mode&0o077 != 0
}

func warnPermissions(path string) {
	if mode, open := PermissionsTooOpen(path); open {
		slog.Warn("config file holds credentials but is readable by others; run chmod 600",
			"path", path, "mode", fmt.Sprintf("%04o", mode))
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
