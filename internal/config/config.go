package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// User identifies the author string stamped on new commits.
type User struct {
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
}

// Empty reports whether no usable author identity is configured.
func (u User) Empty() bool { return u.Name == "" || u.Email == "" }

// String formats the author the way museobj.Commit.Author expects:
// "Name <email>", falling back to whichever half is set.
func (u User) String() string {
	switch {
	case u.Name != "" && u.Email != "":
		return fmt.Sprintf("%s <%s>", u.Name, u.Email)
	case u.Email != "":
		return u.Email
	default:
		return u.Name
	}
}

// Config is the free-form settings layer: default branch, autosquash
// default, find result limit, and the hub remote URL. Every field is
// optional and overwrite()-merged repo-over-global, exactly like the
// teacher's Core.Overwrite.
type Config struct {
	User          User   `toml:"user,omitempty"`
	DefaultBranch string `toml:"defaultBranch,omitempty"`
	Autosquash    bool   `toml:"autosquash,omitempty"`
	FindLimit     int    `toml:"findLimit,omitzero"`
	HubRemote     string `toml:"hubRemote,omitempty"`
	Editor        string `toml:"editor,omitempty"`
}

// Defaults returns the baseline settings used when nothing is configured.
func Defaults() *Config {
	return &Config{
		DefaultBranch: "main",
		FindLimit:     20,
	}
}

func overwriteString(a, b string) string {
	if b != "" {
		return b
	}
	return a
}

// Overwrite merges non-zero fields from o into c, in place — o wins.
func (c *Config) Overwrite(o *Config) {
	if o == nil {
		return
	}
	c.User.Name = overwriteString(c.User.Name, o.User.Name)
	c.User.Email = overwriteString(c.User.Email, o.User.Email)
	c.DefaultBranch = overwriteString(c.DefaultBranch, o.DefaultBranch)
	c.HubRemote = overwriteString(c.HubRemote, o.HubRemote)
	c.Editor = overwriteString(c.Editor, o.Editor)
	if o.FindLimit > 0 {
		c.FindLimit = o.FindLimit
	}
	if o.Autosquash {
		c.Autosquash = o.Autosquash
	}
}

const (
	repoConfigName   = "config.toml"
	globalConfigName = ".muserc.toml"
)

// decodeFile reads and TOML-decodes path into a fresh Config. A missing
// file decodes to an empty Config rather than an error — config layers are
// optional at every level.
func decodeFile(path string) (*Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadRepo reads museDir/config.toml.
func LoadRepo(museDir string) (*Config, error) {
	return decodeFile(filepath.Join(museDir, repoConfigName))
}

// globalConfigPath returns $HOME/.muserc.toml, or "" if $HOME can't be
// resolved (global config is then silently absent, same as a missing file).
func globalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, globalConfigName)
}

// LoadGlobal reads $HOME/.muserc.toml.
func LoadGlobal() (*Config, error) {
	path := globalConfigPath()
	if path == "" {
		return &Config{}, nil
	}
	return decodeFile(path)
}

// LoadEffective returns the settings that apply to the repository at
// museDir: Defaults(), overwritten by the global config, overwritten by the
// repo config — the same global-then-local layering order spec §9's
// "injected, not baked in" configuration philosophy implies for anything
// that isn't the spec-fixed repo.json.
func LoadEffective(museDir string) (*Config, error) {
	cfg := Defaults()
	global, err := LoadGlobal()
	if err != nil {
		return nil, err
	}
	cfg.Overwrite(global)
	repo, err := LoadRepo(museDir)
	if err != nil {
		return nil, err
	}
	cfg.Overwrite(repo)
	return cfg, nil
}

// WriteRepo persists cfg to museDir/config.toml via create-temp-then-rename,
// mirroring modules/zeta/config's atomicEncode.
func WriteRepo(museDir string, cfg *Config) error {
	if err := os.MkdirAll(museDir, 0o755); err != nil {
		return fmt.Errorf("config: create muse dir: %w", err)
	}
	final := filepath.Join(museDir, repoConfigName)
	tmp := fmt.Sprintf("%s.tmp-%d", final, time.Now().UnixNano())
	fd, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("config: create temp config: %w", err)
	}
	enc := toml.NewEncoder(fd)
	enc.Indent = ""
	encErr := enc.Encode(cfg)
	closeErr := fd.Close()
	if encErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("config: encode repo config: %w", encErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("config: close temp config: %w", closeErr)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("config: rename repo config: %w", err)
	}
	return nil
}
