package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// RemotesConfig is the on-disk list of named servers.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is one named server profile.
type Remote struct {
	URL          string `toml:"url"`
	Token        string `toml:"token,omitempty"`
	NATSURL      string `toml:"nats_url,omitempty"`
	ValidatorURL string `toml:"validator_url,omitempty"`
}

// remotesPath locates remotes.toml: PIPEFLOW_REMOTES_FILE, then
// $XDG_STATE_HOME/pipeflow, then ~/.local/state/pipeflow.
func remotesPath() (string, error) {
	if p := os.Getenv("PIPEFLOW_REMOTES_FILE"); p != "" {
		return p, nil
	}
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "pipeflow", "remotes.toml"), nil
}

func loadRemotesConfig() (RemotesConfig, error) {
	cfg := RemotesConfig{Remotes: map[string]Remote{}}
	path, err := remotesPath()
	if err != nil {
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

// saveRemotesConfig writes the file owner-only and replaces it atomically.
func saveRemotesConfig(cfg RemotesConfig) error {
	path, err := remotesPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".remotes-*.toml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding remotes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c RemotesConfig) names() []string {
	names := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookup returns the named remote or an error listing the known names.
func (c RemotesConfig) lookup(name string) (Remote, error) {
	r, ok := c.Remotes[name]
	if !ok {
		if len(c.Remotes) == 0 {
			return Remote{}, fmt.Errorf("remote %q not found (none configured)", name)
		}
		return Remote{}, fmt.Errorf("remote %q not found (known: %s)", name, strings.Join(c.names(), ", "))
	}
	return r, nil
}

// checkURL requires raw to be an absolute URL with one of schemes.
func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("invalid URL %q: scheme must be one of %s", raw, strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

// maskToken keeps the first four characters of a token.
func maskToken(tok string) string {
	const keep = 4
	if len(tok) <= keep {
		return strings.Repeat("*", len(tok))
	}
	return tok[:keep] + strings.Repeat("*", min(len(tok)-keep, 8))
}

var (
	remoteOnce   sync.Once
	cachedRemote Remote
)

// activeRemote returns the remote named by PIPEFLOW_REMOTE, or else the
// configured active one. It is read once per process.
func activeRemote() Remote {
	remoteOnce.Do(func() {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return
		}
		name := os.Getenv("PIPEFLOW_REMOTE")
		if name == "" {
			name = cfg.Active
		}
		cachedRemote = cfg.Remotes[name]
	})
	return cachedRemote
}
