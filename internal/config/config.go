package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Credential store backends.
const (
	StoreConfig   = "config"
	StoreKeychain = "keychain"
)

// Config holds application configuration
type Config struct {
	// Output format template for the now command
	// Default: "{{.Artist}} - {{.Title}}"
	OutputFormat string

	// How often the media source is sampled
	PollInterval time.Duration

	// Media source: auto, applescript or mpris
	Source string

	// MPRIS bus name suffix to follow; empty follows any player
	MPRISPlayer string

	// Players whose metadata is trusted as music without a search lookup
	MusicPlayers []string

	// Where Last.fm credentials live: config or keychain
	CredentialStore string
	KeychainService string

	// Log file used in daemon mode; empty means the XDG state directory
	LogPath string

	Lyrics   LyricsConfig
	Scrobble ScrobbleConfig
}

// LyricsConfig controls lyrics lookup and display.
type LyricsConfig struct {
	Enabled      bool
	PreferSynced bool
}

// ScrobbleConfig controls submissions to Last.fm.
type ScrobbleConfig struct {
	Enabled bool
}

// IsMusicPlayer reports whether name is one of the configured music
// platforms. Matching ignores case and accepts MPRIS instance suffixes
// such as "spotify.instance42".
func (c *Config) IsMusicPlayer(name string) bool {
	name = strings.ToLower(name)
	return slices.ContainsFunc(c.MusicPlayers, func(p string) bool {
		p = strings.ToLower(p)
		return name == p || strings.HasPrefix(name, p+".")
	})
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	return load(getConfigDir())
}

func load(configDir string) (*Config, error) {
	v := newViper(configDir)

	v.SetDefault("output_format", "{{.Artist}} - {{.Title}}")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("source", "auto")
	v.SetDefault("mpris_player", "")
	v.SetDefault("music_players", []string{"Music", "Spotify", "Tidal", "Deezer", "Qobuz", "Rhythmbox", "Lollypop", "Amberol", "Elisa", "Strawberry", "Clementine", "mpd"})
	v.SetDefault("credential_store", StoreConfig)
	v.SetDefault("keychain_service", "com.scrobbler.credentials")
	v.SetDefault("log_path", "")
	v.SetDefault("lyrics.enabled", true)
	v.SetDefault("lyrics.prefer_synced", true)
	v.SetDefault("scrobble.enabled", true)

	// Read config file (optional - don't fail if missing)
	_ = v.ReadInConfig()

	cfg := &Config{
		OutputFormat:    v.GetString("output_format"),
		PollInterval:    v.GetDuration("poll_interval"),
		Source:          v.GetString("source"),
		MPRISPlayer:     v.GetString("mpris_player"),
		MusicPlayers:    v.GetStringSlice("music_players"),
		CredentialStore: v.GetString("credential_store"),
		KeychainService: v.GetString("keychain_service"),
		LogPath:         v.GetString("log_path"),
		Lyrics: LyricsConfig{
			Enabled:      v.GetBool("lyrics.enabled"),
			PreferSynced: v.GetBool("lyrics.prefer_synced"),
		},
		Scrobble: ScrobbleConfig{
			Enabled: v.GetBool("scrobble.enabled"),
		},
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return cfg, nil
}

// newViper returns a viper instance bound to config.yaml in configDir (then
// the working directory) and to SCROBBLER_* environment variables.
func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCROBBLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// getConfigDir returns the configuration directory path
// Creates the directory if it doesn't exist
func getConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	configDir := filepath.Join(homeDir, ".config", "scrobbler")

	// Create config directory if it doesn't exist
	_ = os.MkdirAll(configDir, 0755)

	return configDir
}

// GetConfigDir returns the configuration directory path (public helper)
func GetConfigDir() string {
	return getConfigDir()
}

// Values is a viper view of the config file used for writing individual
// keys back without touching the others.
type Values struct {
	v    *viper.Viper
	path string
}

// OpenValues reads config.yaml from dir, if present, for editing.
func OpenValues(dir string) *Values {
	v := newViper(dir)
	_ = v.ReadInConfig()
	return &Values{v: v, path: filepath.Join(dir, "config.yaml")}
}

// Get returns the string value of key, including environment overrides.
func (c *Values) Get(key string) string {
	return c.v.GetString(key)
}

// Set stores key and rewrites the config file.
func (c *Values) Set(key, value string) error {
	c.v.Set(key, value)
	return c.v.WriteConfigAs(c.path)
}

// Path returns the file Set writes to.
func (c *Values) Path() string {
	return c.path
}
