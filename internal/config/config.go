package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	gotoml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/czcorpus/wag-sub001/internal/query"
)

// CurrentVersion is the config schema version written by Save
const CurrentVersion = 1

// DefaultFileName is looked up in the working directory when no path is given
const DefaultFileName = "wag.json"

// EnvPrefix prefixes environment overrides, e.g. WAG_SERVER_PORT
const EnvPrefix = "WAG"

// Config represents the complete WaG configuration
type Config struct {
	Version int `json:"version" toml:"version" mapstructure:"version"`

	Server  ServerConfig  `json:"server" toml:"server" mapstructure:"server"`
	Logging LoggingConfig `json:"logging" toml:"logging" mapstructure:"logging"`
	Cache   CacheConfig   `json:"cache" toml:"cache" mapstructure:"cache"`
	HTTP    HTTPConfig    `json:"http" toml:"http" mapstructure:"http"`
	FreqDB  FreqDBConfig  `json:"freqDB" toml:"freqDB" mapstructure:"freqDB"`

	// WaitForTilesTimeoutSecs bounds how long a tile waits for its upstream tiles
	WaitForTilesTimeoutSecs int `json:"waitForTilesTimeoutSecs" toml:"waitForTilesTimeoutSecs" mapstructure:"waitForTilesTimeoutSecs"`
	// SearchTimeoutSecs bounds a whole search round
	SearchTimeoutSecs    int `json:"searchTimeoutSecs" toml:"searchTimeoutSecs" mapstructure:"searchTimeoutSecs"`
	SystemMessageTTLSecs int `json:"systemMessageTTLSecs" toml:"systemMessageTTLSecs" mapstructure:"systemMessageTTLSecs"`

	Vendors map[string]VendorConfig `json:"vendors,omitempty" toml:"vendors" mapstructure:"vendors"`

	// TilesFile is a TOML file with layouts and tiles, merged over the inline ones
	TilesFile string `json:"tilesFile,omitempty" toml:"tilesFile" mapstructure:"tilesFile"`

	// Layouts and Tiles keep the case of their keys, so they bypass viper
	Layouts map[string][]string               `json:"layouts" toml:"layouts" mapstructure:"-"`
	Tiles   map[string]map[string]interface{} `json:"tiles" toml:"tiles" mapstructure:"-"`

	path string
}

// ServerConfig configures `wag serve`
type ServerConfig struct {
	Host            string   `json:"host" toml:"host" mapstructure:"host"`
	Port            int      `json:"port" toml:"port" mapstructure:"port"`
	CORSOrigins     []string `json:"corsOrigins,omitempty" toml:"corsOrigins" mapstructure:"corsOrigins"`
	ReadTimeoutSecs int      `json:"readTimeoutSecs" toml:"readTimeoutSecs" mapstructure:"readTimeoutSecs"`
	// WatchConfig reloads the configuration when its files change
	WatchConfig bool `json:"watchConfig" toml:"watchConfig" mapstructure:"watchConfig"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" toml:"format" mapstructure:"format"`
	Level  string `json:"level" toml:"level" mapstructure:"level"`
}

// CacheConfig contains the response cache configuration
type CacheConfig struct {
	// Backend is sqlite, bolt or none
	Backend    string `json:"backend" toml:"backend" mapstructure:"backend"`
	Path       string `json:"path" toml:"path" mapstructure:"path"`
	MaxAgeSecs int    `json:"maxAgeSecs" toml:"maxAgeSecs" mapstructure:"maxAgeSecs"`
}

// HTTPConfig tunes the client shared by the data adapters
type HTTPConfig struct {
	MaxRetries       int   `json:"maxRetries" toml:"maxRetries" mapstructure:"maxRetries"`
	RetryBaseDelayMs int   `json:"retryBaseDelayMs" toml:"retryBaseDelayMs" mapstructure:"retryBaseDelayMs"`
	MaxBodyBytes     int64 `json:"maxBodyBytes" toml:"maxBodyBytes" mapstructure:"maxBodyBytes"`
}

// VendorConfig overrides the traffic limits of one vendor
type VendorConfig struct {
	MaxInFlight int     `json:"maxInFlight,omitempty" toml:"maxInFlight" mapstructure:"maxInFlight"`
	RatePerSec  float64 `json:"ratePerSec,omitempty" toml:"ratePerSec" mapstructure:"ratePerSec"`
	Burst       int     `json:"burst,omitempty" toml:"burst" mapstructure:"burst"`
	TimeoutMs   int     `json:"timeoutMs,omitempty" toml:"timeoutMs" mapstructure:"timeoutMs"`
}

// FreqDBConfig configures the word frequency database used for lemma lookup
type FreqDBConfig struct {
	Path       string `json:"path" toml:"path" mapstructure:"path"`
	CorpusSize int64  `json:"corpusSize" toml:"corpusSize" mapstructure:"corpusSize"`
	MinFreq    int    `json:"minFreq" toml:"minFreq" mapstructure:"minFreq"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8090,
			ReadTimeoutSecs: 30,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
		Cache: CacheConfig{
			Backend:    "sqlite",
			Path:       ".wag/cache.db",
			MaxAgeSecs: 3600,
		},
		HTTP: HTTPConfig{
			MaxRetries:       2,
			RetryBaseDelayMs: 300,
			MaxBodyBytes:     20 * 1024 * 1024,
		},
		FreqDB: FreqDBConfig{
			Path:       ".wag/freqdb.db",
			CorpusSize: 100_000_000,
		},
		WaitForTilesTimeoutSecs: 30,
		SearchTimeoutSecs:       60,
		SystemMessageTTLSecs:    10,
		Vendors:                 map[string]VendorConfig{},
		Layouts:                 map[string][]string{},
		Tiles:                   map[string]map[string]interface{}{},
	}
}

// defaults registers every scalar key, so environment overrides apply
// even when the file does not mention the key
func defaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.readTimeoutSecs", d.Server.ReadTimeoutSecs)
	v.SetDefault("server.watchConfig", d.Server.WatchConfig)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.maxAgeSecs", d.Cache.MaxAgeSecs)
	v.SetDefault("http.maxRetries", d.HTTP.MaxRetries)
	v.SetDefault("http.retryBaseDelayMs", d.HTTP.RetryBaseDelayMs)
	v.SetDefault("http.maxBodyBytes", d.HTTP.MaxBodyBytes)
	v.SetDefault("freqDB.path", d.FreqDB.Path)
	v.SetDefault("freqDB.corpusSize", d.FreqDB.CorpusSize)
	v.SetDefault("freqDB.minFreq", d.FreqDB.MinFreq)
	v.SetDefault("waitForTilesTimeoutSecs", d.WaitForTilesTimeoutSecs)
	v.SetDefault("searchTimeoutSecs", d.SearchTimeoutSecs)
	v.SetDefault("systemMessageTTLSecs", d.SystemMessageTTLSecs)
	v.SetDefault("tilesFile", "")
}

// TileSection is the case preserving part of a config or tiles file.
type TileSection struct {
	Layouts map[string][]string               `json:"layouts" toml:"layouts"`
	Tiles   map[string]map[string]interface{} `json:"tiles" toml:"tiles"`
}

// LoadConfig loads the configuration from path (wag.json in the working
// directory when empty). A missing default file yields DefaultConfig with
// environment overrides applied.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("json")

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}
	v.SetConfigFile(path)

	found := true
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		found = false
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if cfg.Vendors == nil {
		cfg.Vendors = map[string]VendorConfig{}
	}

	if found {
		cfg.path = path
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		var section TileSection
		if err := json.Unmarshal(data, &section); err != nil {
			return nil, fmt.Errorf("failed to decode tiles of %s: %w", path, err)
		}
		cfg.merge(section)
	}

	if cfg.TilesFile != "" {
		tilesPath := cfg.TilesFile
		if !filepath.IsAbs(tilesPath) && found {
			tilesPath = filepath.Join(filepath.Dir(path), tilesPath)
		}
		section, err := LoadTilesFile(tilesPath)
		if err != nil {
			return nil, err
		}
		cfg.merge(section)
	}
	return cfg, nil
}

// LoadTilesFile decodes a TOML file with [layouts] and [tiles.<name>] tables.
func LoadTilesFile(path string) (TileSection, error) {
	var section TileSection
	if _, err := toml.DecodeFile(path, &section); err != nil {
		return section, fmt.Errorf("failed to read tiles file %s: %w", path, err)
	}
	return section, nil
}

func (c *Config) merge(s TileSection) {
	if c.Layouts == nil {
		c.Layouts = map[string][]string{}
	}
	if c.Tiles == nil {
		c.Tiles = map[string]map[string]interface{}{}
	}
	for qt, names := range s.Layouts {
		c.Layouts[qt] = names
	}
	for name, conf := range s.Tiles {
		c.Tiles[name] = conf
	}
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// WatchedFiles lists the files a reload depends on.
func (c *Config) WatchedFiles() []string {
	if c.path == "" {
		return nil
	}
	ans := []string{c.path}
	if c.TilesFile != "" {
		p := c.TilesFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(c.path), p)
		}
		ans = append(ans, p)
	}
	return ans
}

// Save writes the configuration as indented JSON
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// SaveTOML writes the configuration as TOML
func (c *Config) SaveTOML(path string) error {
	data, err := c.MarshalTOML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MarshalTOML renders the configuration as TOML
func (c *Config) MarshalTOML() ([]byte, error) {
	data, err := gotoml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config as TOML: %w", err)
	}
	return data, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return &ConfigError{Field: "version", Message: fmt.Sprintf("unsupported config version %d", c.Version)}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	switch c.Cache.Backend {
	case "sqlite", "bolt":
		if c.Cache.Path == "" {
			return &ConfigError{Field: "cache.path", Message: "required by the " + c.Cache.Backend + " backend"}
		}
	case "", "none":
	default:
		return &ConfigError{Field: "cache.backend", Message: fmt.Sprintf("unknown backend %q", c.Cache.Backend)}
	}
	if c.Cache.MaxAgeSecs < 0 {
		return &ConfigError{Field: "cache.maxAgeSecs", Message: "must not be negative"}
	}
	switch c.Logging.Format {
	case "human", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}
	if c.WaitForTilesTimeoutSecs <= 0 {
		return &ConfigError{Field: "waitForTilesTimeoutSecs", Message: "must be positive"}
	}
	if c.SearchTimeoutSecs <= 0 {
		return &ConfigError{Field: "searchTimeoutSecs", Message: "must be positive"}
	}
	if c.FreqDB.Path != "" && c.FreqDB.CorpusSize <= 0 {
		return &ConfigError{Field: "freqDB.corpusSize", Message: "must be positive"}
	}
	for qt, names := range c.Layouts {
		if _, err := query.ParseType(qt); err != nil {
			return &ConfigError{Field: "layouts." + qt, Message: err.Error()}
		}
		for _, name := range names {
			if _, ok := c.Tiles[name]; !ok {
				return &ConfigError{Field: "layouts." + qt, Message: "unknown tile " + name}
			}
		}
	}
	for name, conf := range c.Tiles {
		if t, _ := conf["tileType"].(string); t == "" {
			return &ConfigError{Field: "tiles." + name, Message: "missing tileType"}
		}
	}
	return nil
}

// QueryLayouts returns the layouts keyed by query type. Call after Validate.
func (c *Config) QueryLayouts() map[query.Type][]string {
	ans := make(map[query.Type][]string, len(c.Layouts))
	for qt, names := range c.Layouts {
		t, err := query.ParseType(qt)
		if err != nil {
			continue
		}
		ans[t] = names
	}
	return ans
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
