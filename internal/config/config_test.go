package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

const sampleConfig = `{
  "version": 1,
  "server": {"port": 9000},
  "cache": {"backend": "bolt", "path": "cache.bolt"},
  "vendors": {"lcc": {"ratePerSec": 2, "burst": 2}},
  "layouts": {"single": ["ConcSusanne", "CollSusanne"]},
  "tiles": {
    "ConcSusanne": {
      "tileType": "ConcordanceTile",
      "corpname": "susanne",
      "api": {"apiType": "kontext", "apiURL": "https://kontext.example/api"}
    },
    "CollSusanne": {
      "tileType": "CollocTile",
      "waitFor": ["ConcSusanne"],
      "api": {"apiType": "kontext", "apiURL": "https://kontext.example/api"}
    }
  }
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	if cfg.Cache.Backend != "sqlite" {
		t.Errorf("Cache.Backend = %q, want sqlite", cfg.Cache.Backend)
	}
	if cfg.WaitForTilesTimeoutSecs != 30 {
		t.Errorf("WaitForTilesTimeoutSecs = %d, want 30", cfg.WaitForTilesTimeoutSecs)
	}
	if cfg.SystemMessageTTLSecs != 10 {
		t.Errorf("SystemMessageTTLSecs = %d, want 10", cfg.SystemMessageTTLSecs)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wag.json", sampleConfig)
	t.Setenv("WAG_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want the default", cfg.Server.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want the environment override", cfg.Logging.Level)
	}
	if cfg.Cache.Backend != "bolt" || cfg.Cache.MaxAgeSecs != 3600 {
		t.Errorf("unexpected cache config %+v", cfg.Cache)
	}
	if v := cfg.Vendors["lcc"]; v.RatePerSec != 2 || v.Burst != 2 {
		t.Errorf("unexpected vendor config %+v", v)
	}
	if _, ok := cfg.Tiles["ConcSusanne"]; !ok {
		t.Errorf("tile names must keep their case, got %v", cfg.Tiles)
	}
	if names := cfg.Layouts["single"]; len(names) != 2 || names[1] != "CollSusanne" {
		t.Errorf("unexpected layout %v", names)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("WAG_SERVER_PORT", "9100")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("missing default file must yield defaults: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want the environment override", cfg.Server.Port)
	}
	if cfg.Path() != "" || cfg.WatchedFiles() != nil {
		t.Error("defaults have no backing file")
	}

	if _, err := LoadConfig("nowhere.json"); err == nil {
		t.Error("an explicit missing file must fail")
	}
}

func TestTilesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tiles.toml", `
[layouts]
single = ["ConcSusanne", "SimWords"]
cmp = ["ConcSusanne"]

[tiles.SimWords]
tileType = "WordSimTile"
maxResultItems = 5

[tiles.SimWords.api]
apiType = "datamuse"
apiURL = "https://api.datamuse.com"
`)
	cfg := strings.Replace(sampleConfig, `"version": 1,`, `"version": 1, "tilesFile": "tiles.toml",`, 1)
	path := writeFile(t, dir, "wag.json", cfg)

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if names := loaded.Layouts["single"]; len(names) != 2 || names[1] != "SimWords" {
		t.Errorf("tiles file layout must win, got %v", names)
	}
	sim := loaded.Tiles["SimWords"]
	if sim["tileType"] != "WordSimTile" {
		t.Errorf("unexpected tile %v", sim)
	}
	if api, ok := sim["api"].(map[string]interface{}); !ok || api["apiType"] != "datamuse" {
		t.Errorf("unexpected api table %v", sim["api"])
	}
	if _, ok := loaded.Tiles["CollSusanne"]; !ok {
		t.Error("inline tiles must be kept")
	}
	if files := loaded.WatchedFiles(); len(files) != 2 || files[1] != filepath.Join(dir, "tiles.toml") {
		t.Errorf("unexpected watched files %v", files)
	}
	if got := loaded.QueryLayouts(); len(got) != 2 {
		t.Errorf("expected two query layouts, got %v", got)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Server.Port = 9200
	cfg.Tiles["WordForms"] = map[string]interface{}{"tileType": "WordFormsTile"}
	cfg.Layouts["single"] = []string{"WordForms"}

	path := filepath.Join(dir, "conf", "wag.json")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Server.Port != 9200 || loaded.Tiles["WordForms"]["tileType"] != "WordFormsTile" {
		t.Errorf("unexpected reloaded config %+v", loaded)
	}

	tomlPath := filepath.Join(dir, "wag.toml")
	if err := cfg.SaveTOML(tomlPath); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}
	var decoded struct {
		Server struct {
			Port int `toml:"port"`
		} `toml:"server"`
		Layouts map[string][]string `toml:"layouts"`
	}
	if _, err := toml.DecodeFile(tomlPath, &decoded); err != nil {
		t.Fatalf("TOML output must decode: %v", err)
	}
	if decoded.Server.Port != 9200 || decoded.Layouts["single"][0] != "WordForms" {
		t.Errorf("unexpected TOML content %+v", decoded)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(c *Config)
		field string
	}{
		{"valid", func(c *Config) {}, ""},
		{"version", func(c *Config) { c.Version = 7 }, "version"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"cache path", func(c *Config) { c.Cache.Path = "" }, "cache.path"},
		{"no cache needs no path", func(c *Config) { c.Cache.Backend = "none"; c.Cache.Path = "" }, ""},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"wait timeout", func(c *Config) { c.WaitForTilesTimeoutSecs = 0 }, "waitForTilesTimeoutSecs"},
		{"corpus size", func(c *Config) { c.FreqDB.CorpusSize = 0 }, "freqDB.corpusSize"},
		{"query type", func(c *Config) { c.Layouts["dict"] = nil }, "layouts.dict"},
		{"unknown tile", func(c *Config) { c.Layouts["single"] = []string{"Missing"} }, "layouts.single"},
		{"tile type", func(c *Config) { c.Tiles["Broken"] = map[string]interface{}{} }, "tiles.Broken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			cerr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
		})
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "wag.json", sampleConfig)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	reloaded := make(chan *Config, 4)
	w, err := Watch(context.Background(), cfg, nil, func(c *Config) { reloaded <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	writeFile(t, dir, "wag.json", `{"version": 1, "server": {"port": 0}}`)
	writeFile(t, dir, "wag.json", strings.Replace(sampleConfig, `"port": 9000`, `"port": 9001`, 1))

	select {
	case c := <-reloaded:
		if c.Server.Port != 9001 {
			t.Errorf("Server.Port = %d, want 9001", c.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}
