package recall

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aiovoice/recall/internal/dispatch"
	"github.com/aiovoice/recall/internal/embed"
	"github.com/aiovoice/recall/internal/memstore"
)

// ProviderOff disables embeddings entirely; the store becomes keyword-only.
const ProviderOff = "off"

// DefaultContextTokens bounds the journal context loaded at session start.
const DefaultContextTokens = 600

// Duration is a time.Duration that unmarshals from YAML as either a Go
// duration string ("30s", "2m") or a bare count of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration %q", value.Value)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// EmbedderConfig selects the embedding backend for the persistent store.
type EmbedderConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Dims     int    `yaml:"dims"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// CatalogConfig points the tool resolver at the remote action catalog. An
// empty APIKey disables remote lookup; the resolver then works only against
// slugs it already knows.
type CatalogConfig struct {
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	BaseToolkits []string `yaml:"base_toolkits"`
}

// Config is the engine's full configuration. Zero values are filled in by
// DefaultConfig / LoadConfig; environment variables override file values.
type Config struct {
	Dir           string         `yaml:"dir"`
	DatabaseFile  string         `yaml:"database_file"`
	JournalDir    string         `yaml:"journal_dir"`
	ContextTokens int            `yaml:"context_tokens"`
	Embedder      EmbedderConfig `yaml:"embedder"`
	Catalog       CatalogConfig  `yaml:"catalog"`
	Workers       int            `yaml:"workers"`
	CallTimeout   Duration       `yaml:"call_timeout"`
	SweepInterval Duration       `yaml:"sweep_interval"`
	Verbose       bool           `yaml:"verbose"`
	JSONLogs      bool           `yaml:"json_logs"`
}

// DefaultConfig returns the stock configuration rooted at ~/.aio-voice.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Dir:           filepath.Join(home, ".aio-voice"),
		DatabaseFile:  memstore.DatabaseFile,
		ContextTokens: DefaultContextTokens,
		Embedder: EmbedderConfig{
			Provider: embed.ProviderOllama,
			Dims:     embed.DefaultDims,
		},
		Catalog: CatalogConfig{
			BaseToolkits: []string{"GMAIL", "GOOGLECALENDAR"},
		},
		Workers:       dispatch.DefaultWorkers,
		CallTimeout:   Duration(dispatch.DefaultTimeout),
		SweepInterval: Duration(time.Minute),
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file, and the
// environment, in that order of precedence (environment wins). An empty path
// skips the file layer.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv layers environment overrides onto the config. API keys from the
// environment fill only empty fields, so an explicit file value wins over an
// ambient shell export.
func (c *Config) applyEnv() {
	if dir := os.Getenv("RECALL_DIR"); dir != "" {
		c.Dir = dir
	}
	if provider := os.Getenv("RECALL_EMBED_PROVIDER"); provider != "" {
		c.Embedder.Provider = provider
	}
	if url := os.Getenv("RECALL_CATALOG_URL"); url != "" {
		c.Catalog.BaseURL = url
	}
	if key := os.Getenv("RECALL_CATALOG_KEY"); key != "" {
		c.Catalog.APIKey = key
	}
	if c.Embedder.APIKey == "" {
		switch c.Embedder.Provider {
		case embed.ProviderOpenAI:
			c.Embedder.APIKey = os.Getenv("OPENAI_API_KEY")
		case embed.ProviderGemini:
			c.Embedder.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if c.Embedder.BaseURL == "" && c.Embedder.Provider == embed.ProviderOllama {
		c.Embedder.BaseURL = os.Getenv("OLLAMA_HOST")
	}
}

// Validate checks the config and fills remaining zero values so the engine
// never has to re-check them.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("dir must not be empty")
	}
	if c.DatabaseFile == "" {
		c.DatabaseFile = memstore.DatabaseFile
	}
	if c.JournalDir == "" {
		c.JournalDir = c.Dir
	}
	if c.ContextTokens <= 0 {
		c.ContextTokens = DefaultContextTokens
	}
	if c.Workers <= 0 {
		c.Workers = dispatch.DefaultWorkers
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = Duration(dispatch.DefaultTimeout)
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = Duration(time.Minute)
	}

	switch c.Embedder.Provider {
	case "", embed.ProviderOllama:
		c.Embedder.Provider = embed.ProviderOllama
	case embed.ProviderOpenAI, embed.ProviderGemini, embed.ProviderMock, ProviderOff:
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedder.Provider)
	}
	if c.Embedder.Dims <= 0 {
		c.Embedder.Dims = embed.DefaultDims
	}
	return nil
}
