package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"epubllm/internal/backend"
	"epubllm/internal/storage"
	"epubllm/internal/translation"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as a string like "90s"
// in both JSON and YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

type ServerConfig struct {
	Port         int      `json:"port" yaml:"port"`
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
}

type BackendConfig struct {
	Provider    string            `json:"provider" yaml:"provider"`
	APIKey      string            `json:"api_key" yaml:"api_key"`
	Model       string            `json:"model" yaml:"model"`
	BaseURL     string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Format      string            `json:"format,omitempty" yaml:"format,omitempty"`
	Temperature float32           `json:"temperature" yaml:"temperature"`
	MaxTokens   int               `json:"max_tokens" yaml:"max_tokens"`
	Timeout     Duration          `json:"timeout" yaml:"timeout"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Proxy       string            `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

type TranslationConfig struct {
	SourceLanguage    string   `json:"source_language" yaml:"source_language"`
	TargetLanguage    string   `json:"target_language" yaml:"target_language"`
	FormatOnly        bool     `json:"format_only" yaml:"format_only"`
	MinBatchChars     int      `json:"min_batch_chars" yaml:"min_batch_chars"`
	MaxBatchChars     int      `json:"max_batch_chars" yaml:"max_batch_chars"`
	MaxBatchFragments int      `json:"max_batch_fragments" yaml:"max_batch_fragments"`
	MaxConcurrent     int      `json:"max_concurrent" yaml:"max_concurrent"`
	RequestsPerSecond float64  `json:"requests_per_second" yaml:"requests_per_second"`
	MaxAttempts       int      `json:"max_attempts" yaml:"max_attempts"`
	RetryBaseDelay    Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay     Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	CacheSize         int      `json:"cache_size" yaml:"cache_size"`
	StripRulesFile    string   `json:"strip_rules_file,omitempty" yaml:"strip_rules_file,omitempty"`
}

type StorageConfig struct {
	Type  string             `json:"type" yaml:"type"`
	Local storage.LocalConfig `json:"local" yaml:"local"`
	S3    storage.S3Config    `json:"s3" yaml:"s3"`
}

type AppConfig struct {
	TempDir   string `json:"temp_dir" yaml:"temp_dir"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`
}

type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Backend     BackendConfig     `json:"backend" yaml:"backend"`
	Translation TranslationConfig `json:"translation" yaml:"translation"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	App         AppConfig         `json:"app" yaml:"app"`
}

func New() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
		},
		Backend: BackendConfig{
			Provider:    backend.ProviderOpenAI,
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   4096,
			Timeout:     Duration{backend.DefaultTimeout},
		},
		Translation: TranslationConfig{
			SourceLanguage:    "en",
			TargetLanguage:    "zh",
			MinBatchChars:     1000,
			MaxBatchChars:     3000,
			MaxBatchFragments: 25,
			MaxConcurrent:     4,
			MaxAttempts:       3,
			RetryBaseDelay:    Duration{500 * time.Millisecond},
			RetryMaxDelay:     Duration{8 * time.Second},
			CacheSize:         translation.DefaultCacheSize,
		},
		Storage: StorageConfig{
			Type:  storage.TypeLocal,
			Local: storage.LocalConfig{BasePath: "data"},
		},
		App: AppConfig{
			TempDir:   "tmp",
			OutputDir: "output",
		},
	}
}

// LoadFromFile reads JSON or YAML depending on the file extension.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFromEnv applies EPUBLLM_* variables and the provider key variables.
func (c *Config) LoadFromEnv() {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	str("EPUBLLM_PROVIDER", &c.Backend.Provider)
	str("EPUBLLM_MODEL", &c.Backend.Model)
	str("EPUBLLM_BASE_URL", &c.Backend.BaseURL)
	str("EPUBLLM_FORMAT", &c.Backend.Format)
	str("EPUBLLM_PROXY", &c.Backend.Proxy)
	str("EPUBLLM_SOURCE_LANG", &c.Translation.SourceLanguage)
	str("EPUBLLM_TARGET_LANG", &c.Translation.TargetLanguage)
	num("EPUBLLM_MAX_CONCURRENT", &c.Translation.MaxConcurrent)
	num("EPUBLLM_PORT", &c.Server.Port)
	num("PORT", &c.Server.Port)
	str("EPUBLLM_STORAGE", &c.Storage.Type)
	str("EPUBLLM_S3_BUCKET", &c.Storage.S3.Bucket)
	str("EPUBLLM_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("AWS_REGION", &c.Storage.S3.Region)
	str("TEMP_DIR", &c.App.TempDir)
	str("OUTPUT_DIR", &c.App.OutputDir)

	switch strings.ToLower(c.Backend.Provider) {
	case backend.ProviderGemini:
		str("GEMINI_API_KEY", &c.Backend.APIKey)
	case backend.ProviderOpenAI, "":
		str("OPENAI_API_KEY", &c.Backend.APIKey)
	}
	str("EPUBLLM_API_KEY", &c.Backend.APIKey)
}

// Validate performs presence checks only; the language pair is checked
// when a run is created.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Backend.Provider) {
	case backend.ProviderOpenAI, backend.ProviderGemini:
		if c.Backend.APIKey == "" || c.Backend.APIKey == "your-api-key-here" {
			return fmt.Errorf("backend %s requires an API key", c.Backend.Provider)
		}
	case backend.ProviderCustom:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("custom backend requires base_url")
		}
	case backend.ProviderStub:
	default:
		return fmt.Errorf("unknown backend provider %q", c.Backend.Provider)
	}
	if c.Translation.SourceLanguage == "" || c.Translation.TargetLanguage == "" {
		return fmt.Errorf("source and target language are required")
	}
	switch c.Storage.Type {
	case storage.TypeLocal, "":
	case storage.TypeS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 storage requires a bucket")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	return nil
}

// NeedsAPIKey reports whether the selected provider is missing credentials.
func (c *Config) NeedsAPIKey() bool {
	switch strings.ToLower(c.Backend.Provider) {
	case backend.ProviderOpenAI, backend.ProviderGemini:
		return c.Backend.APIKey == "" || c.Backend.APIKey == "your-api-key-here"
	}
	return false
}

// Masked returns a copy safe to print.
func (c *Config) Masked() *Config {
	cp := *c
	if key := cp.Backend.APIKey; key != "" {
		if len(key) > 8 {
			cp.Backend.APIKey = key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
		} else {
			cp.Backend.APIKey = strings.Repeat("*", len(key))
		}
	}
	cp.Storage.S3.SecretAccessKey = ""
	return &cp
}

// BackendOptions maps the backend section onto backend.Options.
func (c *Config) BackendOptions() backend.Options {
	return backend.Options{
		Provider:    c.Backend.Provider,
		APIKey:      c.Backend.APIKey,
		Model:       c.Backend.Model,
		BaseURL:     c.Backend.BaseURL,
		Format:      c.Backend.Format,
		Temperature: c.Backend.Temperature,
		MaxTokens:   c.Backend.MaxTokens,
		Headers:     c.Backend.Headers,
		Proxy:       c.Backend.Proxy,
	}
}

// TranslationSettings builds pipeline settings, loading strip rules when a
// rules file is configured.
func (c *Config) TranslationSettings() (translation.Settings, error) {
	t := c.Translation
	settings := translation.Settings{
		Window: translation.Window{
			MinChars:     t.MinBatchChars,
			MaxChars:     t.MaxBatchChars,
			MaxFragments: t.MaxBatchFragments,
		},
		MaxConcurrent:     t.MaxConcurrent,
		RequestsPerSecond: t.RequestsPerSecond,
		Retry: translation.Policy{
			MaxAttempts: t.MaxAttempts,
			BaseDelay:   t.RetryBaseDelay.Duration,
			MaxDelay:    t.RetryMaxDelay.Duration,
		},
		Timeout:   c.Backend.Timeout.Duration,
		CacheSize: t.CacheSize,
	}
	if t.StripRulesFile != "" {
		rules, err := translation.LoadStripRules(t.StripRulesFile)
		if err != nil {
			return settings, err
		}
		settings.StripRules = rules
	}
	return settings, nil
}

// RunOptions returns the configured language pair.
func (c *Config) RunOptions() translation.Options {
	return translation.Options{
		SourceLang: c.Translation.SourceLanguage,
		TargetLang: c.Translation.TargetLanguage,
		FormatOnly: c.Translation.FormatOnly,
	}
}

// StorageOptions maps the storage section onto storage.Config.
func (c *Config) StorageOptions() storage.Config {
	return storage.Config{Type: c.Storage.Type, Local: c.Storage.Local, S3: c.Storage.S3}
}

// Load loads configuration with the following priority:
// 1. Command line flags (handled in main.go)
// 2. Environment variables
// 3. .env file next to the working directory
// 4. Configuration file (JSON or YAML)
// 5. Default values
func Load(configPath string) (*Config, error) {
	cfg := New()

	if err := ensureConfigFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to ensure config file: %w", err)
	}
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.LoadFromEnv()

	return cfg, nil
}

// ensureConfigFile writes a default config file when none exists.
func ensureConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}
	fmt.Fprintf(os.Stderr, "No config file at %s, creating one with defaults\n", configPath)
	return New().SaveToFile(configPath)
}

// PromptForAPIKey asks for a key on in until a non-empty line is entered.
func PromptForAPIKey(provider string, in io.Reader, out io.Writer) (string, error) {
	reader := bufio.NewReader(in)
	fmt.Fprintf(out, "\n%s API key required\n", provider)

	for {
		fmt.Fprint(out, "Please enter your API key: ")
		apiKey, err := reader.ReadString('\n')
		apiKey = strings.TrimSpace(apiKey)
		if apiKey != "" {
			return apiKey, nil
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintln(out, "API key cannot be empty. Please try again.")
	}
}

// GetConfigPath returns config.json next to the executable, falling back to
// the working directory.
func GetConfigPath() string {
	if execPath, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(execPath), "config.json")
	}
	if pwd, err := os.Getwd(); err == nil {
		return filepath.Join(pwd, "config.json")
	}
	return "config.json"
}
