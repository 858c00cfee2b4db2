package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"epubllm/internal/backend"
)

func TestLoadFromFileByExtension(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		file string
		body string
	}{
		{"config.json", `{"backend":{"provider":"stub","timeout":"45s"},"translation":{"target_language":"ja","max_concurrent":2}}`},
		{"config.yaml", "backend:\n  provider: stub\n  timeout: 45s\ntranslation:\n  target_language: ja\n  max_concurrent: 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatal(err)
			}
			cfg := New()
			if err := cfg.LoadFromFile(path); err != nil {
				t.Fatalf("LoadFromFile() error = %v", err)
			}
			if cfg.Backend.Provider != backend.ProviderStub {
				t.Errorf("Provider = %q", cfg.Backend.Provider)
			}
			if cfg.Backend.Timeout.Duration != 45*time.Second {
				t.Errorf("Timeout = %v, want 45s", cfg.Backend.Timeout)
			}
			if cfg.Translation.TargetLanguage != "ja" || cfg.Translation.MaxConcurrent != 2 {
				t.Errorf("Translation = %+v", cfg.Translation)
			}
			// untouched fields keep their defaults
			if cfg.Translation.SourceLanguage != "en" || cfg.Translation.MaxBatchChars != 3000 {
				t.Errorf("defaults lost: %+v", cfg.Translation)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"out.json", "out.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := New()
			cfg.Translation.RetryBaseDelay = Duration{250 * time.Millisecond}
			if err := cfg.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile() error = %v", err)
			}
			loaded := &Config{}
			if err := loaded.LoadFromFile(path); err != nil {
				t.Fatalf("LoadFromFile() error = %v", err)
			}
			if loaded.Translation.RetryBaseDelay.Duration != 250*time.Millisecond {
				t.Errorf("RetryBaseDelay = %v", loaded.Translation.RetryBaseDelay)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EPUBLLM_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("EPUBLLM_TARGET_LANG", "ko")
	t.Setenv("EPUBLLM_MAX_CONCURRENT", "not-a-number")

	cfg := New()
	cfg.LoadFromEnv()

	if cfg.Backend.APIKey != "g-key" {
		t.Errorf("APIKey = %q, want the gemini key", cfg.Backend.APIKey)
	}
	if cfg.Translation.TargetLanguage != "ko" {
		t.Errorf("TargetLanguage = %q", cfg.Translation.TargetLanguage)
	}
	if cfg.Translation.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want default kept", cfg.Translation.MaxConcurrent)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"openai without key", func(c *Config) {}, true},
		{"openai with key", func(c *Config) { c.Backend.APIKey = "sk-test" }, false},
		{"stub needs nothing", func(c *Config) { c.Backend.Provider = backend.ProviderStub }, false},
		{"custom without url", func(c *Config) { c.Backend.Provider = backend.ProviderCustom }, true},
		{"unknown provider", func(c *Config) { c.Backend.Provider = "carrier-pigeon" }, true},
		{"s3 without bucket", func(c *Config) {
			c.Backend.Provider = backend.ProviderStub
			c.Storage.Type = "s3"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMaskedHidesSecrets(t *testing.T) {
	cfg := New()
	cfg.Backend.APIKey = "sk-1234567890abcd"
	cfg.Storage.S3.SecretAccessKey = "secret"

	m := cfg.Masked()
	if strings.Contains(m.Backend.APIKey, "567890") || !strings.HasPrefix(m.Backend.APIKey, "sk-1") {
		t.Errorf("masked key = %q", m.Backend.APIKey)
	}
	if m.Storage.S3.SecretAccessKey != "" {
		t.Error("secret access key not cleared")
	}
	if cfg.Backend.APIKey != "sk-1234567890abcd" {
		t.Error("Masked() modified the original")
	}
}

func TestTranslationSettings(t *testing.T) {
	cfg := New()
	cfg.Translation.MaxBatchChars = 1200
	cfg.Backend.Timeout = Duration{10 * time.Second}

	s, err := cfg.TranslationSettings()
	if err != nil {
		t.Fatalf("TranslationSettings() error = %v", err)
	}
	if s.Window.MaxChars != 1200 || s.Timeout != 10*time.Second || s.Retry.MaxAttempts != 3 {
		t.Errorf("settings = %+v", s)
	}

	cfg.Translation.StripRulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.TranslationSettings(); err == nil {
		t.Error("missing strip rules file was not reported")
	}
}

func TestPromptForAPIKey(t *testing.T) {
	var out strings.Builder
	key, err := PromptForAPIKey("OpenAI", strings.NewReader("\n  sk-abc \n"), &out)
	if err != nil || key != "sk-abc" {
		t.Errorf("PromptForAPIKey() = %q, %v", key, err)
	}
	if !strings.Contains(out.String(), "cannot be empty") {
		t.Errorf("empty line not rejected: %q", out.String())
	}
}
