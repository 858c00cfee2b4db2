package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"epubllm/internal/backend"
	"epubllm/internal/config"
	"epubllm/internal/server"
	"epubllm/internal/storage"
	"epubllm/internal/translation"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	logger  *logrus.Logger
)

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "epubllm",
	Short: "Translate EPUB books with large language models",
	Long: `epubllm translates the text of EPUB books through an LLM backend while
keeping the markup, structure and untranslatable content of every document intact.`,
	SilenceUsage: true,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the translation job server",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("epubllm v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  showConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	RunE:  initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path, .json or .yaml (default: config.json beside executable)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().String("provider", "", "Backend provider: openai, gemini, custom or stub")
	rootCmd.PersistentFlags().String("model", "", "Model name")
	rootCmd.PersistentFlags().StringP("api-key", "k", "", "Backend API key")
	rootCmd.PersistentFlags().Int("concurrency", 0, "Maximum concurrent backend requests")

	serverCmd.Flags().IntP("port", "p", 0, "Port to run the server on")

	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func setupLogging(cmd *cobra.Command) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetConfigPath()
	}
	return path
}

// loadConfig applies flags on top of config.Load.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	setupLogging(cmd)

	path := configPath(cmd)
	logger.Debugf("Loading configuration from: %s", path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("provider"); v != "" {
		cfg.Backend.Provider = v
	}
	if v, _ := flags.GetString("model"); v != "" {
		cfg.Backend.Model = v
	}
	if v, _ := flags.GetString("api-key"); v != "" {
		cfg.Backend.APIKey = v
		logger.Debug("API key overridden by flag")
	}
	if v, _ := flags.GetInt("concurrency"); v > 0 {
		cfg.Translation.MaxConcurrent = v
	}

	if cfg.NeedsAPIKey() && isTerminal(os.Stdin) {
		key, err := config.PromptForAPIKey(cfg.Backend.Provider, os.Stdin, os.Stdout)
		if err != nil {
			return nil, fmt.Errorf("failed to read API key: %w", err)
		}
		cfg.Backend.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// newService builds the backend and the translation service shared by all
// runs of this process.
func newService(ctx context.Context, cfg *config.Config) (*translation.Service, backend.Backend, error) {
	b, err := backend.New(ctx, cfg.BackendOptions(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create backend: %w", err)
	}
	settings, err := cfg.TranslationSettings()
	if err != nil {
		return nil, nil, err
	}
	svc, err := translation.NewService(b, settings, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create translation service: %w", err)
	}
	logger.Debugf("Using %s backend, model %s, %d concurrent requests",
		b.Name(), cfg.Backend.Model, svc.Gate().Size())
	return svc, b, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	ctx := context.Background()
	svc, b, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := storage.New(ctx, cfg.StorageOptions())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	srv := server.New(cfg, svc, store, logger)
	logger.AddHook(server.NewLogHook(srv.Hub()))
	if o, ok := b.(interface{ SetObserver(backend.Observer) }); ok {
		o.SetObserver(srv.Hub())
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server running on port %d (%s backend, %s storage)", cfg.Server.Port, b.Name(), cfg.Storage.Type)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	srv.Close()

	logger.Info("Server exited gracefully")
	return nil
}

func showConfig(cmd *cobra.Command, _ []string) error {
	path := configPath(cmd)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("%s Configuration file %s does not exist\n", red("✗"), path)
		fmt.Printf("Run 'epubllm config init' to create one\n")
		return nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	fmt.Printf("%s %s\n\n", cyan("Configuration file:"), path)
	m := cfg.Masked()
	if m.Backend.APIKey == "" {
		m.Backend.APIKey = "(not set)"
	}
	return printYAML(os.Stdout, m)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	path := configPath(cmd)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("%s Configuration file %s already exists\n", yellow("!"), path)
		return nil
	}
	if err := config.New().SaveToFile(path); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	fmt.Printf("%s Wrote %s\n", green("✓"), path)
	fmt.Printf("Set backend.api_key or OPENAI_API_KEY before running 'epubllm translate'\n")
	return nil
}
