package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"epubllm/internal/epub"
	"epubllm/internal/storage"
	"epubllm/internal/translation"

	"github.com/spf13/cobra"
)

var translateCmd = &cobra.Command{
	Use:   "translate <book.epub>",
	Short: "Translate an EPUB file",
	Long: `Translate every content document of an EPUB file. Ctrl-C stops dispatching
new requests; requests already in flight finish and whatever was translated is
still written to the output file.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranslate,
}

func init() {
	translateCmd.Flags().StringP("source", "s", "", "Source language code")
	translateCmd.Flags().StringP("target", "t", "", "Target language code")
	translateCmd.Flags().StringP("output", "o", "", "Output file (default: <input>_<target>.epub)")
	translateCmd.Flags().Bool("format-only", false, "Copy the book unchanged when source and target match")
	translateCmd.Flags().String("report", "", "Write a JSON run report to this file")
	translateCmd.Flags().Bool("upload", false, "Also store the output in the configured storage")
	translateCmd.Flags().Bool("no-color", false, "Disable colored output")
}

func runTranslate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	opts := cfg.RunOptions()
	if v, _ := flags.GetString("source"); v != "" {
		opts.SourceLang = v
	}
	if v, _ := flags.GetString("target"); v != "" {
		opts.TargetLang = v
	}
	if v, _ := flags.GetBool("format-only"); v {
		opts.FormatOnly = true
	}
	if v, _ := flags.GetBool("no-color"); v {
		disableColor()
	}

	input := args[0]
	output, _ := flags.GetString("output")
	if output == "" {
		output = defaultOutputPath(input, cfg.App.OutputDir, opts.TargetLang)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, _, err := newService(ctx, cfg)
	if err != nil {
		return err
	}

	parser := epub.NewParser(logger)
	book, err := parser.OpenFile(input)
	if err != nil {
		return err
	}
	if err := parser.Validate(book); err != nil {
		return fmt.Errorf("invalid EPUB %s: %w", input, err)
	}

	progress := newProgressPrinter(os.Stderr)
	run, err := svc.NewRun(opts, progress)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s %s (%s → %s, %d documents)\n",
		cyan("Translating"), filepath.Base(input), opts.SourceLang, opts.TargetLang, len(book.Documents()))

	report, runErr := svc.TranslateBook(ctx, run, book)
	progress.Done()

	// partial output is written for cancelled and halted runs too
	data, err := epub.NewBuilder(logger).Bytes(book)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if upload, _ := flags.GetBool("upload"); upload {
		if err := uploadOutput(context.WithoutCancel(ctx), cfg.StorageOptions(), output, data); err != nil {
			return err
		}
	}
	if path, _ := flags.GetString("report"); path != "" && report != nil {
		if err := writeReport(path, report); err != nil {
			return err
		}
	}

	printSummary(report, output, runErr)

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, translation.ErrCancelled):
		return fmt.Errorf("translation cancelled, partial output written to %s", output)
	default:
		return runErr
	}
}

func defaultOutputPath(input, outputDir, target string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name := fmt.Sprintf("%s_%s.epub", base, target)
	if outputDir == "" {
		return filepath.Join(filepath.Dir(input), name)
	}
	return filepath.Join(outputDir, name)
}

func uploadOutput(ctx context.Context, opts storage.Config, output string, data []byte) error {
	store, err := storage.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	key := "translated/" + filepath.Base(output)
	if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload output: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%s stored as %s\n", green("✓"), key)
	return nil
}

func writeReport(path string, report *translation.BookReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func printSummary(report *translation.BookReport, output string, runErr error) {
	if report == nil {
		return
	}
	status := green("✓ Done")
	switch {
	case errors.Is(runErr, translation.ErrCancelled):
		status = yellow("■ Cancelled")
	case runErr != nil:
		status = red("✗ Stopped")
	}

	fmt.Fprintf(os.Stderr, "\n%s in %s\n", status, report.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "  documents:  %d\n", len(report.Documents))
	fmt.Fprintf(os.Stderr, "  fragments:  %d translated, %d skipped, %d kept original\n",
		report.Translated, report.Skipped, report.Failed)
	fmt.Fprintf(os.Stderr, "  requests:   %d (%d tokens)\n", report.Calls, report.Tokens)
	for _, doc := range report.Documents {
		if doc.Err != nil && !errors.Is(doc.Err, translation.ErrCancelled) {
			fmt.Fprintf(os.Stderr, "  %s %s: %s\n", red("✗"), doc.Name, doc.Error)
		}
	}
	fmt.Fprintf(os.Stderr, "  output:     %s\n", output)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "  reason:     %v\n", runErr)
	}
}
