package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/stmtgraph/internal/source"
	"github.com/ppiankov/stmtgraph/internal/worker"
)

var (
	concurrency  int
	outputDir    string
	batchIntent  string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Ingest multiple transcripts from a list file in parallel",
	Long: `Batch ingests several transcripts concurrently:
- Read transcript paths or URLs from the input file (one per line, # comments allowed)
- Ingest them in parallel with a configurable worker count
- Write one JSON response per transcript

Example:
  stmtgraph batch sources.txt
  stmtgraph batch sources.txt --concurrency 8 --output-dir ./responses
  stmtgraph batch sources.txt --intent "hiring decisions" --timeout 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default from config)")
	batchCmd.Flags().StringVar(&outputDir, "output-dir", "./stmtgraph-responses", "output directory for responses")
	batchCmd.Flags().StringVar(&batchIntent, "intent", "", "intent for transcripts that do not carry their own")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", time.Hour, "total timeout for batch processing")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	workers := concurrency
	if workers <= 0 {
		workers = a.cfg.Concurrency.Workers
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  stmtgraph Batch Ingestion\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "  LLM:          %s/%s\n", a.cfg.LLM.Provider, a.cfg.LLM.Model)
	fmt.Fprintf(os.Stderr, "\n")

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	loader := source.NewLoader(source.NewFetcher(a.cfg.HTTP, a.log), os.Stdin, a.log)
	processor := worker.NewBatchProcessor(a.pipeline, loader, workers, batchIntent)

	fmt.Fprintf(os.Stderr, "⚙️  Ingesting transcripts with %d workers...\n\n", workers)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	successCount := 0
	failureCount := 0
	statements := 0

	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Source, result.Error)
			continue
		}

		path := filepath.Join(outputDir, fmt.Sprintf("%03d-%s.json", result.Index+1, sanitizeFilename(result.Source)))
		data, err := json.MarshalIndent(result.Response, "", "  ")
		if err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to marshal response: %v\n", result.Source, err)
			continue
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: failed to write response: %v\n", result.Source, err)
			continue
		}

		successCount++
		statements += result.Response.Data.StatementCount
		fmt.Fprintf(os.Stderr, "✓ %s (%d statements, %d warnings, %s)\n",
			result.Source, result.Response.Data.StatementCount, len(result.Response.Data.Warnings),
			result.Duration.Round(time.Millisecond))
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:       %d transcripts\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:     %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:    %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Statements:  %d\n", statements)
	fmt.Fprintf(os.Stderr, "  Output:      %s\n", outputDir)
	fmt.Fprintf(os.Stderr, "\n")

	if failureCount > 0 && successCount == 0 {
		return fmt.Errorf("all %d transcripts failed", failureCount)
	}
	return nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "-",
)

// sanitizeFilename turns a source reference into a safe file name
func sanitizeFilename(s string) string {
	if !source.IsURL(s) {
		s = strings.TrimSuffix(filepath.Base(s), filepath.Ext(s))
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	}
	s = filenameReplacer.Replace(strings.TrimSpace(s))
	s = strings.Trim(s, "._-")
	if s == "" {
		s = "transcript"
	}

	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
