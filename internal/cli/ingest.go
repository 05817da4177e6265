package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/stmtgraph/internal/source"
)

var (
	ingestIntent  string
	ingestOut     string
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|url|->",
	Short: "Ingest one transcript into the topic graph",
	Long: `Ingest extracts statements from a transcript, matches them to topics and
persists both in the graph. The transcript may be a text, HTML or JSON file
(a JSON file can carry a full request with utterances and metadata), a URL,
or "-" for standard input.

Example:
  stmtgraph ingest meeting.txt
  stmtgraph ingest request.json --out response.json
  cat notes.txt | stmtgraph ingest - --intent "product decisions"`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestIntent, "intent", "", "objective that biases extraction and matching")
	ingestCmd.Flags().StringVarP(&ingestOut, "out", "o", "", "write the JSON response to this file instead of stdout")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 15*time.Minute, "overall ingestion timeout")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), ingestTimeout)
	defer cancel()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	loader := source.NewLoader(source.NewFetcher(a.cfg.HTTP, a.log), os.Stdin, a.log)
	req, err := loader.Load(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if ingestIntent != "" {
		req.Intent = ingestIntent
	}

	resp, err := a.pipeline.Ingest(ctx, *req)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	if ingestOut == "" {
		fmt.Println(string(data))
	} else {
		if err := os.WriteFile(ingestOut, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", ingestOut)
	}

	fmt.Fprintf(os.Stderr, "✓ Persisted %d statements\n", resp.Data.StatementCount)
	for _, w := range resp.Data.Warnings {
		fmt.Fprintf(os.Stderr, "! %s\n", w)
	}
	return nil
}
