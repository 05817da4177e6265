package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/stmtgraph/internal/graph"
	"github.com/ppiankov/stmtgraph/internal/model"
)

var topicsJSON bool

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect and maintain the topic graph",
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every topic in the graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		var topics []model.Topic
		err = a.store.View(ctx, func(tx graph.Tx) error {
			var err error
			topics, err = tx.ListTopics(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}

		if topicsJSON {
			return writeJSON(os.Stdout, topics)
		}
		return writeTopicTable(os.Stdout, topics)
	},
}

var topicsResolveCmd = &cobra.Command{
	Use:   "resolve <label>",
	Short: "Resolve a topic label, creating it (and its hierarchy) if missing",
	Long: `Resolve returns the topic for a label. Labels containing "/" are a path:
"Science/Physics" resolves or creates Science and Physics and links them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		topic, err := a.reconciler.ResolveOrCreate(ctx, args[0])
		if err != nil {
			return err
		}

		if topicsJSON {
			return writeJSON(os.Stdout, topic)
		}
		fmt.Printf("%s\t%s\n", topic.UUID, topic.Label)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd)
	topicsCmd.AddCommand(topicsResolveCmd)
	topicsCmd.PersistentFlags().BoolVar(&topicsJSON, "json", false, "print JSON instead of a table")
}

func writeTopicTable(w io.Writer, topics []model.Topic) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tLABEL\tDESCRIPTION")
	for _, t := range topics {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.UUID, t.Label, t.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d topics\n", len(topics))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
