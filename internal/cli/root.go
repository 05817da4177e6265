package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/stmtgraph/internal/model"
)

// Version is set at build time
var Version = "v0.1.0"

var (
	cfgFile string
	envFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stmtgraph",
	Short: "stmtgraph - turn transcripts into a topic graph of statements",
	Long: `stmtgraph ingests free-text transcripts, asks an LLM to extract
subject-predicate-object statements, matches them against a topic taxonomy in
batches, and persists statements, topics and their relationships in a graph
(Neo4j, or an in-memory graph when no URI is configured).`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Commands stop when ctx is cancelled.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stmtgraph %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.stmtgraph/config.yaml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.String("llm-provider", "", "LLM provider (anthropic, openai, ollama)")
	flags.String("llm-model", "", "LLM model name")
	flags.String("neo4j-uri", "", "Neo4j URI (empty uses the in-memory graph)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("llm.provider", flags.Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.model", flags.Lookup("llm-model"))
	_ = viper.BindPFlag("graph.uri", flags.Lookup("neo4j-uri"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads the dotenv file, the config file and STMTGRAPH_* variables
func initConfig() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".stmtgraph"))
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("STMTGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	registerDefaults()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// secretKeys are omitted from the default YAML, so AutomaticEnv would not
// see them without an explicit binding
var secretKeys = []string{
	"llm.api_key", "llm.base_url", "llm.http_proxy", "llm.https_proxy", "llm.no_proxy",
	"graph.uri", "graph.password", "graph.database",
	"embedding.api_key", "tracing.endpoint",
	"http.http_proxy", "http.https_proxy",
}

// registerDefaults feeds model.DefaultConfig into viper key by key so that
// environment variables can override any of them
func registerDefaults() {
	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	setDefaults("", tree)

	for _, key := range secretKeys {
		_ = viper.BindEnv(key)
	}
}

func setDefaults(prefix string, tree map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			setDefaults(key, sub)
			continue
		}
		viper.SetDefault(key, v)
	}
}

// loadConfig resolves the effective configuration:
// flags, STMTGRAPH_* env, provider env vars, config file, defaults.
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnvSecrets(cfg, os.Getenv)
	if verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Cache.Dir = expandHome(cfg.Cache.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvSecrets fills credentials and endpoints from the conventional
// provider variables when the config leaves them empty
func applyEnvSecrets(cfg *model.Config, getenv func(string) string) {
	if cfg.LLM.APIKey == "" {
		switch strings.ToLower(cfg.LLM.Provider) {
		case "openai":
			cfg.LLM.APIKey = getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = getenv("ANTHROPIC_API_KEY")
		}
	}
	if strings.EqualFold(cfg.LLM.Provider, "ollama") && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = getenv("OLLAMA_BASE_URL")
	}

	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = getenv("VOYAGE_API_KEY")
	}

	if cfg.Graph.URI == "" {
		cfg.Graph.URI = getenv("NEO4J_URI")
	}
	if v := getenv("NEO4J_USER"); v != "" {
		cfg.Graph.User = v
	}
	if cfg.Graph.Password == "" {
		cfg.Graph.Password = getenv("NEO4J_PASSWORD")
	}
	if cfg.Graph.Database == "" {
		cfg.Graph.Database = getenv("NEO4J_DATABASE")
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
