package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/logger"
	"github.com/engramdb/engram/pkg/memory"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Engram - hybrid memory retrieval engine",
	Long: `Engram stores short text memories scoped by owner and session and
retrieves them by fusing vector similarity with full-text relevance.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.engram/engram.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// openManager loads configuration and constructs the single engine instance
// shared by a command invocation. The returned closer releases both the
// manager and the logger.
func openManager() (*memory.Manager, *config.Config, func(), error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	var provider memory.EmbeddingProvider
	if cfg.Embeddings.Provider == "openai" {
		provider = memory.NewOpenAIProvider(cfg.Embeddings.APIKey, cfg.Embeddings.Model)
	}

	mgr, err := memory.NewManager(memory.Config{
		DBPath:            cfg.Database.Path,
		Logger:            log.Zerolog(),
		EmbeddingProvider: provider,
		FullText:          memory.FullTextOptions{BM25Saturation: cfg.Search.BM25Saturation},
	})
	if err != nil {
		log.Close()
		return nil, nil, nil, err
	}

	closer := func() {
		mgr.Close()
		log.Close()
	}
	return mgr, cfg, closer, nil
}

// searchDefaults maps config tuning onto per-query options.
func searchDefaults(cfg *config.Config) memory.SearchOptions {
	minScore := cfg.Search.MinScore
	return memory.SearchOptions{
		VectorWeight: cfg.Search.VectorWeight,
		TextWeight:   cfg.Search.TextWeight,
		MinScore:     &minScore,
	}
}
