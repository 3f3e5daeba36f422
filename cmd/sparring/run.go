package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sparringlabs/sparring/agent"
	"github.com/sparringlabs/sparring/config"
	"github.com/sparringlabs/sparring/dataset"
	"github.com/sparringlabs/sparring/engine"
	"github.com/sparringlabs/sparring/judge"
	"github.com/sparringlabs/sparring/metrics"
	"github.com/sparringlabs/sparring/statestore"
	"github.com/sparringlabs/sparring/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run conversation simulations over a dataset",
	Long: `Run one adversarial conversation per dataset record between the subject
agent and the counterpart, then grade and persist the transcripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulations(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "sparring.yaml", "Configuration file path")

	// Override flags
	runCmd.Flags().IntP("concurrency", "j", 0, "Number of concurrent runs (overrides config)")
	runCmd.Flags().Int("max-turns", 0, "Maximum conversation length (overrides config)")
	runCmd.Flags().StringP("out", "o", "", "Directory to write result JSON files")
	runCmd.Flags().Bool("ci", false, "CI mode (exit non-zero when runs fail)")
	runCmd.Flags().BoolP("verbose", "v", false, "Enable verbose debug logging")

	_ = viper.BindPFlag("concurrency", runCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("max_turns", runCmd.Flags().Lookup("max-turns"))
	_ = viper.BindPFlag("out_dir", runCmd.Flags().Lookup("out"))
	_ = viper.BindPFlag("ci_mode", runCmd.Flags().Lookup("ci"))
}

func runSimulations(cmd *cobra.Command) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	applyFlagOverrides(cmd, cfg)

	records, err := dataset.Load(cfg.DatasetPath())
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	store, cleanup, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	exporter, err := startMetrics(cfg)
	if err != nil {
		return err
	}
	if exporter != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = exporter.Stop(ctx)
		}()
	}

	eng, err := buildEngine(cfg, store)
	if err != nil {
		return err
	}

	ciMode, _ := cmd.Flags().GetBool("ci")
	if !ciMode {
		fmt.Printf("Running sparring batch %q\n", cfg.Name)
		fmt.Printf("Dataset: %s (%d records)\n", cfg.DatasetPath(), len(records))
		fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
		fmt.Println()
	}

	ctx := context.Background()
	runIDs, err := eng.ExecuteRuns(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to execute runs: %w", err)
	}

	return processResults(ctx, cmd, store, runIDs, ciMode)
}

// loadConfiguration loads the manifest named by the --config flag. A
// directory path is resolved to sparring.yaml inside it.
func loadConfiguration(cmd *cobra.Command) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	if info, statErr := os.Stat(configFile); statErr == nil && info.IsDir() {
		configFile = filepath.Join(configFile, "sparring.yaml")
	}

	viper.SetConfigFile(configFile)
	if readErr := viper.ReadInConfig(); readErr != nil {
		log.Printf("Warning: Could not read config file %s: %v", configFile, readErr)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("concurrency") {
		if v, err := cmd.Flags().GetInt("concurrency"); err == nil {
			cfg.Concurrency = v
		}
	}
	if cmd.Flags().Changed("max-turns") {
		if v, err := cmd.Flags().GetInt("max-turns"); err == nil {
			cfg.MaxTurns = v
		}
	}
}

// buildStore creates the configured state store backend. The returned
// cleanup func closes the Redis client when one was opened.
func buildStore(cfg *config.Config) (statestore.Store, func(), error) {
	if cfg.Store.Backend != "redis" {
		return statestore.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})

	var opts []statestore.RedisOption
	if cfg.Store.Redis.Prefix != "" {
		opts = append(opts, statestore.WithPrefix(cfg.Store.Redis.Prefix))
	}

	return statestore.NewRedisStore(client, opts...), func() { _ = client.Close() }, nil
}

func startMetrics(cfg *config.Config) (*metrics.Exporter, error) {
	if cfg.Metrics == nil || !cfg.Metrics.Enabled {
		return nil, nil
	}
	addr := cfg.Metrics.Addr
	if addr == "" {
		addr = ":9090"
	}
	exporter := metrics.NewExporter(addr)
	if err := exporter.Start(); err != nil {
		return nil, fmt.Errorf("failed to start metrics exporter: %w", err)
	}
	return exporter, nil
}

func buildEngine(cfg *config.Config, store statestore.Store) (*engine.Engine, error) {
	opts := engine.Options{
		Subject:     agent.NewHTTPAgent(types.RoleAssistant, cfg.Subject.URL),
		Counterpart: agent.NewHTTPAgent(types.RoleUser, cfg.Counterpart.URL),
		Store:       store,
		OpeningKey:  cfg.OpeningKey,
		MaxTurns:    cfg.MaxTurns,
		Concurrency: cfg.Concurrency,
	}

	if cfg.Judge != nil && cfg.Judge.Enabled {
		grader := agent.NewHTTPAgent(types.RoleAssistant, cfg.Judge.Grader.URL)
		j, err := judge.NewAgentJudge(grader)
		if err != nil {
			return nil, fmt.Errorf("failed to create judge: %w", err)
		}
		opts.Judge = j
	}

	eng, err := engine.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return eng, nil
}

// processResults optionally writes result files, prints a summary, and
// returns an error in CI mode when any run failed.
func processResults(
	ctx context.Context,
	cmd *cobra.Command,
	store statestore.Store,
	runIDs []string,
	ciMode bool,
) error {
	outDir, _ := cmd.Flags().GetString("out")

	var passCount, failCount, errorCount int
	for _, runID := range runIDs {
		result, err := store.Load(ctx, runID)
		if err != nil {
			log.Printf("Warning: failed to load run result %s: %v", runID, err)
			errorCount++
			continue
		}

		switch {
		case result.Failed():
			errorCount++
		case result.Verdict != nil && !result.Verdict.Pass:
			failCount++
		default:
			passCount++
		}

		if outDir != "" {
			if err := saveResult(result, outDir); err != nil {
				log.Printf("Warning: failed to save result %s: %v", runID, err)
			}
		}
	}

	if !ciMode {
		fmt.Printf("Execution complete!\n")
		fmt.Printf("Total runs: %d\n", len(runIDs))
		fmt.Printf("Passed: %d\n", passCount)
		fmt.Printf("Failed verdicts: %d\n", failCount)
		fmt.Printf("Errors: %d\n", errorCount)
		if outDir != "" {
			fmt.Printf("Results saved to: %s\n", outDir)
		}
	}

	if ciMode && (errorCount > 0 || failCount > 0) {
		return fmt.Errorf("execution failed: %d errors, %d failed verdicts", errorCount, failCount)
	}

	return nil
}

func saveResult(result *statestore.RunResult, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, result.RunID+".json"), data, 0o600)
}
