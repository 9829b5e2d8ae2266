// reportalpha turns broker research reports into a sentiment factor and
// evaluates it against realized stock returns.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/config"
	"github.com/seenimoa/reportalpha/internal/logging"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config, logger and run id, set in PersistentPreRunE.
var (
	cfg    *config.Config
	logger *zap.Logger
	runID  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reportalpha",
	Short: "Broker research report sentiment factor pipeline",
	Long: `reportalpha crawls broker research reports from Eastmoney and Sina,
cleans and scores their text with a sentiment classifier, builds a trailing
weighted per-stock factor and evaluates it with a monthly Rank-IC study and a
layered excess-return backtest.

Every stage is a subcommand and reads the previous stage's persisted output.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		base, err := logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		runID = uuid.NewString()
		logger = base.With(zap.String("run_id", runID), zap.String("command", cmd.CommandPath()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json", false, "print results as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(factorCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(rankICCmd)
	rootCmd.AddCommand(layersCmd)
}

// printResult writes v as pretty JSON with --json, or calls text otherwise.
func printResult(cmd *cobra.Command, v any, text func()) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); !asJSON {
		text()
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = os.Stdout.Write(pretty.Pretty(data))
	return err
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reportalpha %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and secret status",
	RunE: func(cmd *cobra.Command, args []string) error {
		secrets := config.CheckSecrets(cfg)
		status := map[string]any{
			"version":     version,
			"commit":      commit,
			"time_cst":    utils.NowCST().Format("2006-01-02 15:04:05"),
			"default_day": utils.FormatDateCST(utils.PrevWorkingDay(utils.NowCST())),
			"store":       cfg.Store.Driver,
			"classifier":  classifierName(),
			"secrets":     secrets,
		}
		return printResult(cmd, status, func() {
			fmt.Println("═══════════════════════════════════════")
			fmt.Println("  reportalpha System Status")
			fmt.Println("═══════════════════════════════════════")
			fmt.Printf("  Version:       %s (%s)\n", version, commit)
			fmt.Printf("  Time (CST):    %s\n", status["time_cst"])
			fmt.Printf("  Default day:   %s\n", status["default_day"])
			fmt.Println()

			fmt.Println("  Configuration:")
			fmt.Printf("    Store:         %s\n", cfg.Store.Driver)
			fmt.Printf("    Classifier:    %s\n", classifierName())
			fmt.Printf("    Factor window: %d\n", cfg.Factor.Window)
			fmt.Printf("    Layers:        %d\n", cfg.Backtest.Layers)
			fmt.Printf("    Schedule:      %s (%s)\n", cfg.Schedule.Eastmoney, cfg.Schedule.Timezone)
			fmt.Println()

			fmt.Println("  Secrets:")
			for _, s := range secrets {
				state := "❌ not set"
				if s.IsSet {
					state = fmt.Sprintf("✅ set (%s: %s)", s.Source, s.Masked)
				}
				fmt.Printf("    %-25s %s\n", s.Name+":", state)
			}
			fmt.Println("═══════════════════════════════════════")
		})
	},
}
