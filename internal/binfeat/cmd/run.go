package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	blog "binfeat/internal/binfeat/log"
	"binfeat/internal/batch"
	"binfeat/internal/config"
	"binfeat/internal/detectors"
	"binfeat/internal/engine"
	"binfeat/internal/features"
	"binfeat/internal/labeling"
	"binfeat/internal/logging"
	"binfeat/internal/metrics"
	"binfeat/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run <input-dir>",
	Short: "Run batch feature extraction over a directory of binaries",
	Long: `Run iterates over the candidate binaries (.elf, .o, .a, .bin) in the
input directory, disassembles each through the configured engine, and
writes one <binary>_features.json per successfully processed binary plus
an aggregate run summary.`,
	Example: `
# Native backend, four binaries in flight
binfeat run ./samples -o ./features --batch-size 4

# Ghidra backend with a 10 minute per-binary timeout
binfeat run ./samples --engine ghidra --timeout 600
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		logFile, _ := cmd.Flags().GetString("log-file")
		blog.Setup(logFile, debug)

		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := logging.NewLogger()
		defer logger.Close()

		// Signature and rule tables are fatal on load failure: ignoring a
		// broken table silently changes labeling for the whole run.
		registry, err := detectors.NewRegistry()
		if err != nil {
			return err
		}
		if cfg.SignatureFile != "" {
			if err := registry.LoadFile(cfg.SignatureFile); err != nil {
				return err
			}
		}
		labeler := labeling.NewEngine(registry)
		if cfg.RuleFile != "" {
			if err := labeler.LoadRules(cfg.RuleFile); err != nil {
				return err
			}
		}

		var eng engine.Engine
		switch cfg.Engine {
		case "ghidra":
			eng, err = engine.NewGhidra(cfg.GhidraHome, cfg.ScriptDir, logger.Logger)
			if err != nil {
				return err
			}
		default:
			eng = engine.NewNative()
		}

		var cache *storage.Cache
		if cfg.RedisAddr != "" {
			cache, err = storage.NewCache(cmd.Context(), cfg.RedisAddr, cfg.RedisPassword)
			if err != nil {
				return err
			}
			defer cache.Close()
		}

		var reg *metrics.Registry
		if cfg.MetricsAddr != "" {
			reg = metrics.NewRegistry()
			go func() {
				if err := reg.Serve(cfg.MetricsAddr); err != nil {
					slog.Error("metrics endpoint failed", "addr", cfg.MetricsAddr, "error", err)
				}
			}()
		}

		builder := features.NewBuilder(registry, labeler, cfg.NGramSize)
		orch := batch.New(cfg, eng, builder, cache, reg, logger.Logger)

		summary, err := orch.Run(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if summaryPath, _ := cmd.Flags().GetString("summary"); summaryPath != "" {
			data, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal summary: %w", err)
			}
			if err := os.WriteFile(summaryPath, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		if !quiet {
			fmt.Println(renderSummary(summary))
		}
		if summary.BinariesFailed > 0 {
			return fmt.Errorf("%d of %d binaries failed", summary.BinariesFailed, summary.BinariesTotal)
		}
		return nil
	},
}

// applyFlags overlays explicitly-set command-line flags onto the config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("output") {
		cfg.OutputDir, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("engine") {
		cfg.Engine, _ = cmd.Flags().GetString("engine")
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	}
	if cmd.Flags().Changed("timeout") {
		cfg.TimeoutPerBinary, _ = cmd.Flags().GetInt("timeout")
	}
	if cmd.Flags().Changed("ngram") {
		cfg.NGramSize, _ = cmd.Flags().GetInt("ngram")
	}
	if cmd.Flags().Changed("signatures") {
		cfg.SignatureFile, _ = cmd.Flags().GetString("signatures")
	}
	if cmd.Flags().Changed("rules") {
		cfg.RuleFile, _ = cmd.Flags().GetString("rules")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
}

func init() {
	runCmd.Flags().StringP("output", "o", "features", "Output directory for feature JSON")
	runCmd.Flags().String("config", "", "Path to YAML configuration file")
	runCmd.Flags().String("engine", "", "Disassembly backend (ghidra, native)")
	runCmd.Flags().Int("batch-size", 0, "Number of binaries processed concurrently")
	runCmd.Flags().Int("timeout", 0, "Per-binary timeout in seconds")
	runCmd.Flags().Int("ngram", 0, "Mnemonic n-gram window size")
	runCmd.Flags().String("signatures", "", "Extra signature definitions (YAML)")
	runCmd.Flags().String("rules", "", "Replacement label rules (YAML)")
	runCmd.Flags().String("metrics-addr", "", "Expose Prometheus metrics on this address")
	runCmd.Flags().String("summary", "", "Write the run summary JSON to this file")
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress the summary table")
	rootCmd.AddCommand(runCmd)
}
