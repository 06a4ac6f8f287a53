package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "binfeat",
	Short: "Extract ML-ready feature sets from compiled binaries",
	Long: `Binfeat extracts structured, machine-learning-ready feature sets from
compiled binary code: control-flow-graph metrics, instruction statistics,
entropy measures, cryptographic-constant signatures, and a semantic label
per function, aggregated into one JSON artifact per binary.`,
	Example: `
# Extract features for every binary under ./samples
binfeat run ./samples -o ./features

# Use a Ghidra installation as the disassembly engine
GHIDRA_HOME=/opt/ghidra binfeat run ./samples
  `,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to a file instead of stderr")
}

func Execute() {
	// Bypass fang's markdown rendering when output is being piped.
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
