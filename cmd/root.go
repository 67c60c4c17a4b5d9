package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "call-insights",
	Short: "Batch-process call-recording clips into structured insights",
	Long: `call-insights drives call-recording audio files through a three-stage
pipeline (transcribe, analyze, persist) with bounded concurrency, per-clip
retry budgets and idempotent resume from durable state.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}
