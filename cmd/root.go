package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sagan/genmeta/version"
)

var RootCmd = &cobra.Command{
	Use:   "genmeta",
	Short: "genmeta " + version.Version,
	Long: `genmeta ` + version.Version + "." + `
Recover image generation parameters embedded in AI generated images
and resolve the referenced models / LoRAs / embeddings against Civitai.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(flagLogLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", flagLogLevel, err)
		}
		log.SetLevel(level)
		return nil
	},
}

var flagLogLevel string

func init() {
	RootCmd.PersistentFlags().StringVarP(&flagLogLevel, "log-level", "", "info",
		`Log level. Any of: "trace", "debug", "info", "warn", "error"`)
}

// Execute runs the root command. Ctrl-C cancels the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}
