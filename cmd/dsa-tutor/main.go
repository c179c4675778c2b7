package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/dsa-tutor/cmd/dsa-tutor/cmds"
	"github.com/go-go-golems/dsa-tutor/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "dsa-tutor",
	Short: "dsa-tutor relays data-structures and algorithms questions to Gemini",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger now that --log-level and co are parsed
		return logging.InitLoggerFromCobra(cmd)
	},
	SilenceUsage: true,
}

func main() {
	logging.AddFlags(rootCmd.PersistentFlags())
	cmds.AddConfigFlag(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		cmds.NewServeCommand(),
		cmds.NewChatCommand(),
		cmds.NewAskCommand(),
		cmds.NewResetCommand(),
		cmds.NewTranscriptCommand(),
		cmds.NewArchiveCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	cobra.CheckErr(err)
}
