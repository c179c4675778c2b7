package cmds

import (
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/dsa-tutor/pkg/client"
	"github.com/go-go-golems/dsa-tutor/pkg/ui/chat"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the tutor in the terminal",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
	addBackendFlags(cmd.Flags())
	cmd.Flags().Bool("rollback-on-failure", true, "Remove a message from the conversation view when sending it fails")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	// stderr belongs to the TUI unless logs go to a file
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile == "" {
		log.Logger = log.Logger.Output(io.Discard)
	}

	hc, err := client.NewHTTPClient(s.BackendURL)
	if err != nil {
		return err
	}
	session, err := client.NewSession(hc, client.WithRollbackOnFailure(s.RollbackOnFailure))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	p := tea.NewProgram(chat.New(ctx, session), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}
