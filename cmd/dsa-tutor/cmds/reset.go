package cmds

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/dsa-tutor/pkg/client"
)

func NewResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the relay's shared transcript",
		Long:  "Clear the relay's transcript. The transcript is shared by every client, so this resets their conversation too.",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}
	addBackendFlags(cmd.Flags())
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func runReset(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		ok, err := confirm(cmd, "Clear the shared transcript for every client? [y/n]")
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	hc, err := client.NewHTTPClient(s.BackendURL)
	if err != nil {
		return err
	}
	if err := hc.Reset(cmd.Context()); err != nil {
		return errors.Wrap(err, client.MsgResetFailed)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "Transcript cleared.")
	return err
}

func confirm(cmd *cobra.Command, query string) (bool, error) {
	ui := &input.UI{
		Writer: cmd.OutOrStdout(),
		Reader: cmd.InOrStdin(),
	}
	answer, err := ui.Ask(query, &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n", "yes", "no":
				return nil
			default:
				return errors.Errorf("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, errors.Wrap(err, "read confirmation")
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
