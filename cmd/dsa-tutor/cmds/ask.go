package cmds

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/go-go-golems/dsa-tutor/pkg/client"
)

func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Send one question to the relay and print the reply",
		Long:  "Send one question to the relay and print the reply. Reads the question from stdin when no arguments are given.",
		RunE:  runAsk,
	}
	addBackendFlags(cmd.Flags())
	cmd.Flags().Bool("raw", false, "Print the reply without markdown rendering")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	if len(args) == 0 {
		input, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return errors.Wrap(err, "read question from stdin")
		}
		question = strings.TrimSpace(string(input))
	}

	hc, err := client.NewHTTPClient(s.BackendURL)
	if err != nil {
		return err
	}
	reply, err := hc.Send(cmd.Context(), question)
	if err != nil {
		return err
	}
	if reply == "" {
		reply = client.FallbackReply
	}

	out := cmd.OutOrStdout()
	raw, _ := cmd.Flags().GetBool("raw")
	if raw || !isatty.IsTerminal(os.Stdout.Fd()) {
		_, err = fmt.Fprintln(out, reply)
		return err
	}

	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return errors.Wrap(err, "create markdown renderer")
	}
	rendered, err := r.Render(reply)
	if err != nil {
		rendered = reply + "\n"
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}
