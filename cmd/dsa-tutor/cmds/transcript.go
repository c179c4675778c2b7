package cmds

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/dsa-tutor/pkg/client"
	"github.com/go-go-golems/dsa-tutor/pkg/tokens"
)

type transcriptOutput struct {
	client.TranscriptResponse `yaml:",inline"`
	EstimatedTokens           int `json:"estimated_tokens,omitempty" yaml:"estimated_tokens,omitempty"`
}

func NewTranscriptCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcript",
		Short: "Print the relay's current transcript",
		Args:  cobra.NoArgs,
		RunE:  runTranscript,
	}
	addBackendFlags(cmd.Flags())
	cmd.Flags().StringP("output", "o", "yaml", "Output format (yaml, json)")
	cmd.Flags().Bool("tokens", false, "Include an estimate of the transcript's token count")
	return cmd
}

func runTranscript(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	hc, err := client.NewHTTPClient(s.BackendURL)
	if err != nil {
		return err
	}
	tr, err := hc.Transcript(cmd.Context())
	if err != nil {
		return err
	}

	out := transcriptOutput{TranscriptResponse: *tr}
	if withTokens, _ := cmd.Flags().GetBool("tokens"); withTokens {
		counter := tokens.Default()
		for _, t := range tr.Turns {
			out.EstimatedTokens += counter.Count(t.Text)
		}
	}
	format, _ := cmd.Flags().GetString("output")
	return writeStructured(cmd.OutOrStdout(), format, out)
}

func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
