package cmds

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/dsa-tutor/pkg/persistence/chatstore"
)

func NewArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "List transcript events recorded by the turn archive",
		Args:  cobra.NoArgs,
		RunE:  runArchive,
	}
	f := cmd.Flags()
	f.String("archive-driver", "", "Turn archive driver (sqlite, postgres); defaults to the configured archive-driver")
	f.String("archive-dsn", "", "Turn archive DSN")
	f.String("type", "", "Only list events of this type (turn.appended, transcript.reset)")
	f.Int64("since-ms", 0, "Only list events at or after this unix time in milliseconds")
	f.Int("limit", 50, "Maximum number of events")
	f.StringP("output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

func runArchive(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if s.ArchiveDriver == "" || s.ArchiveDriver == chatstore.DriverNone {
		return errors.New("an archive driver is required (--archive-driver or archive-driver in config)")
	}
	store, err := chatstore.Open(cmd.Context(), s.ArchiveDriver, s.ArchiveDSN)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	f := cmd.Flags()
	q := chatstore.TurnQuery{}
	q.Type, _ = f.GetString("type")
	q.SinceMs, _ = f.GetInt64("since-ms")
	q.Limit, _ = f.GetInt("limit")

	items, err := store.List(cmd.Context(), q)
	if err != nil {
		return err
	}
	if items == nil {
		items = []chatstore.ArchivedEvent{}
	}
	format, _ := f.GetString("output")
	return writeStructured(cmd.OutOrStdout(), format, items)
}
