package cmds

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/dsa-tutor/pkg/config"
	"github.com/go-go-golems/dsa-tutor/pkg/events"
	"github.com/go-go-golems/dsa-tutor/pkg/gemini"
	"github.com/go-go-golems/dsa-tutor/pkg/persistence/chatstore"
	"github.com/go-go-golems/dsa-tutor/pkg/redisstream"
	"github.com/go-go-golems/dsa-tutor/pkg/relay"
	"github.com/go-go-golems/dsa-tutor/pkg/tokens"
	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
	"github.com/go-go-golems/dsa-tutor/pkg/webchat"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP server",
		Long: "Run the relay HTTP server. Every client shares one in-memory transcript, " +
			"which starts empty and is lost when the process exits.",
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	f := cmd.Flags()
	d := config.Defaults()
	f.String("addr", d.Addr, "Listen address (env PORT overrides the port)")
	f.String("model", d.Model, "Gemini model")
	f.Int("context-warn-tokens", d.ContextWarnTokens, "Warn when the estimated prompt exceeds this many tokens (0 disables)")
	f.String("archive-driver", d.ArchiveDriver, "Turn archive driver (none, sqlite, postgres)")
	f.String("archive-dsn", d.ArchiveDSN, "Turn archive DSN")
	f.Bool("redis-enabled", d.Redis.Enabled, "Carry transcript events over Redis Streams")
	f.String("redis-addr", d.Redis.Addr, "Redis address host:port")
	f.String("redis-group", d.Redis.Group, "Redis consumer group prefix")
	f.String("redis-consumer", d.Redis.Consumer, "Redis consumer name")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if err := s.ValidateServer(); err != nil {
		return err
	}
	ctx := cmd.Context()

	gen, err := gemini.NewGenerator(ctx, gemini.Settings{APIKey: s.GoogleAPIKey, Model: s.Model})
	if err != nil {
		return err
	}
	defer func() { _ = gen.Close() }()

	wmLogger := events.NewZerologAdapter(log.Logger)
	var bus *events.Bus
	if s.Redis.Enabled {
		tr, err := redisstream.NewTransport(ctx, s.Redis, wmLogger)
		if err != nil {
			return err
		}
		defer func() { _ = tr.Close() }()
		bus = tr.Bus
	} else {
		bus = events.NewInMemoryBus(wmLogger)
		defer func() { _ = bus.Close() }()
	}

	svc, err := relay.NewService(transcript.New(), gen,
		relay.WithEventSinks(bus),
		relay.WithContextWarnTokens(s.ContextWarnTokens),
		relay.WithTokenCounter(tokens.Default()),
	)
	if err != nil {
		return err
	}

	router, err := webchat.NewRouter(svc, webchat.NewConnectionPool("ws"))
	if err != nil {
		return err
	}

	var srvOpts []webchat.ServerOption
	if s.ArchiveDriver != "" && s.ArchiveDriver != chatstore.DriverNone {
		archive, err := chatstore.Open(ctx, s.ArchiveDriver, s.ArchiveDSN)
		if err != nil {
			return errors.Wrap(err, "open turn archive")
		}
		defer func() { _ = archive.Close() }()
		srvOpts = append(srvOpts, webchat.WithArchive(archive))
	}

	srv, err := webchat.NewServer(s.ListenAddr(), router, bus, srvOpts...)
	if err != nil {
		return err
	}
	log.Info().
		Str("model", gen.Model()).
		Bool("redis", s.Redis.Enabled).
		Str("archive", s.ArchiveDriver).
		Msg("relay configured")
	return srv.Run(ctx)
}
