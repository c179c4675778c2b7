// Package logging configures the global zerolog logger from the persistent CLI flags.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Settings struct {
	Level      string
	Format     string // auto, text or json
	WithCaller bool
	// File, when set, receives the logs instead of stderr and is rotated.
	File string
}

// AddFlags registers the logging flags on a persistent flag set.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.String("log-format", "auto", "Log format (auto, text, json)")
	fs.Bool("with-caller", false, "Log caller file and line")
	fs.String("log-file", "", "Write logs to this file (rotated)")
}

func SettingsFromCobra(cmd *cobra.Command) Settings {
	f := cmd.Flags()
	s := Settings{Level: "info", Format: "auto"}
	if v, err := f.GetString("log-level"); err == nil {
		s.Level = v
	}
	if v, err := f.GetString("log-format"); err == nil {
		s.Format = v
	}
	if v, err := f.GetBool("with-caller"); err == nil {
		s.WithCaller = v
	}
	if v, err := f.GetString("log-file"); err == nil {
		s.File = v
	}
	return s
}

func InitLoggerFromCobra(cmd *cobra.Command) error {
	return InitLogger(SettingsFromCobra(cmd))
}

// InitLogger replaces log.Logger and sets the global level.
func InitLogger(s Settings) error {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	isTerminal := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	if s.File != "" {
		out = &lumberjack.Logger{
			Filename:   s.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		isTerminal = false
	}

	w, err := writerFor(out, s.Format, isTerminal)
	if err != nil {
		return err
	}
	ctx := zerolog.New(w).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

func writerFor(out io.Writer, format string, isTerminal bool) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto":
		if isTerminal {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
		}
		return out, nil
	case "text", "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !isTerminal}, nil
	case "json":
		return out, nil
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
}

// ParseLevel accepts the zerolog level names plus "warning".
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, errors.Wrapf(err, "invalid log level %q", s)
	}
	return l, nil
}
