// Package config loads dsa-tutor settings from flags, environment, an optional config.yaml and
// a .env file, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/dsa-tutor/pkg/gemini"
	"github.com/go-go-golems/dsa-tutor/pkg/persistence/chatstore"
	"github.com/go-go-golems/dsa-tutor/pkg/redisstream"
	"github.com/go-go-golems/dsa-tutor/pkg/relay"
)

const (
	EnvPrefix = "DSA_TUTOR"

	DefaultAddr       = ":5000"
	DefaultBackendURL = "http://localhost:5000"
)

type Settings struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// Port, when set, overrides the port of Addr.
	Port string `mapstructure:"port" yaml:"port"`

	GoogleAPIKey      string `mapstructure:"google-api-key" yaml:"-"`
	Model             string `mapstructure:"model" yaml:"model"`
	ContextWarnTokens int    `mapstructure:"context-warn-tokens" yaml:"context-warn-tokens"`

	BackendURL        string `mapstructure:"backend-url" yaml:"backend-url"`
	RollbackOnFailure bool   `mapstructure:"rollback-on-failure" yaml:"rollback-on-failure"`

	ArchiveDriver string `mapstructure:"archive-driver" yaml:"archive-driver"`
	ArchiveDSN    string `mapstructure:"archive-dsn" yaml:"archive-dsn"`

	Redis redisstream.Settings `mapstructure:",squash" yaml:",inline"`
}

func Defaults() Settings {
	return Settings{
		Addr:              DefaultAddr,
		Model:             gemini.DefaultModel,
		ContextWarnTokens: relay.DefaultContextWarnTokens,
		BackendURL:        DefaultBackendURL,
		RollbackOnFailure: true,
		ArchiveDriver:     chatstore.DriverNone,
		Redis:             redisstream.DefaultSettings(),
	}
}

// ListenAddr is Addr with its port replaced by Port when Port is set.
func (s *Settings) ListenAddr() string {
	if s.Port == "" {
		return s.Addr
	}
	host := ""
	if i := strings.LastIndex(s.Addr, ":"); i >= 0 {
		host = s.Addr[:i]
	}
	return host + ":" + s.Port
}

func (s *Settings) ValidateServer() error {
	if strings.TrimSpace(s.GoogleAPIKey) == "" {
		return errors.New("GOOGLE_API_KEY is not set")
	}
	if s.ArchiveDriver != "" && s.ArchiveDriver != chatstore.DriverNone && strings.TrimSpace(s.ArchiveDSN) == "" {
		return errors.Errorf("--archive-dsn is required for archive driver %q", s.ArchiveDriver)
	}
	return s.Redis.Validate()
}

// legacyEnv lists the unprefixed variable names accepted alongside the DSA_TUTOR_ ones.
var legacyEnv = map[string]string{
	"port":           "PORT",
	"google-api-key": "GOOGLE_API_KEY",
	"backend-url":    "BACKEND_URL",
}

type LoadOptions struct {
	// ConfigFile overrides the config.yaml search.
	ConfigFile string
	// Flags are bound last so changed flags win over everything else.
	Flags *pflag.FlagSet
	// DotEnvFiles defaults to ".env" in the working directory.
	DotEnvFiles []string
}

func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("port", d.Port)
	v.SetDefault("google-api-key", d.GoogleAPIKey)
	v.SetDefault("model", d.Model)
	v.SetDefault("context-warn-tokens", d.ContextWarnTokens)
	v.SetDefault("backend-url", d.BackendURL)
	v.SetDefault("rollback-on-failure", d.RollbackOnFailure)
	v.SetDefault("archive-driver", d.ArchiveDriver)
	v.SetDefault("archive-dsn", d.ArchiveDSN)
	v.SetDefault("redis-enabled", d.Redis.Enabled)
	v.SetDefault("redis-addr", d.Redis.Addr)
	v.SetDefault("redis-group", d.Redis.Group)
	v.SetDefault("redis-consumer", d.Redis.Consumer)

	for key, legacy := range legacyEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), legacy)
	}
	return v
}

// Load reads the .env file(s) into the process environment, then resolves Settings.
func Load(v *viper.Viper, opts LoadOptions) (*Settings, error) {
	if v == nil {
		v = NewViper()
	}
	loadDotEnv(opts.DotEnvFiles)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".dsa-tutor"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	} else {
		log.Debug().Str("component", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config file")
	}

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	s := Defaults()
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	return &s, nil
}

func loadDotEnv(files []string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		// Variables already in the environment win.
		if err := godotenv.Load(f); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("could not load env file")
		}
	}
}
