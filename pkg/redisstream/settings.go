package redisstream

import (
	"strings"

	"github.com/pkg/errors"
)

// Settings holds Redis Streams transport configuration for transcript events.
type Settings struct {
	Enabled bool   `mapstructure:"redis-enabled" yaml:"redis-enabled"`
	Addr    string `mapstructure:"redis-addr" yaml:"redis-addr"`
	Group   string `mapstructure:"redis-group" yaml:"redis-group"`
	// Consumer names this process inside each consumer group.
	Consumer string `mapstructure:"redis-consumer" yaml:"redis-consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Group:    "dsa-tutor",
		Consumer: "relay-1",
	}
}

func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("redis-addr is required when redis is enabled")
	}
	if strings.TrimSpace(s.Group) == "" {
		return errors.New("redis-group is required when redis is enabled")
	}
	if strings.TrimSpace(s.Consumer) == "" {
		return errors.New("redis-consumer is required when redis is enabled")
	}
	return nil
}

// GroupFor returns the consumer group used by a named bus consumer. Each bus consumer gets its
// own group so that every one of them sees every event.
func (s Settings) GroupFor(consumer string) string {
	if consumer == "" {
		return s.Group
	}
	return s.Group + "." + consumer
}
