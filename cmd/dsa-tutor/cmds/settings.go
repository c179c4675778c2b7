package cmds

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-go-golems/dsa-tutor/pkg/config"
)

func AddConfigFlag(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (default ./config/config.yaml or ~/.dsa-tutor/config.yaml)")
}

func addBackendFlags(fs *pflag.FlagSet) {
	fs.String("backend-url", config.DefaultBackendURL, "Base URL of the relay (env BACKEND_URL)")
}

// loadSettings resolves the settings for cmd, letting its changed flags win.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(config.NewViper(), config.LoadOptions{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
}
