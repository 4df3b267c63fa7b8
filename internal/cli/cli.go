// Package cli implements the hassbridge command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:          "hassbridge",
		Short:        "Template binary sensors and MetService weather for Home Assistant",
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Settings file")
	RootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))

	runCmd.Flags().Bool("read-only", false, "Log entity updates instead of publishing them")
	runCmd.Flags().String("config-dir", ".", "Directory holding configuration.yaml and .storage")
	runCmd.Flags().Int("port", 8081, "HTTP API port")
	_ = viper.BindPFlag("read_only", runCmd.Flags().Lookup("read-only"))
	_ = viper.BindPFlag("config.dir", runCmd.Flags().Lookup("config-dir"))
	_ = viper.BindPFlag("api.port", runCmd.Flags().Lookup("port"))

	RootCmd.AddCommand(&runCmd, &citiesCmd)
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

func initConfig() {
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	SetDefaults(viper.GetViper())
	BindEnv(viper.GetViper())

	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/hassbridge/")
		viper.AddConfigPath("$HOME/.hassbridge")
		viper.AddConfigPath(".")
		viper.SetConfigName("hassbridge")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFilename == "" && errors.As(err, &notFound) {
			return
		}
		fmt.Fprintf(os.Stderr, "Failed to read settings file: %v\n", err)
		os.Exit(1)
	}
}

// NewLogger creates the production logger, or a development logger when
// debug is set.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
