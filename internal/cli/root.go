// Package cli implements the newsletter command line: the HTTP server, the
// delivery workers and maintenance commands, all sharing one configuration.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-newsletter/internal/config"
	"github.com/tbourn/go-newsletter/internal/sysutil"
)

const defaultEnvFile = ".env"

// RootOptions holds global flags and the configuration loaded before any
// subcommand runs.
type RootOptions struct {
	EnvFile string
	Version string

	Config config.Config
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: sysutil.FirstNonEmpty(version, "dev")}

	cmd := &cobra.Command{
		Use:           "newsletter",
		Short:         "Newsletter publishing service",
		Long:          "Publishes newsletter issues to confirmed subscribers and delivers them through a transactional queue.",
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.Flags().Changed("env-file"))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", defaultEnvFile, "dotenv file loaded before reading the environment")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSubscribersCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

// load reads the env file (a missing default file is fine), loads the
// configuration and sets up logging.
func (o *RootOptions) load(explicitEnvFile bool) error {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil {
			if explicitEnvFile || !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", o.EnvFile, err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.Config = cfg
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	return nil
}
