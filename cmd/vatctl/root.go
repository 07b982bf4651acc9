package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/vatdata/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configs   []string
	logLevel  string
	logFormat string
	backend   string
	path      string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Run and inspect vatdata units",
		Long: `vatctl drives a vatdata unit: a virtual object manager over a durable store.

Configuration is read from the files given with --config (JSON or YAML,
later files override earlier ones), then VATDATA_* environment variables,
then the flags below.`,
		Version:       Version,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringArrayVarP(&flags.configs, "config", "c", nil, "configuration file (repeatable)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: text, json")
	pf.StringVar(&flags.backend, "backend", "", "storage backend: memory, sqlite, nats")
	pf.StringVar(&flags.path, "path", "", "sqlite database file")

	root.AddCommand(
		newDemoCmd(flags),
		newDumpCmd(flags),
		newKindsCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

// load assembles configuration from files, environment and flags.
func (f *globalFlags) load() (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range f.configs {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.backend != "" {
		cfg.Storage.Backend = f.backend
	}
	if f.path != "" {
		cfg.Storage.Path = f.path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		},
	}
}
