package main

import (
	"fmt"
	"log/slog"

	"github.com/c35s/flatvm/config"
	"github.com/spf13/cobra"
)

// options are shared by every subcommand.
type options struct {
	configPath string
	logLevel   string

	// cfg is the config file merged with the persistent flags. Subcommands
	// merge their own flags on top.
	cfg config.Config
}

func newRootCmd() *cobra.Command {
	opts := new(options)

	root := &cobra.Command{
		Use:   "flatvm",
		Short: "Boot a Linux kernel in a minimal KVM virtual machine",
		Long: `flatvm creates a KVM virtual machine with one vcpu, loads a Linux kernel
image into it, enters the kernel in flat 32-bit protected mode, and copies
whatever the guest writes to its first serial port to stdout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "read configuration from `file`")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "minimum log `level`: debug, info, warn, or error")

	root.AddCommand(
		newRunCmd(opts),
		newPreflightCmd(opts),
		newConfigCmd(opts),
	)

	return root
}

// load reads the config file, applies the persistent flags, and installs the
// default logger.
func (o *options) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return err
		}

		cfg = c
	}

	if cmd.Flags().Changed("log-level") {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(o.logLevel)); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}

		cfg.LogLevel = config.Level(lvl)
	}

	o.cfg = cfg

	h := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.LogLevel.Level(),
	})

	slog.SetDefault(slog.New(h))
	return nil
}
