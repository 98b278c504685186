package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mwhitfield/backherd/internal/config"
	"github.com/mwhitfield/backherd/internal/coordinator"
	"github.com/mwhitfield/backherd/internal/retention"
	"github.com/mwhitfield/backherd/internal/runlog"
)

const version = "1.0.0"

const defaultConfigPath = "/etc/backherd.conf"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "backherd: %v\n", err)
		os.Exit(coordinator.ExitFatal)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "backherd",
		Short:         "Coordinate concurrent filesystem backup jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file (KEY=value lines)")

	rootCmd.AddCommand(newRunCmd(rootCmd.PersistentFlags()))
	rootCmd.AddCommand(newSweepCmd(rootCmd.PersistentFlags()))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the backherd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "backherd %s\n", version)
		},
	})

	return rootCmd
}

func newRunCmd(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one backup pass over all targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := flags.GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			c, err := coordinator.New(cfg)
			if err != nil {
				return err
			}

			// The process exit status is the run's aggregate result; exit
			// directly instead of routing it through cobra's error path.
			os.Exit(c.Run(context.Background()))
			return nil
		},
	}
}

func newSweepCmd(flags *pflag.FlagSet) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Prune run directories older than the retention age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := flags.GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger := runlog.NewWithWriter(os.Stderr, nil, runlog.ParseLevel(cfg.LogLevel))
			removed := retention.Sweep(cfg.LogRoot, cfg.Retention(), time.Now(), logger)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d run directories older than %d days\n", removed, cfg.RetentionDays)
			return nil
		},
	}
}
