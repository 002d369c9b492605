// Command psplit reads line-delimited text from one or more source FIFOs
// and replicates each line onto a configured set of destination FIFOs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/donc310/psplit/internal/config"
	"github.com/donc310/psplit/internal/pipes"
)

const defaultConfigPath = "/usr/cvapps/pipes/config_splitter.ini"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
		reload     bool
	)

	cmd := &cobra.Command{
		Use:   "psplit",
		Short: "Fan out lines from named pipes to one or more destination named pipes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reload {
				return fmt.Errorf("--reload: not yet implemented")
			}
			return run(configPath, verbose)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the INI configuration file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&reload, "reload", "r", false, "auto-reload on configuration change (reserved, unimplemented)")

	return cmd
}

func run(configPath string, verbose bool) error {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if len(loaded.Inputs) == 0 {
		entry.Info("no input groups configured, exiting")
		return nil
	}

	sup := pipes.NewSupervisor(loaded.Inputs, entry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup.Start(ctx)
	return sup.Wait()
}
