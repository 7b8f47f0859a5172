package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gridnode/gridnode/pkg/session"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gridnode",
		Short: "GridNode - requestor client for the compute marketplace",
		Long: `GridNode is the requestor-side client for a decentralized compute
marketplace: publish demands, negotiate proposals into agreements and run
command batches on the providers you agreed with.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newAllocationCommand())
	rootCmd.AddCommand(newFindNodeCommand())

	return rootCmd
}

// openSession builds and starts a session from the global config flag.
func openSession(ctx context.Context) (*session.Session, error) {
	cfg, err := session.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}

	sess, err := session.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}
