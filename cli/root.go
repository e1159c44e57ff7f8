package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	dataDir  string
	logLevel string
	quiet    bool
}

// NewRootCommand builds the filenet command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "filenet",
		Short:         "peer-to-peer file transfer over TCP",
		Long:          `filenet links two hosts over TCP and moves files between them in verified blocks over parallel data connections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return configureLogging(cmd, opts.logLevel)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.dataDir, "data-dir", "", "data directory (default: $FILENET_DATA_DIR or the per-user config dir)")
	flags.StringVar(&opts.logLevel, "log-level", "warning", "log level: debug, info, warning, error")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "start with the console hidden")

	root.AddCommand(
		newListenCommand(opts),
		newConnectCommand(opts),
		newInterfacesCommand(),
		newTestfileCommand(),
		newCatalogCommand(opts),
		newHistoryCommand(opts),
		newPeersCommand(opts),
		newEventsCommand(opts),
	)
	return root
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func configureLogging(cmd *cobra.Command, level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	logrus.SetLevel(parsed)
	logrus.SetOutput(cmd.ErrOrStderr())
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}
