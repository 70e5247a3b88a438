package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arthur-debert/dotz/pkg/engine"
	"github.com/arthur-debert/dotz/pkg/logging"
	"github.com/arthur-debert/dotz/pkg/paths"
)

var (
	verbosity int

	rootCmd = &cobra.Command{
		Use:   "dotz",
		Short: "Track dotfiles in a git-backed store behind symlinks",
		Long: `dotz moves your dotfiles into a git repository under ~/.dotz and
replaces the originals with symlinks, so every edit lands in version
control. Tracked directories are watched for new files.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupLogger(verbosity)
			log.Debug().Str("command", cmd.Name()).Msg("command started")
		},
		SilenceUsage: true,
	}
)

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newBackupsCmd())
}

// openEngine wires paths + config + repository for commands that need a
// ready engine.
func openEngine() (*engine.Engine, paths.Paths, error) {
	p, err := paths.New()
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.Open(p)
	if err != nil {
		return nil, nil, err
	}
	return eng, p, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("dotz version %s\n", version)
		cmd.Printf("  commit: %s\n", commit)
		cmd.Printf("  built:  %s\n", date)
	},
}
