package main

import (
	"github.com/spf13/cobra"

	"github.com/arthur-debert/dotz/pkg/engine"
)

var (
	addNoRecursive bool
	addPush        bool

	addCmd = &cobra.Command{
		Use:   "add <path>...",
		Short: "Start tracking files or directories",
		Long: `Add copies each file into the repository, replaces the original
with a symlink and commits. Adding a directory tracks it: every file
matching the configured patterns is added, subdirectories included
unless --no-recursive, and new files appearing later are picked up by
'dotz watch'.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}

			for _, arg := range args {
				result, err := eng.Add(arg, engine.AddOptions{
					Recursive: !addNoRecursive,
					Push:      addPush,
				})
				if err != nil {
					return err
				}
				for _, p := range result.Added {
					cmd.Printf("added   %s\n", p)
				}
				for _, p := range result.Skipped {
					cmd.Printf("skipped %s (already tracked)\n", p)
				}
			}
			return nil
		},
	}

	deletePush bool

	deleteCmd = &cobra.Command{
		Use:   "delete <path>...",
		Short: "Stop tracking files or directories",
		Long: `Delete removes each path from the repository and puts the current
content back in place as a regular file. Deleting a directory untracks
every file beneath it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}

			for _, arg := range args {
				result, err := eng.Delete(arg, engine.DeleteOptions{Push: deletePush})
				if err != nil {
					return err
				}
				for _, p := range result.Deleted {
					cmd.Printf("deleted %s\n", p)
				}
			}
			return nil
		},
	}

	restoreForce bool

	restoreCmd = &cobra.Command{
		Use:   "restore [path]...",
		Short: "Re-create managed symlinks",
		Long: `Restore re-establishes the symlink for tracked paths: missing or
wrong links are replaced, correct ones left alone. A foreign file at a
tracked location stops the restore unless --force, which backs it up
first. With no arguments every tracked file is restored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}

			opts := engine.RestoreOptions{Force: restoreForce}
			var results []*engine.RestoreResult
			if len(args) == 0 {
				result, err := eng.RestoreAll(opts)
				if err != nil {
					return err
				}
				results = append(results, result)
			} else {
				for _, arg := range args {
					result, err := eng.Restore(arg, opts)
					if err != nil {
						return err
					}
					results = append(results, result)
				}
			}

			for _, result := range results {
				for _, p := range result.Relinked {
					cmd.Printf("relinked  %s\n", p)
				}
				for _, p := range result.BackedUp {
					cmd.Printf("backed up %s\n", p)
				}
				for _, p := range result.Unchanged {
					cmd.Printf("ok        %s\n", p)
				}
			}
			return nil
		},
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List tracked files and directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}

			files, dirs, err := eng.ListTracked()
			if err != nil {
				return err
			}

			if len(files) == 0 && len(dirs) == 0 {
				cmd.Println("nothing tracked yet, use 'dotz add'")
				return nil
			}
			for _, f := range files {
				cmd.Println(f.HomePath)
			}
			if len(dirs) > 0 {
				cmd.Println()
				cmd.Println("tracked directories:")
				for _, d := range dirs {
					cmd.Printf("  %s\n", d.HomeDirPath)
				}
			}
			return nil
		},
	}
)

func init() {
	addCmd.Flags().BoolVar(&addNoRecursive, "no-recursive", false,
		"Only scan the top level when adding a directory")
	addCmd.Flags().BoolVar(&addPush, "push", false, "Push after committing")
	deleteCmd.Flags().BoolVar(&deletePush, "push", false, "Push after committing")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false,
		"Back up and replace foreign files at tracked locations")
}
