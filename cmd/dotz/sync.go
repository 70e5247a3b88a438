package main

import (
	"github.com/spf13/cobra"

	"github.com/arthur-debert/dotz/pkg/config"
	"github.com/arthur-debert/dotz/pkg/engine"
	"github.com/arthur-debert/dotz/pkg/gitstore"
	"github.com/arthur-debert/dotz/pkg/paths"
)

var (
	initRemote string

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize the dotz repository",
		Long: `Init creates ~/.dotz with an empty git repository and a default
configuration file. Pass --remote to register an origin for push/pull.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := paths.New()
			if err != nil {
				return err
			}
			if _, err := gitstore.Init(p.RepoDir(), initRemote); err != nil {
				return err
			}
			if err := config.Save(p, config.Default()); err != nil {
				return err
			}
			cmd.Printf("initialized dotz repository at %s\n", p.RepoDir())
			return nil
		},
	}

	cloneCmd = &cobra.Command{
		Use:   "clone <url>",
		Short: "Clone an existing dotz repository and restore its symlinks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := paths.New()
			if err != nil {
				return err
			}
			if _, err := gitstore.Clone(p.RepoDir(), args[0]); err != nil {
				return err
			}
			cmd.Printf("cloned %s into %s\n", args[0], p.RepoDir())

			eng, err := engine.Open(p)
			if err != nil {
				return err
			}
			if _, err := eng.Rebuild(); err != nil {
				return err
			}
			result, err := eng.RestoreAll(engine.RestoreOptions{Force: restoreForce})
			if err != nil {
				return err
			}
			cmd.Printf("restored %d symlinks\n", len(result.Relinked)+len(result.Unchanged))
			return nil
		},
	}

	pushCmd = &cobra.Command{
		Use:   "push",
		Short: "Push local commits to origin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}
			if err := eng.Push(); err != nil {
				return err
			}
			cmd.Println("pushed")
			return nil
		},
	}

	pullCmd = &cobra.Command{
		Use:   "pull",
		Short: "Pull remote changes and restore symlinks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}
			result, err := eng.Pull()
			if err != nil {
				return err
			}
			cmd.Printf("pulled, %d symlinks relinked\n", len(result.Relinked))
			return nil
		},
	}
)

func init() {
	initCmd.Flags().StringVar(&initRemote, "remote", "", "Git remote URL to register as origin")
	cloneCmd.Flags().BoolVarP(&restoreForce, "force", "f", false,
		"Back up and replace foreign files at tracked locations")
}
