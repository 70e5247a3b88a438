package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/dotz/pkg/engine"
	"github.com/arthur-debert/dotz/pkg/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked file health, pending changes and candidates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := openEngine()
		if err != nil {
			return err
		}

		st, err := eng.Status()
		if err != nil {
			return err
		}

		healthy := 0
		for _, f := range st.Files {
			if f.Healthy() {
				healthy++
				continue
			}
			cmd.Printf("%-12s %s\n", f.State, f.File.HomePath)
		}
		cmd.Printf("%d tracked files, %d healthy\n", len(st.Files), healthy)

		if len(st.Repo.Untracked)+len(st.Repo.Modified)+len(st.Repo.Staged) > 0 {
			cmd.Println()
			cmd.Println("pending repository changes:")
			for _, p := range st.Repo.Staged {
				cmd.Printf("  staged    %s\n", p)
			}
			for _, p := range st.Repo.Modified {
				cmd.Printf("  modified  %s\n", p)
			}
			for _, p := range st.Repo.Untracked {
				cmd.Printf("  untracked %s\n", p)
			}
		}

		if len(st.Candidates) > 0 {
			cmd.Println()
			cmd.Println("untracked dotfiles in home:")
			for _, p := range st.Candidates {
				cmd.Printf("  %s\n", p)
			}
		}
		return nil
	},
}

var (
	validateRepair bool
	validateForce  bool

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Check every tracked symlink, optionally repairing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}

			report, err := eng.Validate(engine.ValidateOptions{
				Repair: validateRepair,
				Force:  validateForce,
			})
			if err != nil {
				return err
			}

			if report.Clean() {
				cmd.Println("all tracked symlinks are healthy")
				return nil
			}
			for _, issue := range report.Issues {
				cmd.Printf("%-12s %s\n", issue.State, issue.File.HomePath)
			}
			for _, p := range report.Repaired {
				cmd.Printf("repaired     %s\n", p)
			}
			return nil
		},
	}
)

var (
	watchDebounce time.Duration

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch tracked directories and auto-add new matching files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := openEngine()
			if err != nil {
				return err
			}

			w, err := watcher.New(eng, watcher.Options{Debounce: watchDebounce})
			if err != nil {
				return err
			}
			w.Start()
			defer w.Stop()

			cmd.Printf("watching %d directories, ctrl-c to stop\n", w.Watched())

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop
			return nil
		},
	}
)

func init() {
	validateCmd.Flags().BoolVar(&validateRepair, "repair", false, "Repair unhealthy symlinks")
	validateCmd.Flags().BoolVarP(&validateForce, "force", "f", false,
		"Also replace foreign files during repair, after backing them up")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond,
		"Quiet period before a new file is added")
}
