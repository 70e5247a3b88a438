package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/dotz/pkg/backup"
	"github.com/arthur-debert/dotz/pkg/paths"
)

func newBackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List and restore pre-overwrite backups",
	}
	cmd.AddCommand(backupsListCmd, backupsRestoreCmd)
	return cmd
}

func backupManager() (*backup.Manager, error) {
	p, err := paths.New()
	if err != nil {
		return nil, err
	}
	return backup.New(p), nil
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := backupManager()
		if err != nil {
			return err
		}
		entries, err := m.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println("no backups")
			return nil
		}
		for _, e := range entries {
			cmd.Printf("%s  %-12s %s\n",
				e.Timestamp.Format(time.DateTime), e.Operation, e.OriginalPath)
			cmd.Printf("    %s\n", e.Path)
		}
		return nil
	},
}

var backupsRestoreCmd = &cobra.Command{
	Use:   "restore <backup-path>",
	Short: "Put a backup back at its original location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := backupManager()
		if err != nil {
			return err
		}
		target := paths.ExpandHome(args[0])
		if err := m.Restore(target); err != nil {
			return err
		}
		cmd.Printf("restored %s\n", target)
		return nil
	},
}
