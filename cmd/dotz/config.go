package main

import (
	"strconv"

	gotoml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/arthur-debert/dotz/pkg/config"
	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/paths"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change the dotz configuration",
	}
	cmd.AddCommand(configShowCmd, configSetCmd, configAddPatternCmd,
		configRemovePatternCmd, configResetCmd)
	return cmd
}

// withConfig loads, applies and saves the configuration.
func withConfig(apply func(*config.Config) error) error {
	p, err := paths.New()
	if err != nil {
		return err
	}
	cfg, err := config.Load(p)
	if err != nil {
		return err
	}
	if err := apply(cfg); err != nil {
		return err
	}
	return config.Save(p, cfg)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := paths.New()
		if err != nil {
			return err
		}
		cfg, err := config.Load(p)
		if err != nil {
			return err
		}
		data, err := gotoml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, errors.ErrInternal, "failed to render configuration")
		}
		cmd.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <setting> <true|false>",
	Short: "Change a search setting",
	Long: `Set changes one of the boolean search settings: recursive,
case_sensitive or follow_symlinks.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseBool(args[1])
		if err != nil {
			return errors.Newf(errors.ErrInvalidInput, "%q is not a boolean", args[1])
		}
		return withConfig(func(cfg *config.Config) error {
			switch args[0] {
			case "recursive":
				cfg.SearchSettings.Recursive = value
			case "case_sensitive":
				cfg.SearchSettings.CaseSensitive = value
			case "follow_symlinks":
				cfg.SearchSettings.FollowSymlinks = value
			default:
				return errors.Newf(errors.ErrInvalidInput,
					"unknown setting %q, expected recursive, case_sensitive or follow_symlinks", args[0])
			}
			cmd.Printf("%s = %t\n", args[0], value)
			return nil
		})
	},
}

var configAddPatternCmd = &cobra.Command{
	Use:   "add-pattern <include|exclude> <pattern>",
	Short: "Add a glob to the include or exclude list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(func(cfg *config.Config) error {
			added, err := cfg.AddPattern(args[0], args[1])
			if err != nil {
				return err
			}
			if !added {
				cmd.Printf("pattern %q already in %s list\n", args[1], args[0])
				return nil
			}
			cmd.Printf("added %q to %s list\n", args[1], args[0])
			return nil
		})
	},
}

var configRemovePatternCmd = &cobra.Command{
	Use:   "remove-pattern <include|exclude> <pattern>",
	Short: "Remove a glob from the include or exclude list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(func(cfg *config.Config) error {
			removed, err := cfg.RemovePattern(args[0], args[1])
			if err != nil {
				return err
			}
			if !removed {
				cmd.Printf("pattern %q not in %s list\n", args[1], args[0])
				return nil
			}
			cmd.Printf("removed %q from %s list\n", args[1], args[0])
			return nil
		})
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the configuration to the built-in defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := paths.New()
		if err != nil {
			return err
		}
		if err := config.Save(p, config.Default()); err != nil {
			return err
		}
		cmd.Println("configuration reset to defaults")
		return nil
	},
}
