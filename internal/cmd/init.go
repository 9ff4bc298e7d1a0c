package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hargabyte/sentvec/internal/config"
	"github.com/spf13/cobra"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .sentvec/config.yaml with default settings",
	Long: `Create the .sentvec directory and a default config.yaml in the current
directory.

The file selects the provider and model, the cache and save directories,
the batch size and the output format. Edit it to change defaults for every
command run below this directory.

Examples:
  sentvec init          # Write defaults
  sentvec init --force  # Overwrite an existing config`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfgPath := filepath.Join(cwd, config.ConfigDirName, config.ConfigFileName)
	relPath, _ := filepath.Rel(cwd, cfgPath)

	_, err = os.Stat(cfgPath)
	if err == nil {
		if !initForce {
			fmt.Fprintf(cmd.OutOrStdout(), "Already initialized at %s\n", relPath)
			return nil
		}
		if err := os.Remove(cfgPath); err != nil {
			return fmt.Errorf("removing existing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking config path: %w", err)
	}

	if _, err := config.SaveDefault(cwd); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized sentvec config at %s\n", relPath)
	return nil
}
