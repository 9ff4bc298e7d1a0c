package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/hargabyte/sentvec/internal/config"
	"github.com/hargabyte/sentvec/internal/output"
	"github.com/spf13/cobra"
)

// saveCmd represents the save command
var saveCmd = &cobra.Command{
	Use:   "save [dir]",
	Short: "Save the loaded model to a local directory",
	Long: `Load the configured model and copy it into dir, creating missing parent
directories. Without dir, model.save_dir from the config is used.

The saved directory is a complete model: pass it to --model (or set it as
model.id) to run without network access.

Examples:
  sentvec save ./models/multilingual
  sentvec save --model sentence-transformers/all-MiniLM-L6-v2 ./models/minilm
  sentvec --model ./models/minilm embed "offline"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSave,
}

func init() {
	rootCmd.AddCommand(saveCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Model.Provider != config.ProviderLocal {
		return fmt.Errorf("save requires the %q provider, config uses %q", config.ProviderLocal, cfg.Model.Provider)
	}

	var dir string
	if len(args) > 0 {
		dir = args[0]
	}

	ctx := cmd.Context()
	logger := newLogger(cmd.ErrOrStderr())

	e := newSentenceEmbedder(cfg, logger)
	defer e.Close()
	if err := e.Load(ctx); err != nil {
		return err
	}

	path, err := e.Save(dir)
	if err != nil {
		return err
	}

	files, err := countFiles(path)
	if err != nil {
		return err
	}

	return writeOutput(cmd, cfg, output.SaveOutput{
		Model: e.ModelID(),
		Path:  path,
		Files: files,
	})
}

// countFiles counts regular files below dir.
func countFiles(dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting saved files: %w", err)
	}
	return n, nil
}
