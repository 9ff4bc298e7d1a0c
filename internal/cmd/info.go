package cmd

import (
	"github.com/hargabyte/sentvec/internal/config"
	"github.com/hargabyte/sentvec/internal/embeddings"
	"github.com/spf13/cobra"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the configured model",
	Long: `Show the configured provider, model identifier and cache location.

The model is not loaded unless --load is given; with --load the output
also reports the vector dimensions and the directory the model runs from.
For the ollama provider --load checks that the server answers for the
configured model and reports it as reachable.

Examples:
  sentvec info
  sentvec info --load --format json`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

var infoLoad bool

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoLoad, "load", false, "Load the model to report its dimensions (ollama: check the server)")
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr())

	// Remote providers have nothing to load.
	if !infoLoad && cfg.Model.Provider == config.ProviderLocal {
		return writeOutput(cmd, cfg, modelInfo(cfg, newSentenceEmbedder(cfg, logger)))
	}

	e, closeFn, err := openProvider(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	info := modelInfo(cfg, e)
	if o, ok := e.(*embeddings.OllamaEmbedder); ok && infoLoad {
		reachable := o.IsAvailable(cmd.Context())
		if !reachable {
			logger.Warn("ollama server not reachable", "url", cfg.Model.OllamaURL, "model", o.ModelID())
		}
		info.Reachable = &reachable
	}
	return writeOutput(cmd, cfg, info)
}
