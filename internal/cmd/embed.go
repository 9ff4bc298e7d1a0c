package cmd

import (
	"github.com/hargabyte/sentvec/internal/output"
	"github.com/spf13/cobra"
)

// embedCmd represents the embed command
var embedCmd = &cobra.Command{
	Use:   "embed [text...]",
	Short: "Embed texts with the configured model",
	Long: `Embed one or more texts and print one vector per text, in input order.

Each argument is one text. With --file, each non-empty line is one text;
use --file - to read from stdin. All texts are sent to the model in a single
call; use 'sentvec batch' for large inputs.

Examples:
  sentvec embed "This is a test sentence in English." "Dies ist ein Testsatz auf Deutsch."
  sentvec embed --file sentences.txt --format json
  echo "hello" | sentvec embed --file -
  sentvec embed --model ./models/minilm "offline model"`,
	RunE: runEmbed,
}

var (
	embedFile        string
	embedIncludeText bool
)

func init() {
	rootCmd.AddCommand(embedCmd)
	embedCmd.Flags().StringVarP(&embedFile, "file", "f", "", "Read texts from file, one per line (- for stdin)")
	embedCmd.Flags().BoolVar(&embedIncludeText, "include-text", true, "Echo each input text next to its vector")
}

func runEmbed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	texts, err := readTexts(args, embedFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := newLogger(cmd.ErrOrStderr())

	e, closeFn, err := openProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return err
	}
	logger.Debug("embedded texts", "count", len(vecs))

	out := output.NewEmbeddingOutput(e.ModelID(), texts, vecs, cfg.Output.Digits(), embedIncludeText, normalized(cfg))
	return writeOutput(cmd, cfg, out)
}
