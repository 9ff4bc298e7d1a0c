package cmd

import (
	"fmt"

	"github.com/hargabyte/sentvec/internal/embeddings"
	"github.com/hargabyte/sentvec/internal/output"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch [text...]",
	Short: "Embed many texts in fixed-size batches",
	Long: `Embed texts in batches of --batch-size and print one vector per text.

The result is the same as 'sentvec embed' on the whole input; batching only
bounds how many texts go through the model at once. A progress bar is shown
on stderr unless --no-progress is set.

Examples:
  sentvec batch --file corpus.txt
  sentvec batch --file corpus.txt --batch-size 64 --format json > vectors.json
  cat corpus.txt | sentvec batch --file - --no-progress`,
	RunE: runBatch,
}

var (
	batchFile        string
	batchSize        int
	batchNoProgress  bool
	batchIncludeText bool
)

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "Read texts from file, one per line (- for stdin)")
	batchCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "Texts per inference call (default: config batch.size)")
	batchCmd.Flags().BoolVar(&batchNoProgress, "no-progress", false, "Hide the progress bar")
	batchCmd.Flags().BoolVar(&batchIncludeText, "include-text", false, "Echo each input text next to its vector")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	size := cfg.Batch.Size
	if cmd.Flags().Changed("batch-size") {
		if batchSize <= 0 {
			return fmt.Errorf("%w: %d", embeddings.ErrInvalidBatchSize, batchSize)
		}
		size = batchSize
	}

	texts, err := readTexts(args, batchFile, cmd.InOrStdin())
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

	var progress embeddings.ProgressFunc
	if !batchNoProgress && len(texts) > 0 {
		bar := progressbar.NewOptions(len(texts),
			progressbar.OptionSetDescription("Embedding"),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		progress = func(done, total int) {
			bar.Set(done)
		}
	}

	logger.Debug("embedding in batches", "texts", len(texts), "batch_size", size)
	vecs, err := e.BatchEmbedWithProgress(ctx, texts, size, progress)
	if err != nil {
		return err
	}

	out := output.NewEmbeddingOutput(e.ModelID(), texts, vecs, cfg.Output.Digits(), batchIncludeText, normalized(cfg))
	return writeOutput(cmd, cfg, out)
}
