package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/plates/internal/convert"
	"github.com/Brownie44l1/plates/internal/prepare"
)

var (
	prepareNorm   string
	prepareLabel  string
	prepareResize string
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Build normalized train, test and valid arrays from the manifest",
	Long: `Reads <data>/plates/plates.csv, builds the label map from the training
split, converts every image to a channel-first float array and normalizes all
splits with the mean and standard deviation of the training pixels.

Writes <split>.array and <split>.label.array for train, test and valid into
the data directory, plus the normalization, label map and a run report.`,
	Args: cobra.NoArgs,
	RunE: runPrepare,
}

func init() {
	prepareCmd.Flags().StringVar(&prepareNorm, "norm", "", "Normalization output (default: <data>/norm.json)")
	prepareCmd.Flags().StringVar(&prepareLabel, "label", "", "Label map output (default: <data>/labels.json)")
	prepareCmd.Flags().StringVar(&prepareResize, "resize-policy", "", "Images of another size: strict, resize or crop")
}

func runPrepare(cmd *cobra.Command, args []string) error {
	opts := prepare.OptionsFromConfig(cfg)
	if prepareNorm != "" {
		opts.NormalizationPath = prepareNorm
	}
	if prepareLabel != "" {
		opts.LabelMapPath = prepareLabel
	}
	if prepareResize != "" {
		opts.Image.Policy = convert.Policy(prepareResize)
	}

	report, err := prepare.Run(cmd.Context(), opts, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Label map contains %d labels.\n", len(report.Labels))
	for id, label := range report.Labels {
		fmt.Fprintf(out, "\t%2d: %s\n", id, label)
	}
	fmt.Fprintf(out, "Normalization %s\n", report.Normalization)
	fmt.Fprintf(out, "Saved normalization to %s\n", opts.NormalizationPath)
	fmt.Fprintf(out, "Saved label map to %s\n", opts.LabelMapPath)
	return nil
}
