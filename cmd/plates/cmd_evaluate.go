package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plates/internal/dataset"
	"github.com/Brownie44l1/plates/internal/inference"
	"github.com/Brownie44l1/plates/internal/manifest"
)

var (
	evaluateFlags modelFlags
	evaluateSplit string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Report model accuracy on a prepared split",
	Long: `Loads <split>.array and <split>.label.array from the data directory and
reports the fraction of observations the model classifies correctly. The
arrays are already normalized, so no normalization file is needed.`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	evaluateFlags.register(evaluateCmd, false)
	evaluateCmd.Flags().StringVar(&evaluateSplit, "split", manifest.Test.String(), "Split to evaluate: train, test or valid")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	split, err := manifest.ParseSplit(evaluateSplit)
	if err != nil {
		return err
	}
	imgCfg, err := imageConfig()
	if err != nil {
		return err
	}
	server, labelMap, err := evaluateFlags.openModel(imgCfg)
	if err != nil {
		return err
	}
	defer server.Close()

	data, err := dataset.Load(cfg.DataDir, split, labelMap.Len())
	if err != nil {
		return err
	}
	logger.Info("evaluating", zap.Stringer("split", split), zap.Int("observations", data.Len()))

	acc, err := inference.Evaluate(cmd.Context(), server, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s accuracy: %.2f%% (%d/%d)\n", split, 100*acc.Accuracy, acc.Correct, acc.Total)
	return nil
}
