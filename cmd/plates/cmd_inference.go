package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plates/internal/convert"
	"github.com/Brownie44l1/plates/internal/inference"
	"github.com/Brownie44l1/plates/internal/labels"
	"github.com/Brownie44l1/plates/internal/model"
	"github.com/Brownie44l1/plates/internal/norm"
	"github.com/Brownie44l1/plates/internal/prepare"
)

// modelFlags locate the artifacts needed to classify images.
type modelFlags struct {
	model         string
	metadata      string
	normalization string
	label         string
}

func (f *modelFlags) register(cmd *cobra.Command, withNorm bool) {
	cmd.Flags().StringVar(&f.model, "model", "", "ONNX model (default: from config)")
	cmd.Flags().StringVar(&f.metadata, "metadata", "", "Model metadata JSON (default: from config)")
	cmd.Flags().StringVar(&f.label, "label", "", "Label map (default: <data>/labels.json)")
	if withNorm {
		cmd.Flags().StringVar(&f.normalization, "normalization", "", "Normalization (default: <data>/norm.json)")
	}
}

func (f *modelFlags) resolve() {
	if f.model == "" {
		f.model = cfg.Path(cfg.Model.Path)
	}
	if f.metadata == "" {
		f.metadata = cfg.Path(cfg.Model.MetadataPath)
	}
	if f.normalization == "" {
		f.normalization = cfg.NormalizationPath()
	}
	if f.label == "" {
		f.label = cfg.LabelMapPath()
	}
}

// imageConfig returns the image shape and resize policy recorded by the last
// prepare run, so images are preprocessed as the training arrays were. The
// configured values apply when no report exists.
func imageConfig() (convert.Config, error) {
	path := cfg.ReportPath()
	if path == "" {
		return cfg.Image, nil
	}
	report, err := prepare.LoadReport(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("no prepare report, using configured image settings", zap.String("report", path))
		return cfg.Image, nil
	}
	if err != nil {
		return convert.Config{}, err
	}
	if err := report.Image.Validate(); err != nil {
		return convert.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return report.Image, nil
}

// openModel loads the ONNX model and checks it against the label map and
// image shape. The caller closes the returned server.
func (f *modelFlags) openModel(imgCfg convert.Config) (*model.Server, *labels.Map, error) {
	f.resolve()
	labelMap, err := labels.Load(f.label)
	if err != nil {
		return nil, nil, err
	}
	server, err := model.NewServer(f.model, f.metadata, cfg.Model.SharedLibrary)
	if err != nil {
		return nil, nil, err
	}
	if got, want := server.Metadata.InputSize(), imgCfg.Size(); got != want {
		server.Close()
		return nil, nil, fmt.Errorf("%w: model takes %d values, images have %d", model.ErrMetadata, got, want)
	}
	if got, want := server.Metadata.OutputSize(), labelMap.Len(); got != want {
		server.Close()
		return nil, nil, fmt.Errorf("%w: model has %d outputs, label map has %d labels", model.ErrMetadata, got, want)
	}
	logger.Debug("model loaded",
		zap.String("model", f.model),
		zap.Int64s("input_shape", server.Metadata.InputShape),
		zap.Int("labels", labelMap.Len()))
	return server, labelMap, nil
}

// openAdapter loads everything needed for inference.
func (f *modelFlags) openAdapter() (*inference.Adapter, *model.Server, error) {
	imgCfg, err := imageConfig()
	if err != nil {
		return nil, nil, err
	}
	server, labelMap, err := f.openModel(imgCfg)
	if err != nil {
		return nil, nil, err
	}
	n, err := norm.Load(f.normalization)
	if err != nil {
		server.Close()
		return nil, nil, err
	}
	conv, err := convert.New(imgCfg, 1)
	if err != nil {
		server.Close()
		return nil, nil, err
	}
	adapter, err := inference.New(server, n, labelMap, conv)
	if err != nil {
		server.Close()
		return nil, nil, err
	}
	return adapter, server, nil
}

var (
	inferenceFlags  modelFlags
	inferenceImages []string
)

var inferenceCmd = &cobra.Command{
	Use:   "inference",
	Short: "Classify plate images with a trained model",
	Long: `Applies the preprocessing and normalization used by prepare to each
image, runs the model and prints the predicted state.

Example:
  plates inference --image a.jpg --image b.jpg`,
	Args: cobra.NoArgs,
	RunE: runInference,
}

func init() {
	inferenceFlags.register(inferenceCmd, true)
	inferenceCmd.Flags().StringArrayVar(&inferenceImages, "image", nil, "Image to classify (repeatable)")
	_ = inferenceCmd.MarkFlagRequired("image")
}

func runInference(cmd *cobra.Command, args []string) error {
	adapter, server, err := inferenceFlags.openAdapter()
	if err != nil {
		return err
	}
	defer server.Close()

	for idx, path := range inferenceImages {
		start := time.Now()
		pred, err := adapter.Predict(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("plate %d: %w", idx, err)
		}
		logger.Debug("prediction",
			zap.String("image", path),
			zap.String("class", pred.Class),
			zap.Float32("confidence", pred.Confidence))
		fmt.Fprintf(cmd.OutOrStdout(), "Plate %d is from %s (%.3fs)\n", idx, pred.Class, time.Since(start).Seconds())
	}
	return nil
}
