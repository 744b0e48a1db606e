// Package prepare turns a manifest of labeled images into the normalized
// arrays, label map and normalization consumed by training and inference.
package prepare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plates/internal/config"
	"github.com/Brownie44l1/plates/internal/convert"
	"github.com/Brownie44l1/plates/internal/dataset"
	"github.com/Brownie44l1/plates/internal/labels"
	"github.com/Brownie44l1/plates/internal/logging"
	"github.com/Brownie44l1/plates/internal/manifest"
	"github.com/Brownie44l1/plates/internal/norm"
	"github.com/Brownie44l1/plates/internal/tensor"
)

// Options locates the inputs and outputs of a preparation run.
type Options struct {
	ManifestPath string
	ImagesDir    string
	// OutputDir receives the <split>.array and <split>.label.array files.
	OutputDir         string
	NormalizationPath string
	LabelMapPath      string
	ReportPath        string

	Image   convert.Config
	Workers int
}

// OptionsFromConfig derives the options of a run from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ManifestPath:      cfg.ManifestPath(),
		ImagesDir:         cfg.ImagesDir(),
		OutputDir:         cfg.DataDir,
		NormalizationPath: cfg.NormalizationPath(),
		LabelMapPath:      cfg.LabelMapPath(),
		ReportPath:        cfg.ReportPath(),
		Image:             cfg.Image,
		Workers:           cfg.Workers,
	}
}

// Report summarizes a completed run.
type Report struct {
	RunID         string             `json:"run_id"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	Observations  map[string]int     `json:"observations"`
	Labels        []string           `json:"labels"`
	Normalization norm.Normalization `json:"normalization"`
	Image         convert.Config     `json:"image"`
	Artifacts     map[string]string  `json:"artifacts"`
}

// Run indexes the manifest, builds the label map from the training split,
// converts and normalizes every split with the training statistics and writes
// all artifacts. Every artifact is staged next to its destination and moved
// into place only once all splits succeeded; a failed run leaves the files
// of the previous run untouched.
func Run(ctx context.Context, opts Options, logger *zap.Logger) (*Report, error) {
	logger = logging.OrNop(logger)
	conv, err := convert.New(opts.Image, opts.Workers)
	if err != nil {
		return nil, err
	}
	report := &Report{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		Observations: make(map[string]int),
		Image:        opts.Image,
		Artifacts:    make(map[string]string),
	}
	logger = logger.With(zap.String("run", report.RunID))

	obs, err := manifest.Index(opts.ManifestPath, opts.ImagesDir)
	if err != nil {
		return nil, err
	}
	logger.Info("Indexed manifest", zap.String("manifest", opts.ManifestPath), zap.Stringer("observations", obs))

	labelMap := labels.Build(obs.Train)
	logger.Info("Built label map", zap.Int("labels", labelMap.Len()))
	for id, label := range labelMap.Labels() {
		logger.Debug("Label", zap.Int("id", id), zap.String("label", label))
	}

	// Unseen labels fail the run before any image is decoded.
	encoded := make(map[manifest.Split]*tensor.Int64, len(manifest.Splits))
	for _, s := range manifest.Splits {
		arr, err := labelMap.Encode(obs.Split(s))
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s labels: %w", s, err)
		}
		encoded[s] = arr
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Nothing replaces an existing artifact before every split succeeded.
	var batch tensor.Batch
	defer batch.Discard()

	var n norm.Normalization
	for _, s := range manifest.Splits {
		start := time.Now()
		images, err := conv.Convert(ctx, obs.Split(s))
		if err != nil {
			return nil, fmt.Errorf("failed to build %s arrays: %w", s, err)
		}
		if s == manifest.Train {
			if n, err = norm.Compute(ctx, images, opts.Workers); err != nil {
				return nil, fmt.Errorf("failed to compute normalization: %w", err)
			}
			logger.Info("Computed normalization", zap.Float32("mean", n.Mean), zap.Float32("sd", n.StdDev))
		}
		if err := norm.Apply(ctx, images, n, opts.Workers); err != nil {
			return nil, fmt.Errorf("failed to normalize %s arrays: %w", s, err)
		}

		imagesFile, labelsFile := dataset.ImagesFile(opts.OutputDir, s), dataset.LabelsFile(opts.OutputDir, s)
		if err := batch.WriteArray(imagesFile, images); err != nil {
			return nil, err
		}
		if err := batch.WriteArray(labelsFile, encoded[s]); err != nil {
			return nil, err
		}
		report.Observations[s.String()] = images.Len()
		report.Artifacts[s.String()+"_images"] = imagesFile
		report.Artifacts[s.String()+"_labels"] = labelsFile
		logger.Info("Built arrays",
			zap.Stringer("split", s),
			zap.Int("observations", images.Len()),
			zap.Stringer("images", images),
			zap.Duration("elapsed", time.Since(start)))
	}

	if err := batch.Write(opts.LabelMapPath, func(f *os.File) error { return labelMap.WriteJSON(f) }); err != nil {
		return nil, err
	}
	if err := batch.Write(opts.NormalizationPath, func(f *os.File) error { return n.WriteJSON(f) }); err != nil {
		return nil, err
	}
	report.Labels = labelMap.Labels()
	report.Normalization = n
	report.Artifacts["label_map"] = opts.LabelMapPath
	report.Artifacts["normalization"] = opts.NormalizationPath
	report.FinishedAt = time.Now().UTC()

	if opts.ReportPath != "" {
		if err := batch.Write(opts.ReportPath, func(f *os.File) error { return report.WriteJSON(f) }); err != nil {
			return nil, err
		}
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	logger.Info("Saved artifacts",
		zap.String("normalization", opts.NormalizationPath),
		zap.String("label_map", opts.LabelMapPath))
	return report, nil
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Save writes the report as JSON.
func (r *Report) Save(path string) error {
	return tensor.WriteAtomic(path, func(f *os.File) error { return r.WriteJSON(f) })
}

// LoadReport reads a report written by Save.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &r, nil
}
