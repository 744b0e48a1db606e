// Package dataset loads the prepared arrays of a split for training and
// evaluation.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Brownie44l1/plates/internal/manifest"
	"github.com/Brownie44l1/plates/internal/tensor"
)

var ErrMismatch = errors.New("image and label arrays do not match")

// ImagesFile returns the image array file of split s under dir.
func ImagesFile(dir string, s manifest.Split) string {
	return filepath.Join(dir, s.String()+".array")
}

// LabelsFile returns the label array file of split s under dir.
func LabelsFile(dir string, s manifest.Split) string {
	return filepath.Join(dir, s.String()+".label.array")
}

// Split is the normalized image array and label ids of one split.
type Split struct {
	Images *tensor.Float32
	Labels *tensor.Int64
}

// Len returns the number of observations.
func (s *Split) Len() int { return s.Images.Len() }

// Load reads the arrays of split s from dir. If numLabels is positive every
// label id must lie in [0, numLabels).
func Load(dir string, s manifest.Split, numLabels int) (*Split, error) {
	images, err := tensor.ReadFloat32File(ImagesFile(dir, s))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s images: %w", s, err)
	}
	labels, err := tensor.ReadInt64File(LabelsFile(dir, s))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s labels: %w", s, err)
	}
	split := &Split{Images: images, Labels: labels}
	if err := split.Validate(numLabels); err != nil {
		return nil, fmt.Errorf("%s: %w", s, err)
	}
	return split, nil
}

// Validate checks the shapes and label ids.
func (s *Split) Validate(numLabels int) error {
	if len(s.Images.Shape) != 4 {
		return fmt.Errorf("%w: images have shape %v, want 4 dimensions", ErrMismatch, s.Images.Shape)
	}
	if len(s.Labels.Shape) != 1 {
		return fmt.Errorf("%w: labels have shape %v, want 1 dimension", ErrMismatch, s.Labels.Shape)
	}
	if s.Images.Len() != s.Labels.Len() {
		return fmt.Errorf("%w: %d images, %d labels", ErrMismatch, s.Images.Len(), s.Labels.Len())
	}
	if numLabels > 0 {
		for i, id := range s.Labels.Data {
			if id < 0 || id >= int64(numLabels) {
				return fmt.Errorf("%w: label %d of observation %d outside [0, %d)", ErrMismatch, id, i, numLabels)
			}
		}
	}
	return nil
}
