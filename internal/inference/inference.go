// Package inference classifies single images with the preprocessing used at
// preparation time.
package inference

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/Brownie44l1/plates/internal/convert"
	"github.com/Brownie44l1/plates/internal/labels"
	"github.com/Brownie44l1/plates/internal/norm"
	"github.com/Brownie44l1/plates/internal/tensor"
)

// Model is a trained classifier. Forward takes a batch shaped
// (n, channels, height, width) and returns n rows of class logits.
type Model interface {
	Forward(input []float32) ([]float32, error)
}

// Prediction is the classification of one image.
type Prediction struct {
	Class       string             `json:"class"`
	Index       int                `json:"index"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
}

// Adapter applies the persisted normalization and label map around a model.
type Adapter struct {
	model  Model
	norm   norm.Normalization
	labels *labels.Map
	conv   *convert.Converter
}

// New returns an adapter. n must be a usable normalization.
func New(model Model, n norm.Normalization, labelMap *labels.Map, conv *convert.Converter) (*Adapter, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &Adapter{model: model, norm: n, labels: labelMap, conv: conv}, nil
}

// InputSize is the number of values of one preprocessed image.
func (a *Adapter) InputSize() int { return a.conv.Config.Size() }

// Labels returns the class labels ordered by id.
func (a *Adapter) Labels() []string { return a.labels.Labels() }

// Predict classifies the image file at path.
func (a *Adapter) Predict(ctx context.Context, path string) (*Prediction, error) {
	arr := tensor.NewFloat32(a.conv.Config.Shape(1)...)
	if err := a.conv.DecodeFile(path, arr.Observation(0)); err != nil {
		return nil, err
	}
	return a.classify(ctx, arr)
}

// PredictImage classifies an already decoded image.
func (a *Adapter) PredictImage(ctx context.Context, img image.Image) (*Prediction, error) {
	arr := tensor.NewFloat32(a.conv.Config.Shape(1)...)
	if err := a.conv.Fill(img, arr.Observation(0)); err != nil {
		return nil, err
	}
	return a.classify(ctx, arr)
}

// PredictScaled classifies channel-first pixel values already scaled to
// [0, 1] but not yet normalized.
func (a *Adapter) PredictScaled(ctx context.Context, values []float32) (*Prediction, error) {
	if len(values) != a.InputSize() {
		return nil, fmt.Errorf("expected %d values, got %d", a.InputSize(), len(values))
	}
	arr := tensor.NewFloat32(a.conv.Config.Shape(1)...)
	copy(arr.Data, values)
	return a.classify(ctx, arr)
}

func (a *Adapter) classify(ctx context.Context, arr *tensor.Float32) (*Prediction, error) {
	if err := norm.Apply(ctx, arr, a.norm, 1); err != nil {
		return nil, err
	}
	logits, err := a.model.Forward(arr.Data)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}
	return a.prediction(logits)
}

func (a *Adapter) prediction(logits []float32) (*Prediction, error) {
	if len(logits) == 0 {
		return nil, fmt.Errorf("model returned no logits")
	}
	probs := Softmax(logits)
	idx := Argmax(probs)
	class, err := a.labels.Label(idx)
	if err != nil {
		return nil, err
	}
	predictions := make(map[string]float32, a.labels.Len())
	for i, p := range probs {
		if label, err := a.labels.Label(i); err == nil {
			predictions[label] = p
		}
	}
	return &Prediction{
		Class:       class,
		Index:       idx,
		Confidence:  probs[idx],
		Predictions: predictions,
	}, nil
}

// Softmax returns the probabilities of logits.
func Softmax(logits []float32) []float32 {
	maxVal := logits[0]
	for _, v := range logits {
		if v > maxVal {
			maxVal = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Argmax returns the index of the largest value, the first one on ties.
func Argmax(values []float32) int {
	maxIdx := 0
	for i, v := range values {
		if v > values[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}
