package inference

import (
	"context"
	"fmt"

	"github.com/Brownie44l1/plates/internal/dataset"
)

// Accuracy is the result of running a model over a prepared split.
type Accuracy struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Evaluate runs every observation of split through model one at a time and
// counts the predictions matching the label array. The split must already be
// normalized, as prepared arrays are.
func Evaluate(ctx context.Context, model Model, split *dataset.Split) (Accuracy, error) {
	var acc Accuracy
	for i := 0; i < split.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return acc, err
		}
		logits, err := model.Forward(split.Images.Observation(i))
		if err != nil {
			return acc, fmt.Errorf("observation %d: %w", i, err)
		}
		if len(logits) == 0 {
			return acc, fmt.Errorf("observation %d: model returned no logits", i)
		}
		acc.Total++
		if int64(Argmax(logits)) == split.Labels.Data[i] {
			acc.Correct++
		}
	}
	if acc.Total > 0 {
		acc.Accuracy = float64(acc.Correct) / float64(acc.Total)
	}
	return acc, nil
}
