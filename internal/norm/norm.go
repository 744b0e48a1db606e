// Package norm computes and applies the scalar mean/standard deviation
// normalization shared by every split and by inference inputs.
package norm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/plates/internal/tensor"
)

// chunk is the number of elements handled by one task.
const chunk = 1 << 16

var (
	ErrDegenerate = errors.New("degenerate normalization")
	ErrCorrupt    = errors.New("corrupt normalization")
)

// Normalization is one mean and standard deviation over every pixel of every
// channel of the training split.
type Normalization struct {
	Mean   float32 `json:"mean"`
	StdDev float32 `json:"sd"`
}

// Norm maps a scaled pixel value to its normalized value.
func (n Normalization) Norm(x float32) float32 {
	return (x - n.Mean) / n.StdDev
}

// Denorm reverses Norm.
func (n Normalization) Denorm(x float32) float32 {
	return x*n.StdDev + n.Mean
}

// Validate reports ErrDegenerate unless the mean is finite and the standard
// deviation finite and positive.
func (n Normalization) Validate() error {
	mean, sd := float64(n.Mean), float64(n.StdDev)
	if math.IsNaN(mean) || math.IsInf(mean, 0) || math.IsNaN(sd) || math.IsInf(sd, 0) || sd <= 0 {
		return fmt.Errorf("%w: mean = %g sd = %g", ErrDegenerate, n.Mean, n.StdDev)
	}
	return nil
}

func (n Normalization) String() string {
	return fmt.Sprintf("mean = %.4f sd = %.4f", n.Mean, n.StdDev)
}

// Compute returns the population mean and standard deviation of every
// element of a. Partial sums are accumulated in float64 per chunk and merged
// in chunk order, so the result does not depend on scheduling.
func Compute(ctx context.Context, a *tensor.Float32, workers int) (Normalization, error) {
	data := a.Data
	if len(data) == 0 {
		return Normalization{}, fmt.Errorf("%w: no training values", ErrDegenerate)
	}
	nchunks := (len(data) + chunk - 1) / chunk

	sums := make([]float64, nchunks)
	err := forEachChunk(ctx, len(data), workers, func(i, from, to int) {
		var s float64
		for _, v := range data[from:to] {
			s += float64(v)
		}
		sums[i] = s
	})
	if err != nil {
		return Normalization{}, err
	}
	var total float64
	for _, s := range sums {
		total += s
	}
	mean := total / float64(len(data))

	err = forEachChunk(ctx, len(data), workers, func(i, from, to int) {
		var s float64
		for _, v := range data[from:to] {
			d := float64(v) - mean
			s += d * d
		}
		sums[i] = s
	})
	if err != nil {
		return Normalization{}, err
	}
	var ss float64
	for _, s := range sums {
		ss += s
	}
	n := Normalization{Mean: float32(mean), StdDev: float32(math.Sqrt(ss / float64(len(data))))}
	if err := n.Validate(); err != nil {
		return Normalization{}, err
	}
	return n, nil
}

// Apply normalizes every element of a in place.
func Apply(ctx context.Context, a *tensor.Float32, n Normalization, workers int) error {
	if err := n.Validate(); err != nil {
		return err
	}
	data := a.Data
	return forEachChunk(ctx, len(data), workers, func(_, from, to int) {
		for i := from; i < to; i++ {
			data[i] = n.Norm(data[i])
		}
	})
}

// forEachChunk runs body over consecutive ranges of [0, size) with at most
// workers goroutines. Chunks never overlap.
func forEachChunk(ctx context.Context, size, workers int, body func(i, from, to int)) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, from := 0, 0; from < size; i, from = i+1, from+chunk {
		if gctx.Err() != nil {
			break
		}
		i, from, to := i, from, min(from+chunk, size)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			body(i, from, to)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// WriteJSON writes n as indented JSON.
func (n Normalization) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal normalization: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Save writes n as JSON.
func (n Normalization) Save(path string) error {
	return tensor.WriteAtomic(path, func(f *os.File) error { return n.WriteJSON(f) })
}

// Load reads a normalization written by Save.
func Load(path string) (Normalization, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Normalization{}, fmt.Errorf("failed to read normalization: %w", err)
	}
	var raw struct {
		Mean   *float32 `json:"mean"`
		StdDev *float32 `json:"sd"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Normalization{}, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
	}
	if raw.Mean == nil || raw.StdDev == nil {
		return Normalization{}, fmt.Errorf("%s: %w: missing mean or sd", path, ErrCorrupt)
	}
	n := Normalization{Mean: *raw.Mean, StdDev: *raw.StdDev}
	if err := n.Validate(); err != nil {
		return Normalization{}, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
	}
	return n, nil
}
