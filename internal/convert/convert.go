// Package convert decodes image files into channel-first float32 arrays.
package convert

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"runtime"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/plates/internal/manifest"
	"github.com/Brownie44l1/plates/internal/tensor"
)

var (
	ErrSize   = errors.New("image size does not match")
	ErrConfig = errors.New("invalid image config")
)

// Policy decides what happens to images whose size differs from the
// configured height and width.
type Policy string

const (
	// Strict rejects images of any other size.
	Strict Policy = "strict"
	// Resize scales images to the configured size with Lanczos resampling.
	Resize Policy = "resize"
	// Crop takes the centered region of the configured size. Smaller
	// images are rejected.
	Crop Policy = "crop"
)

// Config is the fixed image shape shared by preparation and inference.
type Config struct {
	Channels int    `yaml:"channels" json:"channels"`
	Height   int    `yaml:"height" json:"height"`
	Width    int    `yaml:"width" json:"width"`
	Policy   Policy `yaml:"resize_policy" json:"resize_policy"`
}

// Validate checks the shape and policy.
func (c Config) Validate() error {
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("%w: channels must be 1 or 3, got %d", ErrConfig, c.Channels)
	}
	if c.Height <= 0 || c.Width <= 0 {
		return fmt.Errorf("%w: height and width must be positive, got %dx%d", ErrConfig, c.Height, c.Width)
	}
	switch c.Policy {
	case "", Strict, Resize, Crop:
	default:
		return fmt.Errorf("%w: unknown resize policy %q", ErrConfig, c.Policy)
	}
	return nil
}

// Size is the number of values of one converted image.
func (c Config) Size() int { return c.Channels * c.Height * c.Width }

// Shape returns the array shape for n images.
func (c Config) Shape(n int) []int { return []int{n, c.Channels, c.Height, c.Width} }

// Converter turns images into arrays. Workers bounds the number of images
// decoded at once; zero means GOMAXPROCS.
type Converter struct {
	Config  Config
	Workers int
}

// New returns a converter for cfg.
func New(cfg Config, workers int) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Converter{Config: cfg, Workers: workers}, nil
}

// Convert decodes every observation into a new (len, channels, height, width)
// array. Each image is written by its own task into its own slice of the
// array. The first failure cancels the remaining tasks and no array is
// returned.
func (c *Converter) Convert(ctx context.Context, observations []manifest.Observation) (*tensor.Float32, error) {
	arr := tensor.NewFloat32(c.Config.Shape(len(observations))...)
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, obs := range observations {
		if gctx.Err() != nil {
			break
		}
		i, obs, dst := i, obs, arr.Observation(i)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := c.DecodeFile(obs.Path, dst); err != nil {
				return fmt.Errorf("observation %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return arr, nil
}

// DecodeFile decodes the image at path into dst.
func (c *Converter) DecodeFile(path string, dst []float32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := c.Fill(img, dst); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Fill writes img into dst as channel planes of value/255. dst must hold
// exactly Config.Size() values.
func (c *Converter) Fill(img image.Image, dst []float32) error {
	if len(dst) != c.Config.Size() {
		return fmt.Errorf("destination holds %d values, want %d", len(dst), c.Config.Size())
	}
	img, err := c.fit(img)
	if err != nil {
		return err
	}
	b := img.Bounds()
	w, h := c.Config.Width, c.Config.Height
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := img.At(b.Min.X+x, b.Min.Y+y)
			ix := y*w + x
			if c.Config.Channels == 1 {
				g := color.GrayModel.Convert(px).(color.Gray)
				dst[ix] = float32(g.Y) / 255
				continue
			}
			p := color.NRGBAModel.Convert(px).(color.NRGBA)
			dst[ix] = float32(p.R) / 255
			dst[plane+ix] = float32(p.G) / 255
			dst[2*plane+ix] = float32(p.B) / 255
		}
	}
	return nil
}

func (c *Converter) fit(img image.Image) (image.Image, error) {
	b := img.Bounds()
	w, h := c.Config.Width, c.Config.Height
	if b.Dx() == w && b.Dy() == h {
		return img, nil
	}
	switch c.Config.Policy {
	case Resize:
		return resize.Resize(uint(w), uint(h), img, resize.Lanczos3), nil
	case Crop:
		if b.Dx() < w || b.Dy() < h {
			return nil, fmt.Errorf("%w: %dx%d is smaller than %dx%d", ErrSize, b.Dx(), b.Dy(), w, h)
		}
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		sp := image.Pt(b.Min.X+(b.Dx()-w)/2, b.Min.Y+(b.Dy()-h)/2)
		draw.Draw(dst, dst.Bounds(), img, sp, draw.Src)
		return dst, nil
	}
	return nil, fmt.Errorf("%w: got %dx%d, want %dx%d", ErrSize, b.Dx(), b.Dy(), w, h)
}
