// Package tensor holds the dense arrays produced by dataset preparation and
// the binary format they are persisted in.
package tensor

import "fmt"

// DType names the element type of a persisted array.
type DType string

const (
	Float32Type DType = "f32"
	Int64Type   DType = "i64"
)

// Array is a dense, row-major array with a fixed shape. It is implemented by
// Float32 and Int64 only.
type Array interface {
	DType() DType
	Dims() []int
	Size() int
	appendData(dst []byte, from, to int) []byte
	setData(src []byte, from int)
}

// Float32 is a dense float32 array. Image arrays use the axis order
// (observation, channel, row, column).
type Float32 struct {
	Shape []int
	Data  []float32
}

// NewFloat32 allocates a zeroed array of the given shape.
func NewFloat32(shape ...int) *Float32 {
	return &Float32{Shape: append([]int(nil), shape...), Data: make([]float32, prod(shape))}
}

func (a *Float32) DType() DType { return Float32Type }

func (a *Float32) Dims() []int { return a.Shape }

func (a *Float32) Size() int { return len(a.Data) }

// Len returns the size of the first axis.
func (a *Float32) Len() int { return first(a.Shape) }

// Stride is the number of elements per entry of the first axis.
func (a *Float32) Stride() int { return stride(a.Shape) }

// Observation returns the elements of entry i along the first axis. The
// returned slices for distinct i never overlap and cannot be grown into
// a neighbour, so each one can be handed to a different goroutine.
func (a *Float32) Observation(i int) []float32 {
	s := a.Stride()
	return a.Data[i*s : (i+1)*s : (i+1)*s]
}

// Int64 is a dense int64 array. Label arrays are one dimensional.
type Int64 struct {
	Shape []int
	Data  []int64
}

// NewInt64 allocates a zeroed array of the given shape.
func NewInt64(shape ...int) *Int64 {
	return &Int64{Shape: append([]int(nil), shape...), Data: make([]int64, prod(shape))}
}

// FromInt64s wraps values as a one dimensional array.
func FromInt64s(values []int64) *Int64 {
	return &Int64{Shape: []int{len(values)}, Data: values}
}

func (a *Int64) DType() DType { return Int64Type }

func (a *Int64) Dims() []int { return a.Shape }

func (a *Int64) Size() int { return len(a.Data) }

// Len returns the size of the first axis.
func (a *Int64) Len() int { return first(a.Shape) }

func (a *Float32) String() string {
	return fmt.Sprintf("Float32%v", a.Shape)
}

func (a *Int64) String() string {
	return fmt.Sprintf("Int64%v", a.Shape)
}

func prod(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func first(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	return shape[0]
}

func stride(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	return prod(shape[1:])
}
