package model

// Metadata describes the tensors of an exported model.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
}

// InputSize is the number of values fed to one forward pass.
func (m Metadata) InputSize() int { return size(m.InputShape) }

// OutputSize is the number of values returned by one forward pass.
func (m Metadata) OutputSize() int { return size(m.OutputShape) }

func size(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
