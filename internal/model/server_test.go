package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMetadata(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMetadata(t *testing.T) {
	path := writeMetadata(t, `{"input_shape":[1,3,128,224],"output_shape":[1,50]}`)
	m, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "input", m.InputName)
	assert.Equal(t, "output", m.OutputName)
	assert.Equal(t, 3*128*224, m.InputSize())
	assert.Equal(t, 50, m.OutputSize())
}

func TestLoadMetadataInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"syntax":     `{"input_shape":`,
		"no output":  `{"input_shape":[1,3,2,2]}`,
		"zero input": `{"input_shape":[0,3,2,2],"output_shape":[1,2]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMetadata(writeMetadata(t, content))
			assert.ErrorIs(t, err, ErrMetadata)
		})
	}
}

func TestNewServerMissingModel(t *testing.T) {
	meta := writeMetadata(t, `{"input_shape":[1,3,2,2],"output_shape":[1,2]}`)
	_, err := NewServer(filepath.Join(t.TempDir(), "absent.onnx"), meta, "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewServerMissingMetadata(t *testing.T) {
	_, err := NewServer("model.onnx", filepath.Join(t.TempDir(), "absent.json"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
