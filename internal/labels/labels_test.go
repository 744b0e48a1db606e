package labels

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/plates/internal/manifest"
)

func observations(split manifest.Split, labels ...string) []manifest.Observation {
	obs := make([]manifest.Observation, len(labels))
	for i, label := range labels {
		obs[i] = manifest.Observation{Path: filepath.Join("/data", label, "img.png"), Label: label, Split: split}
	}
	return obs
}

func TestBuild(t *testing.T) {
	m := Build(observations(manifest.Train, "b", "a", "a", "Z", "b"))
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"Z", "a", "b"}, m.Labels())
	for want, label := range m.Labels() {
		id, err := m.ID(label)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	train := observations(manifest.Train, "delta", "alpha", "charlie", "bravo", "alpha")
	first := Build(train)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first.Labels(), Build(train).Labels()); diff != "" {
			t.Fatalf("maps differ (-first +again):\n%s", diff)
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	m := Build(nil)
	assert.Equal(t, 0, m.Len())
	_, err := m.Label(0)
	assert.ErrorIs(t, err, ErrUnknownID)
}

func TestEncode(t *testing.T) {
	m := Build(observations(manifest.Train, "a", "a", "b"))

	train, err := m.Encode(observations(manifest.Train, "a", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 1}, train.Data)
	assert.Equal(t, []int{3}, train.Shape)

	test, err := m.Encode(observations(manifest.Test, "a"))
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, test.Data)
}

func TestEncodeUnseenLabel(t *testing.T) {
	m := Build(observations(manifest.Train, "a", "b"))
	_, err := m.Encode(observations(manifest.Valid, "a", "c"))
	require.ErrorIs(t, err, ErrUnseenLabel)
	assert.Contains(t, err.Error(), `"c"`)
}

func TestLabel(t *testing.T) {
	m := Build(observations(manifest.Train, "x", "y"))
	label, err := m.Label(1)
	require.NoError(t, err)
	assert.Equal(t, "y", label)

	for _, id := range []int{-1, 2} {
		_, err := m.Label(id)
		assert.ErrorIs(t, err, ErrUnknownID)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	m := Build(observations(manifest.Train, "a", "b", "a"))
	require.NoError(t, m.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":0,"b":1}`, string(data))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Labels(), loaded.Labels())
}

func TestLoadCorrupt(t *testing.T) {
	tests := map[string]string{
		"syntax":    `{"a":0,`,
		"duplicate": `{"a":0,"b":0}`,
		"gap":       `{"a":0,"b":2}`,
		"negative":  `{"a":-1}`,
		"type":      `["a","b"]`,
		"empty":     `{}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "labels.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := Load(path)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}
