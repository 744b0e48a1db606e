package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/plates/internal/convert"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"PLATES_DATA_DIR", "PLATES_WORKERS", "ONNXRUNTIME_SHARED_LIBRARY", "PORT"} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, convert.Strict, cfg.Image.Policy)
	assert.Equal(t, filepath.Join("data", "plates", "plates.csv"), cfg.ManifestPath())
	assert.Equal(t, filepath.Join("data", "norm.json"), cfg.NormalizationPath())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "plates.yaml")

	cfg := DefaultConfig()
	cfg.DataDir = "/srv/plates"
	cfg.Image.Policy = convert.Crop
	cfg.Image.Height = 64
	cfg.Workers = 3
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, "/srv/plates/labels.json", loaded.LabelMapPath())
}

func TestLoadPartialFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "plates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image:\n  height: 32\n  width: 32\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Image.Height)
	assert.Equal(t, 3, cfg.Image.Channels)
	assert.Equal(t, "norm.json", cfg.Artifacts.Normalization)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image: [unterminated"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("values", func(t *testing.T) {
		t.Setenv("PLATES_DATA_DIR", "/mnt/data")
		t.Setenv("PLATES_WORKERS", "7")
		t.Setenv("ONNXRUNTIME_SHARED_LIBRARY", "/opt/onnxruntime.so")
		t.Setenv("PORT", "9090")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "/mnt/data", cfg.DataDir)
		assert.Equal(t, 7, cfg.Workers)
		assert.Equal(t, "/opt/onnxruntime.so", cfg.Model.SharedLibrary)
		assert.Equal(t, "9090", cfg.Server.Port)
	})

	t.Run("bad workers", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PLATES_WORKERS", "many")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *Config){
		"empty data dir":   func(c *Config) { c.DataDir = "" },
		"negative workers": func(c *Config) { c.Workers = -1 },
		"bad channels":     func(c *Config) { c.Image.Channels = 4 },
		"bad policy":       func(c *Config) { c.Image.Policy = "stretch" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "/abs/norm.json", cfg.Path("/abs/norm.json"))
	assert.Equal(t, "", cfg.Path(""))
}
