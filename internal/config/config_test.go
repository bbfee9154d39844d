package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	cfg, err := LoadServer(nil)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 2, cfg.Sessions)
	assert.True(t, cfg.RequireModel)
	assert.False(t, cfg.LegacyStatus)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, time.Hour, cfg.ResultTTL)
	assert.Equal(t, "bicubic", cfg.ResizeFilter)
	assert.True(t, filepath.IsAbs(cfg.ModelPath))
	assert.Equal(t, "skin_lesion_model.onnx", filepath.Base(cfg.ModelPath))
	assert.Empty(t, cfg.LabelsPath)
}

func TestLoadServerEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ONCO_LEGACY_STATUS", "true")
	t.Setenv("ONCO_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ONCO_RESULT_STORE", "memory")
	t.Setenv("ONCO_PREDICT_TIMEOUT", "3s")
	t.Setenv("ONCO_MODEL_PATH", "/opt/models/lesion.onnx")

	cfg, err := LoadServer(nil)
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.LegacyStatus)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "memory", cfg.ResultStore)
	assert.Equal(t, 3*time.Second, cfg.PredictTimeout)
	assert.Equal(t, "/opt/models/lesion.onnx", cfg.ModelPath)
}

func TestLoadServerFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	cfg, err := LoadServer([]string{"-port", "7000", "-sessions", "4", "-require-model=false"})
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, 4, cfg.Sessions)
	assert.False(t, cfg.RequireModel)
}

func TestLoadServerInvalid(t *testing.T) {
	t.Setenv("PORT", "")
	for name, args := range map[string][]string{
		"port":          {"-port", "http"},
		"sessions":      {"-sessions", "0"},
		"result store":  {"-result-store", "postgres"},
		"resize filter": {"-resize-filter", "sinc"},
		"upload limit":  {"-max-upload-bytes", "0"},
		"cors":          {"-cors-origins", " , "},
		"unknown flag":  {"-verbose"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadServer(args)
			assert.Error(t, err)
		})
	}
}

func TestLoadCLI(t *testing.T) {
	cfg, err := LoadCLI([]string{"-probabilities", "lesion.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "lesion.jpg", cfg.ImagePath)
	assert.True(t, cfg.Probabilities)
	assert.False(t, cfg.NoFallback)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, filepath.IsAbs(cfg.MetadataPath))
}

func TestLoadCLIArgumentCount(t *testing.T) {
	_, err := LoadCLI(nil)
	require.Error(t, err)
	assert.Equal(t, "Please provide an image path", err.Error())

	_, err = LoadCLI([]string{"a.jpg", "b.jpg"})
	assert.EqualError(t, err, "Please provide an image path")
}

func TestLoadCLIRemoteSkipsArtifacts(t *testing.T) {
	cfg, err := LoadCLI([]string{"-remote", "http://localhost:8080", "-model", "", "lesion.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.Remote)
	assert.Empty(t, cfg.ModelPath)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "", resolvePath("/srv", ""))
	assert.Equal(t, "/abs/model.onnx", resolvePath("/srv", "/abs/model.onnx"))
	assert.Equal(t, filepath.Join("/srv", "models", "m.onnx"), resolvePath("/srv", "models/m.onnx"))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("ONCO_X_BOOL", "yes")
	t.Setenv("ONCO_X_INT", "nope")
	t.Setenv("ONCO_X_DUR", "250ms")

	assert.True(t, envBool("ONCO_X_BOOL", false))
	assert.True(t, envBool("ONCO_X_UNSET", true))
	assert.Equal(t, 5, envInt("ONCO_X_INT", 5))
	assert.Equal(t, 250*time.Millisecond, envDuration("ONCO_X_DUR", time.Second))
	assert.Equal(t, "fallback", envOr("ONCO_X_UNSET", "fallback"))
}
