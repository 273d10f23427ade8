package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
logging:
  level: debug
budget:
  default_preset: low
router:
  slm_providers: ["ollama"]
  llm_providers: ["anthropic"]
  prefer_efficient_models: true
energy:
  enabled: true
  energy_weight: 0.4
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "low", cfg.Budget.DefaultPreset)
	assert.Equal(t, []string{"ollama"}, cfg.Router.SLMProviders)
	assert.True(t, cfg.Router.PreferEfficientModels)
	assert.True(t, cfg.Energy.Enabled)
	assert.InDelta(t, 0.4, cfg.Energy.EnergyWeight, 1e-9)

	// Defaults fill unspecified fields.
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "ampere", cfg.Observability.ServiceName)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "no providers",
			content: "logging:\n  level: info\n",
		},
		{
			name:    "unknown preset",
			content: "budget:\n  default_preset: colossal\nrouter:\n  slm_providers: [\"ollama\"]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("AMPERE_TEST_PROVIDER", "ollama")

	assert.Equal(t, "ollama", ExpandEnv("${AMPERE_TEST_PROVIDER}"))
	assert.Equal(t, "prefix-ollama", ExpandEnv("prefix-${AMPERE_TEST_PROVIDER}"))
	assert.Equal(t, "", ExpandEnv("${AMPERE_UNSET_VARIABLE}"))
	assert.Equal(t, "plain", ExpandEnv("plain"))
}

func TestLoad_ExpandsProviderEnv(t *testing.T) {
	t.Setenv("AMPERE_TEST_SLM", "ollama")

	cfg, err := Load(writeConfig(t, `
router:
  slm_providers: ["${AMPERE_TEST_SLM}"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama"}, cfg.Router.SLMProviders)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("AMPERE_DOTENV_VALUE=from-file\n"), 0o644))

	require.NoError(t, LoadDotEnv(envPath))
	assert.Equal(t, "from-file", os.Getenv("AMPERE_DOTENV_VALUE"))
	t.Cleanup(func() { os.Unsetenv("AMPERE_DOTENV_VALUE") })

	// Missing files are not an error.
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
