package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/fruitbeast/internal/database"
	"github.com/franckalain/fruitbeast/internal/ml"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("ML_TYPE", "local")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "./static", cfg.Server.StaticDir)
	assert.Equal(t, database.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, ml.BackendLocal, cfg.ML.Type)
	assert.Equal(t, "gemini-2.5-flash-preview-05-20", cfg.ML.Model)
	assert.Equal(t, "0 15 * * *", cfg.Reminders.Schedule)
	assert.Contains(t, cfg.Server.AllowedOrigins, "http://localhost:5173")
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
  debug: true
database:
  path: /tmp/fruit.db
ml:
  type: gemini
  api_key: from-file
  timeout: 45s
auth:
  enabled: true
  jwt_secret: s3cret
reminders:
  schedule: "30 10 * * *"
logging:
  level: debug
  format: console
`)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ML_API_KEY", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/tmp/fruit.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.ML.APIKey)
	assert.Equal(t, 45*time.Second, cfg.ML.Timeout)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "30 10 * * *", cfg.Reminders.Schedule)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfig_GeminiKeyFallback(t *testing.T) {
	path := writeConfig(t, "ml:\n  type: gemini\n")
	t.Setenv("GEMINI_API_KEY", "conventional")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "conventional", cfg.ML.APIKey)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	cases := map[string]string{
		"empty port":      "server:\n  port: \"\"\nml:\n  type: local\n",
		"missing api key": "ml:\n  type: gemini\n",
		"unknown backend": "ml:\n  type: crystal-ball\n",
		"auth no secret":  "ml:\n  type: local\nauth:\n  enabled: true\n",
		"bad log level":   "ml:\n  type: local\nlogging:\n  level: loud\n",
		"malformed yaml":  "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	key, val := envKey("SERVER_STATIC_DIR", "/srv")
	assert.Equal(t, "server.static_dir", key)
	assert.Equal(t, "/srv", val)

	key, _ = envKey("PATH", "/usr/bin")
	assert.Empty(t, key)
	key, _ = envKey("GEMINI_API_KEY", "k")
	assert.Empty(t, key)
	key, _ = envKey("ML_", "x")
	assert.Empty(t, key)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("FRUITBEAST_CONFIG", "/etc/fruitbeast.yaml")
	assert.Equal(t, "/etc/fruitbeast.yaml", GetConfigPath())
}
