package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openebl/localca/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: {{ .LOCALCA_TEST_DB_HOST }}
  port: 5432
key_passphrase: ${LOCALCA_TEST_PASSPHRASE}
`), 0644))
	t.Setenv("LOCALCA_TEST_DB_HOST", "db.internal")
	t.Setenv("LOCALCA_TEST_PASSPHRASE", "s3cret")

	var cfg struct {
		Database struct {
			Host string `yaml:"host"`
			Port int    `yaml:"port"`
		} `yaml:"database"`
		KeyPassphrase string `yaml:"key_passphrase"`
	}
	require.NoError(t, config.FromFile(path, &cfg))
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "s3cret", cfg.KeyPassphrase)

	assert.Error(t, config.FromFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))
}
