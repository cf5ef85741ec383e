package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://taxlink@localhost/taxlink")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("AUTHORITY_SOFTWARE_ID", "HU12345678-TAXLNK")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 100, cfg.SubmissionBatchSize)
	assert.Equal(t, 10*time.Minute, cfg.RecoveryWindow)
	assert.Equal(t, 15*time.Minute, cfg.RecoveryGrace)
	assert.Equal(t, 60*time.Second, cfg.AuthorityTimeout)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SUBMISSION_BATCH_SIZE", "25")
	t.Setenv("RECOVERY_GRACE", "1h")
	t.Setenv("AUTHORITY_COMPRESS", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.SubmissionBatchSize)
	assert.Equal(t, time.Hour, cfg.RecoveryGrace)
	assert.True(t, cfg.AuthorityCompress)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_DotEnvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POSTABLE_EXPR=is_base\nWORKER_LIMIT=7\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("POSTABLE_EXPR")
		os.Unsetenv("WORKER_LIMIT")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "is_base", cfg.PostableExpr)
	assert.Equal(t, 7, cfg.WorkerLimit)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"BatchTooLarge", "SUBMISSION_BATCH_SIZE", "101"},
		{"BadLogLevel", "LOG_LEVEL", "verbose"},
		{"ShortSecret", "JWT_SECRET", "short"},
		{"BadAuthorityURL", "AUTHORITY_BASE_URL", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}
