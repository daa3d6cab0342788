package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("DATABASE_URL", "platform.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("WORKERS", "8")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("BASE_DOMAIN", "example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "tenant.provision", cfg.ProvisionQueue)
	assert.Equal(t, "example.com", cfg.BaseDomain)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}},
		{"bad driver", map[string]string{"DATABASE_URL": "x", "DB_DRIVER": "oracle"}},
		{"postgres stores need a dsn template", map[string]string{"DATABASE_URL": "x", "DB_DRIVER": "sqlite", "STORE_DRIVER": "postgres", "TENANT_DSN_TEMPLATE": ""}},
		{"bad workers", map[string]string{"DATABASE_URL": "x", "DB_DRIVER": "sqlite", "STORE_DRIVER": "sqlite", "WORKERS": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
