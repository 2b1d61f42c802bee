package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: storesync
  environment: test
database:
  path: /tmp/storesync.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, 50, cfg.Queue.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Queue.Lease)
	assert.Equal(t, 30, cfg.Retention.MaxAgeDays)
	assert.Equal(t, 7, cfg.Retention.SoftAgeDays)
	assert.Equal(t, 1000, cfg.Retention.MaxRows)
}

func TestLoadMissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
app:
  name: storesync
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("STORESYNC_DB_PATH", "/tmp/env.db")
	path := writeConfig(t, `
database:
  path: ${STORESYNC_DB_PATH}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoadWebhookRoutes(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/storesync.db
webhooks:
  routes:
    - action: product.updated
      tasks:
        - type: product-import
          type_group: product
          title: Import product
          id_field: product_id
    - action: order.created
      tasks:
        - type: order-export
          type_group: orders
          id_field: order_id
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks.Routes, 2)
	assert.Equal(t, "product-import", cfg.Webhooks.Routes[0].Tasks[0].Type)
	assert.Equal(t, "order_id", cfg.Webhooks.Routes[1].Tasks[0].IDField)
}

func TestValidateWebhookRoutes(t *testing.T) {
	t.Run("DuplicateAction", func(t *testing.T) {
		err := ValidateWebhookRoutes([]WebhookRoute{
			{Action: "product.updated", Tasks: []WebhookTask{{Type: "a"}}},
			{Action: "product.updated", Tasks: []WebhookTask{{Type: "b"}}},
		})
		assert.Error(t, err)
	})

	t.Run("EmptyTaskType", func(t *testing.T) {
		err := ValidateWebhookRoutes([]WebhookRoute{
			{Action: "product.updated", Tasks: []WebhookTask{{Type: ""}}},
		})
		assert.Error(t, err)
	})

	t.Run("Valid", func(t *testing.T) {
		err := ValidateWebhookRoutes([]WebhookRoute{
			{Action: "product.updated", Tasks: []WebhookTask{{Type: "product-import"}}},
		})
		assert.NoError(t, err)
	})
}

func TestRetentionValidation(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/storesync.db
retention:
  max_age_days: 5
  soft_age_days: 9
`)

	_, err := Load(path)
	assert.Error(t, err)
}
