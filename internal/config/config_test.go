package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Dialect)
	assert.Equal(t, 30, cfg.Workflow.ReviewSLADays)
	assert.Equal(t, 14, cfg.Workflow.ApprovalSLADays)
	assert.Equal(t, []string{"console"}, cfg.Notifications.DefaultRoute)
}

func TestLoadYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dialect: mysql
  driver: mysql
  dsn: user:pass@tcp(db:3306)/edms?parseTime=true
organization:
  name: Acme Pharma
  system_name: Acme EDMS
workflow:
  review_sla_days: 21
placeholders:
  SITE_CODE: DE-01
notifications:
  admins: [admin-1, admin-2]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Dialect)
	assert.Equal(t, "Acme Pharma", cfg.Organization.Name)
	assert.Equal(t, 21, cfg.Workflow.ReviewSLADays)
	assert.Equal(t, 14, cfg.Workflow.ApprovalSLADays) // default survives partial override
	assert.Equal(t, "DE-01", cfg.Placeholders["SITE_CODE"])
	assert.Equal(t, []string{"admin-1", "admin-2"}, cfg.Notifications.Admins)
	assert.Equal(t, 21*24*60*60, int(cfg.Workflow.ReviewSLA().Seconds()))
}

func TestRenderMasksDSNCredentials(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Database.DSN = "user:secret@tcp(db:3306)/edms"

	out, err := cfg.Render()
	require.NoError(t, err)
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "***@tcp(db:3306)/edms")
}

func TestLoadRejectsUnknownDialect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  dialect: oracle\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database dialect")
}
