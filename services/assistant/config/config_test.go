// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("ai_service:\n  base_url: http://ai.internal:8001\n"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/rimagai/checkitem/recommend_item_with_reason", cfg.AIService.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.AIService.Timeout())
	assert.Equal(t, "CHKR01", cfg.HIS.ServiceID)
	assert.Equal(t, "EXAM001", cfg.HIS.SceneType)
	assert.Equal(t, 5, cfg.Relay.CacheWindowMinutes)
	assert.Equal(t, "@hourly", cfg.Retention.Schedule)
}

func TestParse_FileValues(t *testing.T) {
	raw := `
server:
  host: 127.0.0.1
  port: 9000
database:
  driver: mysql
  host: db.internal
  user: assistant
  password: secret
  database: assistant_management
ai_service:
  base_url: http://ai.internal:8001
  timeout_seconds: 60
his:
  service_id: CHKR02
retention:
  schedule: "0 */2 * * *"
`
	cfg, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.AIService.Timeout())
	assert.Equal(t, "CHKR02", cfg.HIS.ServiceID)
	assert.Equal(t, "0 */2 * * *", cfg.Retention.Schedule)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("ASSISTANT_PORT", "9100")
	t.Setenv("AI_SERVICE_BASE_URL", "http://override:8001")
	t.Setenv("AI_SERVICE_TIMEOUT", "15")

	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "http://override:8001", cfg.AIService.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.AIService.Timeout())
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")

	_, err = Parse([]byte("database:\n  driver: postgres\nai_service:\n  base_url: http://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver")

	_, err = Parse([]byte("database:\n  driver: mysql\nai_service:\n  base_url: http://x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.user")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AI_SERVICE_BASE_URL", "http://ai.internal:8001")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path,
		[]byte("server:\n  port: 9200\nai_service:\n  base_url: http://ai.internal:8001\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestDSN(t *testing.T) {
	dsn := DatabaseConfig{
		User: "assistant", Password: "secret",
		Host: "db.internal", Port: 3306, Database: "assistant_management",
	}.DSN()
	assert.Equal(t,
		"assistant:secret@tcp(db.internal:3306)/assistant_management?parseTime=true&charset=utf8mb4",
		dsn)
}
