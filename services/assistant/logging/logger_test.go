// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_FileOutput(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := Setup(Config{Service: "assistant-server", Dir: dir})
	require.NoError(t, err)

	logger.Info("his push processed", "message_id", "his_x", "pat_no", "P1")
	require.NoError(t, closeFn())

	path := filepath.Join(dir,
		"assistant-server_"+time.Now().Format("2006-01-02")+".log")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry))
	assert.Equal(t, "his push processed", entry["msg"])
	assert.Equal(t, "assistant-server", entry["service"])
	assert.Equal(t, "P1", entry["pat_no"])
}

func TestSetup_LevelFilter(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := Setup(Config{Level: slog.LevelWarn, Service: "assistant-server", Dir: dir})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(filepath.Join(dir,
		"assistant-server_"+time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dropped")
	assert.Contains(t, string(raw), "kept")
}

func TestSetup_NoDir(t *testing.T) {
	logger, closeFn, err := Setup(Config{Service: "assistant-server"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.NoError(t, closeFn())
}
