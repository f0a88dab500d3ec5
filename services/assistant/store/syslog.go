// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"log/slog"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
)

// WriteSystemLog records an unexpected failure for the admin surface.
// Best effort: an insert failure is logged and swallowed so the caller's
// error path stays clean.
func (s *Store) WriteSystemLog(ctx context.Context, rec *models.SystemLog) {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		slog.Warn("system log insert failed",
			"module", rec.Module,
			"operation", rec.Operation,
			"error", err)
	}
}
