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
	"fmt"
	"time"

	"github.com/itsoYang/rimag-assistant-platform/services/assistant/models"
)

// CreateTrace inserts the root record for one external request.
func (s *Store) CreateTrace(ctx context.Context, rec *models.TraceRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create trace %s: %w", rec.TraceID, err)
	}
	return nil
}

// FinishTrace writes the end time, total duration and final status.
func (s *Store) FinishTrace(ctx context.Context, traceID, status string, end time.Time, durationMs int64) error {
	err := s.db.WithContext(ctx).Model(&models.TraceRecord{}).
		Where("trace_id = ?", traceID).
		Updates(map[string]any{
			"end_time":          &end,
			"total_duration_ms": durationMs,
			"status":            status,
		}).Error
	if err != nil {
		return fmt.Errorf("finish trace %s: %w", traceID, err)
	}
	return nil
}

// CreateSpan inserts one sub-operation record under a trace.
func (s *Store) CreateSpan(ctx context.Context, rec *models.SpanRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create span %s: %w", rec.SpanID, err)
	}
	return nil
}

// FinishSpan writes the end time, duration, status and captured payloads.
func (s *Store) FinishSpan(ctx context.Context, spanID, status string, end time.Time, durationMs int64, responseData, errMsg string) error {
	err := s.db.WithContext(ctx).Model(&models.SpanRecord{}).
		Where("span_id = ?", spanID).
		Updates(map[string]any{
			"end_time":      &end,
			"duration_ms":   durationMs,
			"status":        status,
			"response_data": responseData,
			"error_message": errMsg,
		}).Error
	if err != nil {
		return fmt.Errorf("finish span %s: %w", spanID, err)
	}
	return nil
}

// GetTrace returns one trace with its spans ordered by start time.
func (s *Store) GetTrace(ctx context.Context, traceID string) (*models.TraceRecord, []models.SpanRecord, error) {
	var trace models.TraceRecord
	err := s.db.WithContext(ctx).Where("trace_id = ?", traceID).First(&trace).Error
	if err != nil {
		if err := notFound(err); err == ErrNotFound {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get trace %s: %w", traceID, err)
	}
	var spans []models.SpanRecord
	err = s.db.WithContext(ctx).Where("trace_id = ?", traceID).
		Order("start_time").Find(&spans).Error
	if err != nil {
		return nil, nil, fmt.Errorf("get spans %s: %w", traceID, err)
	}
	return &trace, spans, nil
}
